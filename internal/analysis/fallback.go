package analysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/mobiletester/mt-api/internal/domain/model"
)

// slowExecutionThresholdSeconds flags device runs whose duration suggests a
// startup or performance problem.
const slowExecutionThresholdSeconds = 60

// fallbackAnalyze is the rule-based analysis path. It is deterministic: the
// same results always produce the same report, with no network calls.
func fallbackAnalyze(results []model.TestResult) *model.Report {
	report := &model.Report{
		Issues:      []model.Issue{},
		GeneratedBy: model.ReportSourceRules,
	}

	if len(results) == 0 {
		report.Summary = "Tested on 0 devices. No test results were produced for this run."
		return report
	}

	for i := range results {
		result := &results[i]
		if result.Outcome != model.OutcomeFailed {
			continue
		}
		log := strings.ToLower(result.Log)
		device := result.DeviceID

		if strings.Contains(log, "anr") {
			report.Issues = append(report.Issues, model.Issue{
				Title: "Application Not Responding (ANR)",
				Description: fmt.Sprintf(
					"ANR detected on %s. The app became unresponsive during testing.", device),
				Severity: model.SeverityHigh,
				Fix: "Move long-running operations to background threads. " +
					"Use coroutines, Thread, or ExecutorService for heavy computations.",
				DeviceID: &result.DeviceID,
			})
		}

		if strings.Contains(log, "crash") || strings.Contains(log, "exception") {
			report.Issues = append(report.Issues, model.Issue{
				Title: "Application Crash",
				Description: fmt.Sprintf(
					"Crash detected on %s. Check logs for exception details.", device),
				Severity: model.SeverityCritical,
				Fix: "Add proper exception handling, null checks, and validate input data. " +
					"Use try-catch blocks around risky operations.",
				DeviceID: &result.DeviceID,
			})
		}

		if result.DurationSeconds > slowExecutionThresholdSeconds {
			report.Issues = append(report.Issues, model.Issue{
				Title: "Slow Test Execution",
				Description: fmt.Sprintf(
					"Test took %d seconds on %s, indicating potential performance issues.",
					result.DurationSeconds, device),
				Severity: model.SeverityMedium,
				Fix: "Optimize app startup time, reduce memory usage, and minimize " +
					"network calls during initialization.",
				DeviceID: &result.DeviceID,
			})
		}
	}

	report.PassRate = passRate(results)
	report.Summary = fallbackSummary(len(results), report.PassRate, report.Issues)
	return report
}

func fallbackSummary(total, rate int, issues []model.Issue) string {
	summary := fmt.Sprintf("Tested on %d devices with %d%% pass rate. ", total, rate)

	if len(issues) == 0 {
		return summary + "No critical issues detected. App appears stable across tested devices."
	}

	var critical, high int
	for _, issue := range issues {
		switch issue.Severity {
		case model.SeverityCritical:
			critical++
		case model.SeverityHigh:
			high++
		}
	}

	switch {
	case critical > 0:
		return summary + fmt.Sprintf("%d critical issue(s) found requiring immediate attention.", critical)
	case high > 0:
		return summary + fmt.Sprintf("%d high-priority issue(s) found that should be addressed.", high)
	default:
		return summary + fmt.Sprintf("%d minor issue(s) found with recommendations for improvement.", len(issues))
	}
}

// passRate returns the percentage of passed results, rounded half-up.
func passRate(results []model.TestResult) int {
	if len(results) == 0 {
		return 0
	}
	var passed int
	for _, result := range results {
		if result.Outcome == model.OutcomePassed {
			passed++
		}
	}
	return int(math.Floor(float64(passed)/float64(len(results))*100 + 0.5))
}
