package testutil

import (
	"github.com/mobiletester/mt-api/internal/domain/model"
)

// JobRequest returns a valid CreateJobRequest with overridable defaults.
func JobRequest(mutate ...func(*model.CreateJobRequest)) *model.CreateJobRequest {
	req := &model.CreateJobRequest{
		OwnerID:      "owner-1",
		ArtifactRef:  "apks/owner-1/app.apk",
		ArtifactName: "app.apk",
		Context:      "smoke test build",
		DeviceIDs:    []string{"pixel_7", "samsung_galaxy_s24"},
	}
	for _, m := range mutate {
		m(req)
	}
	return req
}

// PassedResult returns a passing TestResult for the given device.
func PassedResult(deviceID string, durationSeconds int) model.TestResult {
	return model.TestResult{
		DeviceID:        deviceID,
		Outcome:         model.OutcomePassed,
		DurationSeconds: durationSeconds,
		Log:             "OK (12 tests)",
	}
}

// FailedResult returns a failing TestResult with the given log text.
func FailedResult(deviceID string, durationSeconds int, logText string) model.TestResult {
	return model.TestResult{
		DeviceID:        deviceID,
		Outcome:         model.OutcomeFailed,
		DurationSeconds: durationSeconds,
		Log:             logText,
	}
}

// Report returns a minimal valid report.
func Report(summary string) *model.Report {
	return &model.Report{
		Summary:     summary,
		PassRate:    100,
		Issues:      []model.Issue{},
		GeneratedBy: "rules",
	}
}
