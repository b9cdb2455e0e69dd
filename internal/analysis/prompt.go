package analysis

import (
	"fmt"
	"strings"

	"github.com/mobiletester/mt-api/internal/core"
)

// buildPrompt renders the user prompt for the completion request: one block
// per device result followed by the required response shape.
func buildPrompt(params core.AnalyzeParams) string {
	var results strings.Builder
	for _, result := range params.Results {
		fmt.Fprintf(&results, "Device: %s\n", result.DeviceID)
		fmt.Fprintf(&results, "Status: %s\n", result.Outcome)
		fmt.Fprintf(&results, "Duration: %ds\n", result.DurationSeconds)
		fmt.Fprintf(&results, "Logs: %s\n", result.Log)
		if len(result.Screenshots) > 0 {
			fmt.Fprintf(&results, "Screenshots: %d\n", len(result.Screenshots))
		}
		results.WriteString("---\n")
	}

	contextText := params.Context
	if contextText == "" {
		contextText = "No context provided"
	}

	return fmt.Sprintf(`Analyze the following Android APK test results and provide a comprehensive bug report.

APP INFORMATION:
Name: %s
Context: %s

TEST RESULTS:
%s

Please analyze these results and respond with a JSON object in this exact format:
{
  "summary": "A brief overview of the test results and overall app health (2-3 sentences)",
  "issues": [
    {
      "title": "Brief issue title",
      "description": "Detailed description of the issue",
      "severity": "low|medium|high|critical",
      "fix": "Specific actionable steps to fix this issue",
      "device": "Device name where this issue occurred (optional)"
    }
  ]
}

Focus on:
1. Crashes, ANRs, and fatal errors (critical/high severity)
2. Performance issues and slow responses (medium severity)
3. UI/UX issues and minor bugs (low/medium severity)
4. Compatibility issues across devices
5. Actionable fix suggestions based on common Android development patterns

If no issues are found, still provide the summary and include any recommendations for improvement.`,
		params.ArtifactName, contextText, results.String())
}
