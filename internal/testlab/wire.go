package testlab

import (
	"strings"

	"github.com/mobiletester/mt-api/internal/domain/model"
)

// Wire types for the device lab's test matrix API. Responses are decoded
// tolerantly: every field the provider may omit is optional here and mapped
// to a documented default rather than an error.

type androidDevice struct {
	AndroidModelID   string `json:"androidModelId"`
	AndroidVersionID string `json:"androidVersionId"`
	Locale           string `json:"locale"`
	Orientation      string `json:"orientation"`
}

type androidDeviceList struct {
	AndroidDevices []androidDevice `json:"androidDevices"`
}

type fileReference struct {
	GCSPath string `json:"gcsPath"`
}

type instrumentationTest struct {
	TestAPK     fileReference `json:"testApk"`
	AppAPK      fileReference `json:"appApk"`
	TestTimeout string        `json:"testTimeout"`
}

type testSpecification struct {
	AndroidInstrumentationTest instrumentationTest `json:"androidInstrumentationTest"`
}

type environmentMatrix struct {
	AndroidDeviceList androidDeviceList `json:"androidDeviceList"`
}

type googleCloudStorage struct {
	GCSPath string `json:"gcsPath"`
}

type resultStorage struct {
	GoogleCloudStorage googleCloudStorage `json:"googleCloudStorage"`
}

type testMatrixRequest struct {
	TestSpecification testSpecification `json:"testSpecification"`
	EnvironmentMatrix environmentMatrix `json:"environmentMatrix"`
	ResultStorage     resultStorage     `json:"resultStorage"`
	ProjectID         string            `json:"projectId"`
}

type timestamp struct {
	Seconds int64 `json:"seconds"`
}

type toolResultsExecution struct {
	ExecutionID string `json:"executionId"`
	HistoryID   string `json:"historyId"`
}

type progressMessage struct {
	Message       string `json:"message"`
	ScreenshotURL string `json:"screenshotUrl"`
}

type videoRecording struct {
	VideoURL string `json:"videoUrl"`
}

type testDetails struct {
	ProgressMessages []progressMessage `json:"progressMessages"`
	VideoRecording   *videoRecording   `json:"videoRecording"`
}

type environment struct {
	AndroidDevice *androidDevice `json:"androidDevice"`
}

type testExecution struct {
	State                string                `json:"state"`
	Environment          *environment          `json:"environment"`
	ToolResultsExecution *toolResultsExecution `json:"toolResultsExecution"`
	TestDetails          *testDetails          `json:"testDetails"`
	CreationTime         *timestamp            `json:"creationTime"`
	CompletionTime       *timestamp            `json:"completionTime"`
}

type testMatrixResponse struct {
	TestMatrixID   string          `json:"testMatrixId"`
	State          string          `json:"state"`
	TestExecutions []testExecution `json:"testExecutions"`
	InvalidMatrix  string          `json:"invalidMatrixDetails"`
}

// mapMatrixState normalizes a provider matrix state. Every non-success state
// maps into exactly one of error or cancelled, never silently dropped.
func mapMatrixState(state string) model.MatrixState {
	switch state {
	case "VALIDATING", "PENDING":
		return model.MatrixPending
	case "RUNNING":
		return model.MatrixRunning
	case "FINISHED":
		return model.MatrixFinished
	case "CANCELLED":
		return model.MatrixCancelled
	default:
		// ERROR, UNSUPPORTED_ENVIRONMENT, INCOMPATIBLE_ENVIRONMENT,
		// INCOMPATIBLE_ARCHITECTURE, INVALID, and anything unexpected.
		return model.MatrixError
	}
}

// mapExecutionOutcome normalizes a per-device execution state.
func mapExecutionOutcome(state string) model.DeviceOutcome {
	switch state {
	case "FINISHED":
		return model.OutcomePassed
	case "SKIPPED", "CANCELLED":
		return model.OutcomeSkipped
	default:
		return model.OutcomeFailed
	}
}

// executionDuration returns the execution's wall-clock seconds, or 0 when the
// provider omitted either timestamp.
func executionDuration(exec *testExecution) int {
	if exec.CreationTime == nil || exec.CompletionTime == nil {
		return 0
	}
	d := exec.CompletionTime.Seconds - exec.CreationTime.Seconds
	if d < 0 {
		return 0
	}
	return int(d)
}

// executionResult converts a provider execution into a normalized TestResult,
// applying defaults for every field the provider may omit.
func executionResult(exec *testExecution) model.TestResult {
	deviceID := "unknown"
	if exec.Environment != nil && exec.Environment.AndroidDevice != nil &&
		exec.Environment.AndroidDevice.AndroidModelID != "" {
		deviceID = exec.Environment.AndroidDevice.AndroidModelID
	}

	var logLines []string
	var screenshots []string
	var videoRef *string
	if exec.TestDetails != nil {
		for _, msg := range exec.TestDetails.ProgressMessages {
			if msg.Message != "" {
				logLines = append(logLines, msg.Message)
			}
			if msg.ScreenshotURL != "" {
				screenshots = append(screenshots, msg.ScreenshotURL)
			}
		}
		if exec.TestDetails.VideoRecording != nil && exec.TestDetails.VideoRecording.VideoURL != "" {
			v := exec.TestDetails.VideoRecording.VideoURL
			videoRef = &v
		}
	}

	return model.TestResult{
		DeviceID:        deviceID,
		Outcome:         mapExecutionOutcome(exec.State),
		DurationSeconds: executionDuration(exec),
		Log:             strings.Join(logLines, "\n"),
		Screenshots:     screenshots,
		VideoRef:        videoRef,
	}
}
