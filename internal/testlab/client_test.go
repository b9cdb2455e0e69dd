package testlab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/mobiletester/mt-api/internal/errors"

	"github.com/mobiletester/mt-api/internal/core"
	"github.com/mobiletester/mt-api/internal/domain/model"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientOptions{
		HTTPClient: srv.Client(),
		ProjectID:  "mt-test",
		BucketName: "mt-test-results",
		BaseURL:    srv.URL,
	})
	require.NoError(t, err)
	return client, srv
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(ClientOptions{ProjectID: "p"})
	require.Error(t, err)

	_, err = NewClient(ClientOptions{HTTPClient: http.DefaultClient})
	require.Error(t, err)
}

func TestClient_Start(t *testing.T) {
	var captured testMatrixRequest
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/projects/mt-test/testMatrices", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(testMatrixResponse{
			TestMatrixID: "matrix-123",
			State:        "PENDING",
		})
	}))

	started, err := client.Start(context.Background(), core.StartMatrixParams{
		ArtifactRef: "gs://mt-apks/owner-1/app.apk",
		DeviceIDs:   []string{"pixel_7", "samsung_galaxy_s24", "not_a_device"},
	})
	require.NoError(t, err)
	assert.Equal(t, "matrix-123", started.MatrixID)
	assert.Equal(t, model.MatrixPending, started.State)

	assert.Equal(t, "mt-test", captured.ProjectID)
	assert.Equal(t, "gs://mt-apks/owner-1/app.apk",
		captured.TestSpecification.AndroidInstrumentationTest.AppAPK.GCSPath)
	assert.Equal(t, "600s", captured.TestSpecification.AndroidInstrumentationTest.TestTimeout)
	assert.Equal(t, "gs://mt-test-results/", captured.ResultStorage.GoogleCloudStorage.GCSPath)

	specs := captured.EnvironmentMatrix.AndroidDeviceList.AndroidDevices
	require.Len(t, specs, 3, "every selected device must be in the matrix")
	assert.Equal(t, "panther", specs[0].AndroidModelID)
	assert.Equal(t, "33", specs[0].AndroidVersionID)
	assert.Equal(t, "sm-s908b", specs[1].AndroidModelID)
	// Unknown ids fall back to the default model and version.
	assert.Equal(t, "sm-g973", specs[2].AndroidModelID)
	assert.Equal(t, "29", specs[2].AndroidVersionID)
	for _, spec := range specs {
		assert.Equal(t, "en_US", spec.Locale)
		assert.Equal(t, "portrait", spec.Orientation)
	}
}

func TestClient_Start_CustomTimeout(t *testing.T) {
	var captured testMatrixRequest
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(testMatrixResponse{TestMatrixID: "m", State: "PENDING"})
	}))

	_, err := client.Start(context.Background(), core.StartMatrixParams{
		ArtifactRef:    "gs://mt-apks/a.apk",
		DeviceIDs:      []string{"pixel_7"},
		TimeoutSeconds: 120,
	})
	require.NoError(t, err)
	assert.Equal(t, "120s", captured.TestSpecification.AndroidInstrumentationTest.TestTimeout)
}

func TestClient_Start_DuplicateDevicesCollapse(t *testing.T) {
	var captured testMatrixRequest
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(testMatrixResponse{TestMatrixID: "m", State: "PENDING"})
	}))

	_, err := client.Start(context.Background(), core.StartMatrixParams{
		ArtifactRef: "gs://mt-apks/a.apk",
		DeviceIDs:   []string{"pixel_7", "pixel_7", "mystery_a", "mystery_b"},
	})
	require.NoError(t, err)
	// Two pixels collapse to one spec, and both unknown ids share the
	// default model so only one spec is sent for them.
	require.Len(t, captured.EnvironmentMatrix.AndroidDeviceList.AndroidDevices, 2)
}

func TestClient_Start_Rejected(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad matrix", http.StatusBadRequest)
	}))

	_, err := client.Start(context.Background(), core.StartMatrixParams{
		ArtifactRef: "gs://mt-apks/a.apk",
		DeviceIDs:   []string{"pixel_7"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsProviderRejected(err))
}

func TestClient_Start_MissingMatrixID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(testMatrixResponse{State: "PENDING"})
	}))

	_, err := client.Start(context.Background(), core.StartMatrixParams{
		ArtifactRef: "gs://mt-apks/a.apk",
		DeviceIDs:   []string{"pixel_7"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsProviderRejected(err))
}

func TestClient_Start_Validation(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	_, err := client.Start(context.Background(), core.StartMatrixParams{
		DeviceIDs: []string{"pixel_7"},
	})
	assert.True(t, apperrors.IsValidation(err))

	_, err = client.Start(context.Background(), core.StartMatrixParams{
		ArtifactRef: "gs://mt-apks/a.apk",
	})
	assert.True(t, apperrors.IsValidation(err))
}

func TestClient_Poll_Running(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/projects/mt-test/testMatrices/matrix-123", r.URL.Path)
		_ = json.NewEncoder(w).Encode(testMatrixResponse{
			TestMatrixID: "matrix-123",
			State:        "RUNNING",
		})
	}))

	snap, err := client.Poll(context.Background(), "matrix-123")
	require.NoError(t, err)
	assert.Equal(t, model.MatrixRunning, snap.State)
	assert.Empty(t, snap.Results, "results only collected once terminal")
}

func TestClient_Poll_Finished(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(testMatrixResponse{
			TestMatrixID: "matrix-123",
			State:        "FINISHED",
			TestExecutions: []testExecution{
				{
					State: "FINISHED",
					Environment: &environment{
						AndroidDevice: &androidDevice{AndroidModelID: "panther"},
					},
					TestDetails: &testDetails{
						ProgressMessages: []progressMessage{
							{Message: "Installing APK"},
							{Message: "Running tests", ScreenshotURL: "gs://shots/1.png"},
						},
						VideoRecording: &videoRecording{VideoURL: "gs://videos/run.mp4"},
					},
					CreationTime:   &timestamp{Seconds: 1000},
					CompletionTime: &timestamp{Seconds: 1045},
				},
				{
					// Provider omitted nearly everything for this execution.
					State: "ERROR",
				},
			},
		})
	}))

	snap, err := client.Poll(context.Background(), "matrix-123")
	require.NoError(t, err)
	assert.Equal(t, model.MatrixFinished, snap.State)
	require.Len(t, snap.Results, 2)

	passed := snap.Results[0]
	assert.Equal(t, "panther", passed.DeviceID)
	assert.Equal(t, model.OutcomePassed, passed.Outcome)
	assert.Equal(t, 45, passed.DurationSeconds)
	assert.Equal(t, "Installing APK\nRunning tests", passed.Log)
	assert.Equal(t, []string{"gs://shots/1.png"}, passed.Screenshots)
	require.NotNil(t, passed.VideoRef)
	assert.Equal(t, "gs://videos/run.mp4", *passed.VideoRef)

	failed := snap.Results[1]
	assert.Equal(t, "unknown", failed.DeviceID)
	assert.Equal(t, model.OutcomeFailed, failed.Outcome)
	assert.Equal(t, 0, failed.DurationSeconds)
	assert.Empty(t, failed.Log)
	assert.Nil(t, failed.VideoRef)
}

func TestClient_Poll_ErrorState(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(testMatrixResponse{
			TestMatrixID:  "matrix-123",
			State:         "INVALID",
			InvalidMatrix: "MALFORMED_APK",
		})
	}))

	snap, err := client.Poll(context.Background(), "matrix-123")
	require.NoError(t, err)
	assert.Equal(t, model.MatrixError, snap.State)
	assert.Equal(t, "MALFORMED_APK", snap.Detail)
}

func TestClient_Poll_Unavailable(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))

	_, err := client.Poll(context.Background(), "matrix-123")
	require.Error(t, err)
	assert.True(t, apperrors.IsProviderUnavailable(err))
}

func TestClient_Poll_NetworkError(t *testing.T) {
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := client.Poll(context.Background(), "matrix-123")
	require.Error(t, err)
	assert.True(t, apperrors.IsProviderUnavailable(err))
}

func TestClient_Cancel(t *testing.T) {
	var gotPath string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, client.Cancel(context.Background(), "matrix-123"))
	assert.Equal(t, "/projects/mt-test/testMatrices/matrix-123:cancel", gotPath)
}

func TestClient_Cancel_Unavailable(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))

	err := client.Cancel(context.Background(), "matrix-123")
	require.Error(t, err)
	assert.True(t, apperrors.IsProviderUnavailable(err))
}

func TestMapMatrixState(t *testing.T) {
	cases := map[string]model.MatrixState{
		"VALIDATING":              model.MatrixPending,
		"PENDING":                 model.MatrixPending,
		"RUNNING":                 model.MatrixRunning,
		"FINISHED":                model.MatrixFinished,
		"CANCELLED":               model.MatrixCancelled,
		"ERROR":                   model.MatrixError,
		"UNSUPPORTED_ENVIRONMENT": model.MatrixError,
		"":                        model.MatrixError,
	}
	for state, want := range cases {
		assert.Equal(t, want, mapMatrixState(state), "state %q", state)
	}
}

func TestMapExecutionOutcome(t *testing.T) {
	assert.Equal(t, model.OutcomePassed, mapExecutionOutcome("FINISHED"))
	assert.Equal(t, model.OutcomeSkipped, mapExecutionOutcome("SKIPPED"))
	assert.Equal(t, model.OutcomeSkipped, mapExecutionOutcome("CANCELLED"))
	assert.Equal(t, model.OutcomeFailed, mapExecutionOutcome("ERROR"))
	assert.Equal(t, model.OutcomeFailed, mapExecutionOutcome(""))
}

func TestExecutionDuration_Negative(t *testing.T) {
	exec := &testExecution{
		CreationTime:   &timestamp{Seconds: 2000},
		CompletionTime: &timestamp{Seconds: 1000},
	}
	assert.Equal(t, 0, executionDuration(exec))
}
