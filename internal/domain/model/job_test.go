package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatusValid(t *testing.T) {
	valid := []JobStatus{JobStatusQueued, JobStatusRunning, JobStatusCompleted, JobStatusFailed}
	for _, s := range valid {
		assert.True(t, s.Valid(), "expected %q to be valid", s)
	}
	assert.False(t, JobStatus("pending").Valid())
	assert.False(t, JobStatus("").Valid())
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusQueued.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}

func TestJobStatusUnmarshalText(t *testing.T) {
	var s JobStatus
	require.NoError(t, s.UnmarshalText([]byte(" Running ")))
	assert.Equal(t, JobStatusRunning, s)

	assert.Error(t, s.UnmarshalText([]byte("paused")))
}

func TestJobStarted(t *testing.T) {
	j := &Job{}
	assert.False(t, j.Started())

	empty := ""
	j.ProviderMatrixID = &empty
	assert.False(t, j.Started())

	id := "matrix-1"
	j.ProviderMatrixID = &id
	assert.True(t, j.Started())
}

func TestCreateJobRequestValidate(t *testing.T) {
	valid := CreateJobRequest{
		OwnerID:      "user-1",
		ArtifactRef:  "apks/user-1/app.apk",
		ArtifactName: "app.apk",
		DeviceIDs:    []string{"pixel_7"},
	}

	t.Run("valid", func(t *testing.T) {
		r := valid
		assert.NoError(t, r.Validate())
	})

	t.Run("missing owner", func(t *testing.T) {
		r := valid
		r.OwnerID = ""
		assert.Error(t, r.Validate())
	})

	t.Run("missing artifact", func(t *testing.T) {
		r := valid
		r.ArtifactRef = ""
		assert.Error(t, r.Validate())
	})

	t.Run("no devices", func(t *testing.T) {
		r := valid
		r.DeviceIDs = nil
		assert.Error(t, r.Validate())
	})

	t.Run("blank device id", func(t *testing.T) {
		r := valid
		r.DeviceIDs = []string{"pixel_7", "  "}
		assert.Error(t, r.Validate())
	})

	t.Run("context too long", func(t *testing.T) {
		r := valid
		r.Context = strings.Repeat("x", MaxContextLength+1)
		assert.Error(t, r.Validate())
	})
}

func TestOutcomeAndSeverityValid(t *testing.T) {
	assert.True(t, OutcomePassed.Valid())
	assert.True(t, OutcomeFailed.Valid())
	assert.True(t, OutcomeSkipped.Valid())
	assert.False(t, DeviceOutcome("errored").Valid())

	assert.True(t, SeverityCritical.Valid())
	assert.False(t, IssueSeverity("fatal").Valid())
}
