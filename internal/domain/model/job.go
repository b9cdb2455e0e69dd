// Package model defines the core data types and structures used throughout the mobiletester job system.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the current status of a test job.
type JobStatus string

// DeviceOutcome represents the per-device result of a matrix execution.
type DeviceOutcome string

// IssueSeverity ranks how serious a reported issue is.
type IssueSeverity string

const (
	// JobStatusQueued indicates a job has been accepted but not yet handed to the device lab.
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning indicates the device lab is executing the job's test matrix.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job finished and a report was produced.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job ended without a report (provider error, timeout, or cancellation).
	JobStatusFailed JobStatus = "failed"

	// OutcomePassed indicates the device run succeeded.
	OutcomePassed DeviceOutcome = "passed"
	// OutcomeFailed indicates the device run failed.
	OutcomeFailed DeviceOutcome = "failed"
	// OutcomeSkipped indicates the device run did not execute.
	OutcomeSkipped DeviceOutcome = "skipped"

	// SeverityLow is a cosmetic or informational issue.
	SeverityLow IssueSeverity = "low"
	// SeverityMedium is an issue that degrades the experience but does not break it.
	SeverityMedium IssueSeverity = "medium"
	// SeverityHigh is an issue likely to affect most users.
	SeverityHigh IssueSeverity = "high"
	// SeverityCritical is a crash or data-loss issue.
	SeverityCritical IssueSeverity = "critical"
)

// MaxContextLength caps the free-text notes a submitter can attach to a job.
const MaxContextLength = 4000

const (
	// ReportSourceAI marks a report produced by the model-backed analysis path.
	ReportSourceAI = "ai"
	// ReportSourceRules marks a report produced by the rule-based fallback.
	ReportSourceRules = "rules"
)

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusQueued || s == JobStatusRunning || s == JobStatusCompleted ||
		s == JobStatusFailed
}

// Terminal returns true for statuses that permit no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// UnmarshalText implements encoding.TextUnmarshaler for JobStatus to allow query parsing.
func (s *JobStatus) UnmarshalText(text []byte) error {
	v := JobStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobStatus: %q", string(text))
	}
	*s = v
	return nil
}

// Valid returns true if the DeviceOutcome is valid.
func (o DeviceOutcome) Valid() bool {
	return o == OutcomePassed || o == OutcomeFailed || o == OutcomeSkipped
}

// Valid returns true if the IssueSeverity is valid.
func (s IssueSeverity) Valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh || s == SeverityCritical
}

// TestResult is the per-device outcome recorded when a matrix reaches a
// terminal state. Immutable once written.
type TestResult struct {
	DeviceID        string        `json:"device_id"             db:"device_id"`
	Outcome         DeviceOutcome `json:"outcome"               db:"outcome"`
	DurationSeconds int           `json:"duration_seconds"      db:"duration_seconds"`
	Log             string        `json:"log"                   db:"log"`
	Screenshots     []string      `json:"screenshots,omitempty" db:"screenshots"`
	VideoRef        *string       `json:"video_ref,omitempty"   db:"video_ref"`
}

// Issue is a single finding in a job's analysis report.
type Issue struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Severity    IssueSeverity `json:"severity"`
	Fix         string        `json:"fix"`
	DeviceID    *string       `json:"device_id,omitempty"`
}

// Report is the structured analysis result attached to a completed job.
type Report struct {
	Summary     string  `json:"summary"`
	PassRate    int     `json:"pass_rate"`
	Issues      []Issue `json:"issues"`
	GeneratedBy string  `json:"generated_by"` // "ai" or "rules"
}

// Job represents a test job with all its metadata and status information.
type Job struct {
	ID               string       `json:"id"                           db:"id"`
	OwnerID          string       `json:"owner_id"                     db:"owner_id"`
	ArtifactRef      string       `json:"artifact_ref"                 db:"artifact_ref"`
	ArtifactName     string       `json:"artifact_name"                db:"artifact_name"`
	Context          string       `json:"context,omitempty"            db:"context"`
	DeviceIDs        []string     `json:"device_ids"                   db:"device_ids"`
	Status           JobStatus    `json:"status"                       db:"status"`
	ProviderMatrixID *string      `json:"provider_matrix_id,omitempty" db:"provider_matrix_id"`
	Results          []TestResult `json:"results,omitempty"            db:"results"`
	Report           *Report      `json:"report,omitempty"             db:"report"`
	FailureReason    *string      `json:"failure_reason,omitempty"     db:"failure_reason"`
	DurationSeconds  *int         `json:"duration_seconds,omitempty"   db:"duration_seconds"`
	CreatedAt        time.Time    `json:"created_at"                   db:"created_at"`
	StartedAt        *time.Time   `json:"started_at,omitempty"         db:"started_at"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"       db:"completed_at"`
	UpdatedAt        time.Time    `json:"updated_at"                   db:"updated_at"`
}

// Started returns true once the job has been handed to the device lab.
func (j *Job) Started() bool {
	return j.ProviderMatrixID != nil && *j.ProviderMatrixID != ""
}

// CreateJobRequest represents a request to create a new test job.
type CreateJobRequest struct {
	OwnerID      string   `json:"owner_id"`
	ArtifactRef  string   `json:"artifact_ref"`
	ArtifactName string   `json:"artifact_name"`
	Context      string   `json:"context,omitempty"`
	DeviceIDs    []string `json:"device_ids"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if r.OwnerID == "" {
		return errors.New("owner id is required")
	}
	if r.ArtifactRef == "" {
		return errors.New("artifact ref is required")
	}
	if r.ArtifactName == "" {
		return errors.New("artifact name is required")
	}
	if len(r.DeviceIDs) == 0 {
		return errors.New("at least one device is required")
	}
	for _, id := range r.DeviceIDs {
		if strings.TrimSpace(id) == "" {
			return errors.New("device ids must be non-empty")
		}
	}
	if len(r.Context) > MaxContextLength {
		return fmt.Errorf("context must be at most %d characters", MaxContextLength)
	}
	return nil
}

// ListJobsQuery holds filters for listing a user's jobs.
type ListJobsQuery struct {
	OwnerID string
	Status  *JobStatus
	Limit   int
}

// JobStats represents counts of jobs in each state.
type JobStats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
