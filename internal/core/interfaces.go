// Package core provides the business logic contracts for the mobiletester job system.
package core

import (
	"context"
	"time"

	"github.com/mobiletester/mt-api/internal/domain/model"
)

// This file contains the interface definitions (ports in hexagonal architecture)
// between the service layer and its collaborators. Service implementations
// depend on these interfaces, not concrete implementations.

// CompleteRunParams groups parameters for JobRepository.CompleteRun.
type CompleteRunParams struct {
	ID              string
	Results         []model.TestResult
	Report          *model.Report
	DurationSeconds int
}

// FailRunParams groups parameters for JobRepository.FailRun.
type FailRunParams struct {
	ID      string
	Reason  string
	Results []model.TestResult
}

// JobRepository defines the interface for job data operations.
//
// MarkRunning, CompleteRun, and FailRun are conditional writes keyed on the
// job's current status. Each returns (false, nil) when the guard did not
// match, which callers treat as "another handler already transitioned this
// job" and discard their own result.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// MarkRunning transitions queued → running and records the provider matrix id.
	MarkRunning(ctx context.Context, id, matrixID string) (bool, error)
	// CompleteRun transitions running → completed, writing results, report, and duration.
	CompleteRun(ctx context.Context, params CompleteRunParams) (bool, error)
	// FailRun transitions queued|running → failed with a human-readable reason.
	FailRun(ctx context.Context, params FailRunParams) (bool, error)
	List(ctx context.Context, q *model.ListJobsQuery) ([]*model.Job, error)
	Stats(ctx context.Context, ownerID string) (*model.JobStats, error)
	// Delete removes a terminal job record. Returns false if the job is absent
	// or not in a terminal state.
	Delete(ctx context.Context, id string) (bool, error)
	// ListActive returns queued and running jobs, oldest first, for poll-loop
	// recovery after a restart.
	ListActive(ctx context.Context, limit int) ([]*model.Job, error)
	// WaitForQueued blocks until a new job is queued or the context ends.
	WaitForQueued(ctx context.Context) error
}

// DeleteOldJobsParams groups parameters for JobReaperRepository.DeleteOldJobs.
type DeleteOldJobsParams struct {
	Status    model.JobStatus
	MaxAge    time.Duration
	BatchSize int
}

// JobReaperRepository defines the maintenance operations run by the reaper.
type JobReaperRepository interface {
	// FailStaleQueuedJobs marks queued jobs older than maxAge as failed.
	FailStaleQueuedJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
	// FailOverdueRunningJobs marks running jobs whose started_at is older than
	// maxAge as failed. Backstop for poll loops lost to a crash.
	FailOverdueRunningJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
	// DeleteOldJobs deletes terminal jobs older than maxAge and returns the
	// artifact refs of the deleted rows so callers can clean up blobs.
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) ([]string, error)
}

// StartMatrixParams groups parameters for MatrixClient.Start.
type StartMatrixParams struct {
	ArtifactRef    string
	DeviceIDs      []string
	TimeoutSeconds int
}

// MatrixClient starts, observes, and cancels device-lab test matrices.
type MatrixClient interface {
	// Start creates a matrix on the provider. Not idempotent: a retry creates
	// a second matrix, so callers persist the returned id before any further
	// network call and never call Start twice for one job.
	Start(ctx context.Context, params StartMatrixParams) (*model.StartedMatrix, error)
	// Poll returns the current normalized state, with per-device results once
	// terminal. Transient transport failures surface as ProviderUnavailable.
	Poll(ctx context.Context, matrixID string) (*model.MatrixSnapshot, error)
	// Cancel requests provider-side cancellation. Best-effort.
	Cancel(ctx context.Context, matrixID string) error
}

// AnalyzeParams groups parameters for Analyzer.Analyze.
type AnalyzeParams struct {
	Results      []model.TestResult
	Context      string
	ArtifactName string
}

// Analyzer turns raw per-device results into a structured report.
// Analyze never fails for well-formed input: when the AI path is unusable it
// falls back to deterministic rule-based analysis.
type Analyzer interface {
	Analyze(ctx context.Context, params AnalyzeParams) *model.Report
}

// UploadArtifactParams groups parameters for ArtifactStore.Upload.
type UploadArtifactParams struct {
	OwnerID  string
	Name     string
	Body     []byte
	MimeType string
}

// ArtifactStore stores and deletes binary artifacts (APK files).
type ArtifactStore interface {
	// Upload stores the artifact and returns a stable reference.
	Upload(ctx context.Context, params UploadArtifactParams) (string, error)
	// Delete removes the artifact for the given reference.
	Delete(ctx context.Context, ref string) error
}

// ReportRenderer turns a completed job record into a downloadable document.
type ReportRenderer interface {
	Render(job *model.Job) ([]byte, error)
}
