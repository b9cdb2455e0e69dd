package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/mobiletester/mt-api/internal/errors"

	"github.com/mobiletester/mt-api/config"
	"github.com/mobiletester/mt-api/internal/core"
	"github.com/mobiletester/mt-api/internal/data"
	"github.com/mobiletester/mt-api/internal/devices"
	"github.com/mobiletester/mt-api/internal/domain/model"
	"github.com/mobiletester/mt-api/internal/observability/metrics"
	"github.com/mobiletester/mt-api/internal/observability/statsd"
)

// CancelledByUserReason is the failure reason written when a user cancels a job.
const CancelledByUserReason = "cancelled by user"

// OrchestratorOptions groups dependencies for JobOrchestrator.
type OrchestratorOptions struct {
	Repo         core.JobRepository        // Required: job repository
	Matrix       core.MatrixClient         // Required: device lab client
	Analyzer     core.Analyzer             // Required: report analysis
	Artifacts    core.ArtifactStore        // Optional: enables artifact cleanup on delete
	Catalog      *devices.Catalog          // Optional: defaults to the built-in catalog
	Config       config.OrchestratorConfig // Required: poll timing configuration
	Logger       *slog.Logger              // Optional: structured logger
	TimeProvider data.TimeProvider         // Optional: defaults to real time
	Metrics      statsd.Sink               // Optional: metrics sink (StatsD-compatible)
}

// JobOrchestrator owns the test-job state machine.
//
// This service manages:
// - Job submission and validation against the device catalog
// - Starting test matrices on the device lab, exactly once per job
// - The poll loop that drives running jobs to a terminal state
// - Exactly-once completion handling via conditional status updates
// - Cancellation and deletion with best-effort provider/artifact cleanup.
type JobOrchestrator struct {
	repo      core.JobRepository
	matrix    core.MatrixClient
	analyzer  core.Analyzer
	artifacts core.ArtifactStore
	catalog   *devices.Catalog
	cfg       config.OrchestratorConfig
	logger    *slog.Logger
	tp        data.TimeProvider
	metrics   statsd.Sink

	queue *pollQueue
	wake  chan struct{}

	inflight *stringSet
}

// NewJobOrchestrator constructs a new JobOrchestrator.
func NewJobOrchestrator(opts OrchestratorOptions) (*JobOrchestrator, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Matrix == nil {
		return nil, errors.New("MatrixClient is required")
	}
	if opts.Analyzer == nil {
		return nil, errors.New("Analyzer is required")
	}
	if opts.Catalog == nil {
		opts.Catalog = devices.NewCatalog()
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = &data.RealTimeProvider{}
	}
	opts.Config.Sanitize()

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "orchestrator")
		logger.Debug("JobOrchestrator initialized",
			"initial_poll_delay", opts.Config.InitialPollDelay,
			"poll_interval", opts.Config.PollInterval,
			"transient_backoff", opts.Config.TransientBackoff,
			"run_ceiling", opts.Config.RunCeiling,
		)
	}

	return &JobOrchestrator{
		repo:      opts.Repo,
		matrix:    opts.Matrix,
		analyzer:  opts.Analyzer,
		artifacts: opts.Artifacts,
		catalog:   opts.Catalog,
		cfg:       opts.Config,
		logger:    logger,
		tp:        opts.TimeProvider,
		metrics:   opts.Metrics,
		queue:     newPollQueue(),
		wake:      make(chan struct{}, 1),
		inflight:  newStringSet(),
	}, nil
}

// MustNewJobOrchestrator constructs a new JobOrchestrator and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobOrchestrator(opts OrchestratorOptions) *JobOrchestrator {
	svc, err := NewJobOrchestrator(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create JobOrchestrator: %v", err))
	}
	return svc
}

// Submit validates the request and creates the job in queued status. It never
// touches the provider, so callers get the job id back immediately.
func (o *JobOrchestrator) Submit(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, apperrors.Validation("request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job request")
	}

	if unknown := o.catalog.Validate(req.DeviceIDs); len(unknown) > 0 && o.logger != nil {
		// Unknown ids are accepted and run on the default provider model.
		o.logger.WarnContext(ctx, "unknown device ids mapped to default model",
			"device_ids", unknown,
		)
	}

	job, err := o.repo.Create(ctx, req)
	if err != nil {
		o.emit(metrics.TransitionSubmit, metrics.ResultError, 0, err)
		return nil, fmt.Errorf("create job: %w", err)
	}

	o.emit(metrics.TransitionSubmit, metrics.ResultSuccess, 0, nil)
	if o.logger != nil {
		o.logger.InfoContext(ctx, "job submitted",
			"job_id", job.ID,
			"owner_id", job.OwnerID,
			"devices", len(job.DeviceIDs),
		)
	}
	o.Wake()
	return job, nil
}

// Get returns the job by id.
func (o *JobOrchestrator) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns the owner's jobs, newest first.
func (o *JobOrchestrator) List(ctx context.Context, q *model.ListJobsQuery) ([]*model.Job, error) {
	jobs, err := o.repo.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// ListActive returns queued and running jobs across all owners, oldest
// first. Intended for operator tooling, not regular users.
func (o *JobOrchestrator) ListActive(ctx context.Context, limit int) ([]*model.Job, error) {
	jobs, err := o.repo.ListActive(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	return jobs, nil
}

// Stats returns per-status job counts for the owner.
func (o *JobOrchestrator) Stats(ctx context.Context, ownerID string) (*model.JobStats, error) {
	stats, err := o.repo.Stats(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return stats, nil
}

// Cancel stops a queued or running job. The provider-side cancel is
// best-effort; the local job always ends up failed with a cancellation
// reason. Cancelling an already-terminal job is a no-op.
func (o *JobOrchestrator) Cancel(ctx context.Context, id string) (*model.Job, error) {
	job, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	if job.Status.Terminal() {
		o.emit(metrics.TransitionCancel, metrics.ResultNoop, 0, nil)
		return job, nil
	}

	if job.ProviderMatrixID != nil {
		if cancelErr := o.matrix.Cancel(ctx, *job.ProviderMatrixID); cancelErr != nil && o.logger != nil {
			o.logger.WarnContext(ctx, "provider cancel failed",
				"job_id", job.ID,
				"matrix_id", *job.ProviderMatrixID,
				"error", cancelErr,
			)
		}
	}

	updated, err := o.repo.FailRun(ctx, core.FailRunParams{ID: id, Reason: CancelledByUserReason})
	if err != nil {
		o.emit(metrics.TransitionCancel, metrics.ResultError, 0, err)
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	o.queue.Remove(id)

	if updated {
		o.emit(metrics.TransitionCancel, metrics.ResultSuccess, 0, nil)
		if o.logger != nil {
			o.logger.InfoContext(ctx, "job cancelled", "job_id", id)
		}
	} else {
		// Lost the race against a concurrent completion. The terminal state
		// that won stands.
		o.emit(metrics.TransitionCancel, metrics.ResultNoop, 0, nil)
	}

	job, err = o.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Delete removes a terminal job and best-effort deletes its artifact.
func (o *JobOrchestrator) Delete(ctx context.Context, id string) error {
	job, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if !job.Status.Terminal() {
		return apperrors.Conflict("only completed or failed jobs can be deleted")
	}

	if o.artifacts != nil && job.ArtifactRef != "" {
		if delErr := o.artifacts.Delete(ctx, job.ArtifactRef); delErr != nil && o.logger != nil {
			o.logger.WarnContext(ctx, "artifact cleanup failed",
				"job_id", id,
				"artifact_ref", job.ArtifactRef,
				"error", delErr,
			)
		}
	}

	deleted, err := o.repo.Delete(ctx, id)
	if err != nil {
		o.emit(metrics.TransitionDelete, metrics.ResultError, 0, err)
		return fmt.Errorf("delete job: %w", err)
	}
	if !deleted {
		return apperrors.NotFoundf("job %s not found", id)
	}

	o.emit(metrics.TransitionDelete, metrics.ResultSuccess, 0, nil)
	if o.logger != nil {
		o.logger.InfoContext(ctx, "job deleted", "job_id", id)
	}
	return nil
}

// Wake nudges the dispatch loop to look for queued work now instead of
// waiting for the next tick.
func (o *JobOrchestrator) Wake() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *JobOrchestrator) emit(transition, result string, duration time.Duration, err error) {
	metrics.EmitJobLifecycle(o.metrics, metrics.JobMetric{
		Transition: transition,
		Result:     result,
		Duration:   duration,
		Err:        err,
	})
}

// stringSet tracks job ids with work in flight so the dispatch loop never
// starts the same job twice concurrently. Matrix creation is not idempotent,
// so this guard matters even though the status transition itself is CAS'd.
type stringSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newStringSet() *stringSet {
	return &stringSet{ids: make(map[string]struct{})}
}

// TryAdd adds the id, returning false when it is already present.
func (s *stringSet) TryAdd(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *stringSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}
