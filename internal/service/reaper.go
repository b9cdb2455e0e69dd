package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mobiletester/mt-api/config"
	"github.com/mobiletester/mt-api/internal/core"
	"github.com/mobiletester/mt-api/internal/domain/model"
	"github.com/mobiletester/mt-api/internal/observability/metrics"
	"github.com/mobiletester/mt-api/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo      core.JobReaperRepository // Required: reaper repository
	Config    config.ReaperConfig      // Required: reaper configuration
	Artifacts core.ArtifactStore       // Optional: enables artifact cleanup for deleted jobs
	Logger    *slog.Logger             // Optional: structured logger
	Metrics   statsd.Sink              // Optional: metrics sink (StatsD-compatible)
}

// ReaperService provides job cleanup operations.
//
// This service manages:
// - Failing stale queued jobs that were never started.
// - Failing running jobs whose orchestrator crashed mid-run.
// - Deleting old terminal jobs, with their stored artifacts, to prevent
//   database and storage bloat.
type ReaperService struct {
	repo      core.JobReaperRepository
	config    config.ReaperConfig
	artifacts core.ArtifactStore
	logger    *slog.Logger
	metrics   statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobReaperRepository is required")
	}
	opts.Config.Sanitize()

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"queued_max_age", opts.Config.QueuedMaxAge,
			"running_max_age", opts.Config.RunningMaxAge,
			"completed_max_age", opts.Config.CompletedMaxAge,
			"failed_max_age", opts.Config.FailedMaxAge,
		)
	}

	return &ReaperService{
		repo:      opts.Repo,
		config:    opts.Config,
		artifacts: opts.Artifacts,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// MustNewReaperService constructs a new ReaperService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewReaperService(opts ReaperServiceOptions) *ReaperService {
	svc, err := NewReaperService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create ReaperService: %v", err))
	}
	return svc
}

// Run starts the reaper loop and runs until the context is cancelled.
// It performs cleanup operations at the configured interval.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper", "interval", s.config.Interval)
	}

	// Add jitter to prevent thundering herd if multiple instances start together
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.RunCleanup(ctx); err != nil && !errors.Is(err, context.Canceled) {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "initial cleanup failed", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.RunCleanup(ctx); err != nil && !errors.Is(err, context.Canceled) {
				if s.logger != nil {
					s.logger.ErrorContext(ctx, "cleanup failed", "error", err)
				}
				// Continue running despite errors
			}
		}
	}
}

// waitWithJitter adds a random delay up to 10% of the interval to prevent thundering herd.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// If crypto/rand fails, skip jitter rather than failing startup
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)))

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

// RunCleanup performs all cleanup operations once.
func (s *ReaperService) RunCleanup(ctx context.Context) error {
	var errs []error

	steps := []struct {
		label string
		fn    func(context.Context) (int64, error)
	}{
		{label: "fail stale queued jobs", fn: s.failStaleQueuedJobs},
		{label: "fail overdue running jobs", fn: s.failOverdueRunningJobs},
		{label: "delete old completed jobs", fn: s.deleteOldCompletedJobs},
		{label: "delete old failed jobs", fn: s.deleteOldFailedJobs},
	}

	for _, step := range steps {
		count, err := step.fn(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.label, err))
		}
		if count > 0 {
			metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
				Transition: metrics.TransitionReap,
				Result:     metrics.ResultSuccess,
			})
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup failed: %w", errors.Join(errs...))
	}
	return nil
}

// failStaleQueuedJobs marks queued jobs older than the configured max age as failed.
func (s *ReaperService) failStaleQueuedJobs(ctx context.Context) (int64, error) {
	count, err := s.repo.FailStaleQueuedJobs(ctx, s.config.QueuedMaxAge, s.config.BatchSize)
	if err != nil {
		return count, err
	}
	if count > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "failed stale queued jobs",
			"count", count,
			"max_age", s.config.QueuedMaxAge,
		)
	}
	return count, nil
}

// failOverdueRunningJobs fails running jobs whose start is older than the
// configured max age. This is the safety net behind the orchestrator's own
// wall-clock ceiling, for jobs whose poll loop died with their process.
func (s *ReaperService) failOverdueRunningJobs(ctx context.Context) (int64, error) {
	count, err := s.repo.FailOverdueRunningJobs(ctx, s.config.RunningMaxAge, s.config.BatchSize)
	if err != nil {
		return count, err
	}
	if count > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "failed overdue running jobs",
			"count", count,
			"max_age", s.config.RunningMaxAge,
		)
	}
	return count, nil
}

func (s *ReaperService) deleteOldCompletedJobs(ctx context.Context) (int64, error) {
	return s.deleteOldJobs(ctx, model.JobStatusCompleted, s.config.CompletedMaxAge)
}

func (s *ReaperService) deleteOldFailedJobs(ctx context.Context) (int64, error) {
	return s.deleteOldJobs(ctx, model.JobStatusFailed, s.config.FailedMaxAge)
}

// deleteOldJobs deletes terminal jobs older than maxAge in batches, cleaning
// up their stored artifacts as rows go. Loops until no more rows are affected
// to handle large datasets.
func (s *ReaperService) deleteOldJobs(ctx context.Context, status model.JobStatus, maxAge time.Duration) (int64, error) {
	var total int64
	for {
		refs, err := s.repo.DeleteOldJobs(ctx, core.DeleteOldJobsParams{
			Status:    status,
			MaxAge:    maxAge,
			BatchSize: s.config.BatchSize,
		})
		if err != nil {
			return total, err
		}
		total += int64(len(refs))
		s.deleteArtifacts(ctx, refs)
		if len(refs) == 0 {
			break
		}
		// Check context between batches
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "deleted old jobs",
			"status", status,
			"count", total,
			"max_age", maxAge,
		)
	}
	return total, nil
}

// deleteArtifacts best-effort removes the blobs behind deleted job rows.
func (s *ReaperService) deleteArtifacts(ctx context.Context, refs []string) {
	if s.artifacts == nil {
		return
	}
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := s.artifacts.Delete(ctx, ref); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "artifact cleanup failed",
				"artifact_ref", ref,
				"error", err,
			)
		}
	}
}
