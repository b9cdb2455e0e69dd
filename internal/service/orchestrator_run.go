package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/mobiletester/mt-api/internal/errors"

	"github.com/mobiletester/mt-api/internal/core"
	"github.com/mobiletester/mt-api/internal/domain/model"
	"github.com/mobiletester/mt-api/internal/observability/metrics"
)

// Run drives the orchestrator until the context is cancelled: it begins
// queued jobs, adopts running jobs left over from a previous process, and
// polls the device lab until every started job reaches a terminal state.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (o *JobOrchestrator) Run(ctx context.Context) error {
	if o.logger != nil {
		o.logger.InfoContext(ctx, "starting orchestrator",
			"poll_interval", o.cfg.PollInterval,
			"concurrency", o.cfg.Concurrency,
		)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.watchForQueued(ctx) })
	g.Go(func() error { return o.dispatchLoop(ctx) })
	g.Go(func() error { return o.pollLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchForQueued turns queued-job notifications into dispatch wakeups.
func (o *JobOrchestrator) watchForQueued(ctx context.Context) error {
	for {
		if err := o.repo.WaitForQueued(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if o.logger != nil {
				o.logger.WarnContext(ctx, "queued-job listener error, falling back to tick", "error", err)
			}
			select {
			case <-time.After(o.cfg.PollInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		o.Wake()
	}
}

// dispatchLoop begins queued jobs and adopts running jobs that have no
// pending poll (after a restart). It runs on wakeups and on a safety tick.
func (o *JobOrchestrator) dispatchLoop(ctx context.Context) error {
	sem := make(chan struct{}, o.cfg.Concurrency)
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	// Initial pass picks up work that predates this process.
	o.dispatch(ctx, sem)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.wake:
			o.dispatch(ctx, sem)
		case <-ticker.C:
			o.dispatch(ctx, sem)
		}
	}
}

func (o *JobOrchestrator) dispatch(ctx context.Context, sem chan struct{}) {
	jobs, err := o.repo.ListActive(ctx, o.cfg.ClaimBatchSize)
	if err != nil {
		if o.logger != nil && ctx.Err() == nil {
			o.logger.ErrorContext(ctx, "list active jobs failed", "error", err)
		}
		return
	}

	for _, job := range jobs {
		switch job.Status {
		case model.JobStatusQueued:
			if !o.inflight.TryAdd(job.ID) {
				continue
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				o.inflight.Remove(job.ID)
				return
			}
			go func(id string) {
				defer func() {
					<-sem
					o.inflight.Remove(id)
				}()
				if err := o.Begin(ctx, id); err != nil && o.logger != nil && ctx.Err() == nil {
					o.logger.ErrorContext(ctx, "begin job failed", "job_id", id, "error", err)
				}
			}(job.ID)

		case model.JobStatusRunning:
			// Running with no pending poll means this process did not start
			// the job; adopt it after a restart.
			if o.queue.Contains(job.ID) || !o.inflight.TryAdd(job.ID) {
				continue
			}
			o.queue.Schedule(job.ID, o.tp.Now().Add(o.cfg.InitialPollDelay))
			o.inflight.Remove(job.ID)
		}
	}
}

// Begin starts the job's test matrix, exactly once, and transitions it to
// running. A provider rejection fails the job terminally; it is not an error
// from the orchestrator's point of view.
func (o *JobOrchestrator) Begin(ctx context.Context, id string) error {
	job, err := o.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job.Status != model.JobStatusQueued {
		return nil
	}

	started, err := o.matrix.Start(ctx, core.StartMatrixParams{
		ArtifactRef:    job.ArtifactRef,
		DeviceIDs:      job.DeviceIDs,
		TimeoutSeconds: int(o.cfg.TestTimeout.Seconds()),
	})
	if err != nil {
		// Matrix creation is not idempotent, so a failed start is never
		// retried: the job fails with the provider's reason.
		reason := fmt.Sprintf("Device lab rejected the test run: %v", err)
		if !apperrors.IsProviderRejected(err) {
			reason = fmt.Sprintf("Device lab could not start the test run: %v", err)
		}
		if _, failErr := o.repo.FailRun(ctx, core.FailRunParams{ID: id, Reason: reason}); failErr != nil {
			return fmt.Errorf("fail rejected job: %w", failErr)
		}
		o.emit(metrics.TransitionBegin, metrics.ResultError, 0, err)
		if o.logger != nil {
			o.logger.WarnContext(ctx, "job failed to start", "job_id", id, "error", err)
		}
		return nil
	}

	running, err := o.repo.MarkRunning(ctx, id, started.MatrixID)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if !running {
		// Cancelled while the matrix was being created. Clean up the orphan.
		if cancelErr := o.matrix.Cancel(ctx, started.MatrixID); cancelErr != nil && o.logger != nil {
			o.logger.WarnContext(ctx, "orphan matrix cancel failed",
				"matrix_id", started.MatrixID,
				"error", cancelErr,
			)
		}
		o.emit(metrics.TransitionBegin, metrics.ResultNoop, 0, nil)
		return nil
	}

	o.queue.Schedule(id, o.tp.Now().Add(o.cfg.InitialPollDelay))
	o.emit(metrics.TransitionBegin, metrics.ResultSuccess, 0, nil)
	if o.logger != nil {
		o.logger.InfoContext(ctx, "job running",
			"job_id", id,
			"matrix_id", started.MatrixID,
		)
	}
	return nil
}

// pollLoop fires polls as they come due. A queue wakeup interrupts the wait
// so a newly scheduled earlier poll is not delayed by a stale timer.
func (o *JobOrchestrator) pollLoop(ctx context.Context) error {
	timer := time.NewTimer(o.cfg.PollInterval)
	defer timer.Stop()

	for {
		wait := o.cfg.PollInterval
		if due, ok := o.queue.NextDue(); ok {
			wait = time.Until(due)
			if wait < 0 {
				wait = 0
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.queue.Wakeups():
			// Recompute the wait against the new earliest poll.
		case <-timer.C:
			for _, id := range o.queue.PopDue(o.tp.Now()) {
				o.pollOnce(ctx, id)
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
		}
	}
}

// pollOnce polls one job's matrix and either reschedules the job or drives
// it to a terminal state.
func (o *JobOrchestrator) pollOnce(ctx context.Context, id string) {
	job, err := o.repo.GetByID(ctx, id)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return
		}
		if o.logger != nil && ctx.Err() == nil {
			o.logger.ErrorContext(ctx, "poll load failed", "job_id", id, "error", err)
		}
		o.reschedule(id, job, o.cfg.TransientBackoff)
		return
	}
	if job.Status != model.JobStatusRunning || job.ProviderMatrixID == nil {
		return
	}

	now := o.tp.Now()
	if job.StartedAt != nil && now.Sub(*job.StartedAt) >= o.cfg.RunCeiling {
		o.failJob(ctx, job, fmt.Sprintf("Test run timed out after %s", o.cfg.RunCeiling), nil)
		return
	}

	snapshot, err := o.matrix.Poll(ctx, *job.ProviderMatrixID)
	if err != nil {
		// Transient by contract: keep the job running and retry after the
		// longer backoff. The wall-clock ceiling bounds these retries.
		o.emit(metrics.TransitionPoll, metrics.ResultError, 0, err)
		if o.logger != nil && ctx.Err() == nil {
			o.logger.WarnContext(ctx, "provider poll failed, backing off",
				"job_id", id,
				"error", err,
			)
		}
		o.reschedule(id, job, o.cfg.TransientBackoff)
		return
	}

	if !snapshot.State.Terminal() {
		o.emit(metrics.TransitionPoll, metrics.ResultSuccess, 0, nil)
		o.reschedule(id, job, o.cfg.PollInterval)
		return
	}

	switch snapshot.State {
	case model.MatrixFinished:
		o.completeJob(ctx, job, snapshot.Results)
	case model.MatrixCancelled:
		o.failJob(ctx, job, "Test run was cancelled by the device lab", snapshot.Results)
	default:
		reason := "Device lab reported an error"
		if snapshot.Detail != "" {
			reason = fmt.Sprintf("Device lab reported an error: %s", snapshot.Detail)
		}
		o.failJob(ctx, job, reason, snapshot.Results)
	}
}

// reschedule queues the next poll, never past the job's timeout deadline.
func (o *JobOrchestrator) reschedule(id string, job *model.Job, delay time.Duration) {
	due := o.tp.Now().Add(delay)
	if job != nil && job.StartedAt != nil {
		if deadline := job.StartedAt.Add(o.cfg.RunCeiling); due.After(deadline) {
			due = deadline
		}
	}
	o.queue.Schedule(id, due)
}

// completeJob runs analysis and writes the terminal completed state. Losing
// the conditional update means another trigger got there first, and this
// handler's work is discarded.
func (o *JobOrchestrator) completeJob(ctx context.Context, job *model.Job, results []model.TestResult) {
	report := o.analyzer.Analyze(ctx, core.AnalyzeParams{
		Results:      results,
		Context:      job.Context,
		ArtifactName: job.ArtifactName,
	})

	var duration time.Duration
	if job.StartedAt != nil {
		duration = o.tp.Now().Sub(*job.StartedAt)
	}

	completed, err := o.repo.CompleteRun(ctx, core.CompleteRunParams{
		ID:              job.ID,
		Results:         results,
		Report:          report,
		DurationSeconds: int(math.Round(duration.Seconds())),
	})
	if err != nil {
		o.emit(metrics.TransitionComplete, metrics.ResultError, 0, err)
		if o.logger != nil && ctx.Err() == nil {
			o.logger.ErrorContext(ctx, "complete job failed", "job_id", job.ID, "error", err)
		}
		o.reschedule(job.ID, job, o.cfg.TransientBackoff)
		return
	}
	if !completed {
		o.emit(metrics.TransitionComplete, metrics.ResultNoop, 0, nil)
		return
	}

	o.emit(metrics.TransitionComplete, metrics.ResultSuccess, duration, nil)
	if o.logger != nil {
		o.logger.InfoContext(ctx, "job completed",
			"job_id", job.ID,
			"duration", duration,
			"pass_rate", report.PassRate,
			"issues", len(report.Issues),
		)
	}
}

func (o *JobOrchestrator) failJob(ctx context.Context, job *model.Job, reason string, results []model.TestResult) {
	failed, err := o.repo.FailRun(ctx, core.FailRunParams{
		ID:      job.ID,
		Reason:  reason,
		Results: results,
	})
	if err != nil {
		o.emit(metrics.TransitionFail, metrics.ResultError, 0, err)
		if o.logger != nil && ctx.Err() == nil {
			o.logger.ErrorContext(ctx, "fail job failed", "job_id", job.ID, "error", err)
		}
		o.reschedule(job.ID, job, o.cfg.TransientBackoff)
		return
	}
	if !failed {
		o.emit(metrics.TransitionFail, metrics.ResultNoop, 0, nil)
		return
	}

	o.emit(metrics.TransitionFail, metrics.ResultSuccess, 0, nil)
	if o.logger != nil {
		o.logger.InfoContext(ctx, "job failed", "job_id", job.ID, "reason", reason)
	}
}
