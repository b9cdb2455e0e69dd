package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mobiletester/mt-api/internal/core"
	"github.com/mobiletester/mt-api/internal/data/pgxutil"
)

// Advisory lock namespace for reaper operations.
// Using two-arg pg_try_advisory_xact_lock(major, minor) for proper namespacing.
// Major key 2000 is reserved for mobiletester reaper operations.
const (
	advisoryLockReaperMajor       = 2000
	advisoryLockReaperFailQueued  = 1 // minor key for FailStaleQueuedJobs
	advisoryLockReaperFailRunning = 2 // minor key for FailOverdueRunningJobs
	advisoryLockReaperDelete      = 3 // minor key for DeleteOldJobs
)

// FailStaleQueuedJobs marks queued jobs older than maxAge as failed.
// Processes up to batchSize jobs per call to prevent long locks and I/O spikes.
// Uses advisory locks to prevent concurrent reaper instances from conflicting.
// Returns the number of jobs marked as failed.
func (r *JobRepo) FailStaleQueuedJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	return r.failStaleJobs(ctx, failStaleParams{
		lockMinor: advisoryLockReaperFailQueued,
		maxAge:    maxAge,
		batchSize: batchSize,
		reason:    "Job timed out waiting to start",
		where:     "status = 'queued' AND created_at < $2",
		orderBy:   "created_at",
	})
}

// FailOverdueRunningJobs marks running jobs whose started_at is older than
// maxAge as failed. This is the backstop for poll loops lost to a crash; a
// healthy orchestrator times its own jobs out well before this fires.
func (r *JobRepo) FailOverdueRunningJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	return r.failStaleJobs(ctx, failStaleParams{
		lockMinor: advisoryLockReaperFailRunning,
		maxAge:    maxAge,
		batchSize: batchSize,
		reason:    "Test run timed out",
		where:     "status = 'running' AND started_at < $2",
		orderBy:   "started_at",
	})
}

type failStaleParams struct {
	lockMinor int
	maxAge    time.Duration
	batchSize int
	reason    string
	where     string
	orderBy   string
}

func (r *JobRepo) failStaleJobs(ctx context.Context, p failStaleParams) (int64, error) {
	if p.batchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	if p.maxAge <= 0 {
		return 0, errors.New("max age must be greater than zero")
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, p.lockMinor).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			currentTime := r.timeProvider.Now()
			cutoffTime := currentTime.Add(-p.maxAge)

			res, err := tx.ExecContext(ctx, `
				UPDATE test_jobs
				SET status = 'failed',
					failure_reason = $1,
					completed_at = $4,
					updated_at = $4
				WHERE id IN (
					SELECT id FROM test_jobs
					WHERE `+p.where+`
					ORDER BY `+p.orderBy+`
					LIMIT $3
				)
			`, p.reason, cutoffTime.UTC(), p.batchSize, currentTime.UTC())
			if err != nil {
				return fmt.Errorf("fail stale jobs: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// DeleteOldJobs deletes terminal jobs with the given status older than maxAge.
// Processes up to batchSize jobs per call to prevent long locks and I/O spikes.
// Returns the artifact refs of the deleted rows so the caller can clean up blobs.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) ([]string, error) {
	if !params.Status.Terminal() {
		return nil, fmt.Errorf("jobs with status %q cannot be reaped", params.Status)
	}
	if params.BatchSize <= 0 {
		return nil, errors.New("batch size must be greater than zero")
	}
	if params.MaxAge <= 0 {
		return nil, errors.New("max age must be greater than zero")
	}

	var refs []string
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, advisoryLockReaperDelete).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}

			cutoffTime := r.timeProvider.Now().Add(-params.MaxAge).UTC()

			rows, err := tx.QueryContext(ctx, `
				DELETE FROM test_jobs
				WHERE id IN (
					SELECT id FROM test_jobs
					WHERE status = $1
					  AND (completed_at < $2 OR (completed_at IS NULL AND updated_at < $2))
					ORDER BY COALESCE(completed_at, updated_at)
					LIMIT $3
				)
				RETURNING artifact_ref
			`, params.Status, cutoffTime, params.BatchSize)
			if err != nil {
				return fmt.Errorf("delete old jobs: %w", err)
			}
			defer func() {
				_ = rows.Close()
			}()

			for rows.Next() {
				var ref string
				if scanErr := rows.Scan(&ref); scanErr != nil {
					return fmt.Errorf("scan artifact ref: %w", scanErr)
				}
				refs = append(refs, ref)
			}
			return rows.Err()
		},
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}
