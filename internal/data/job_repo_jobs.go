package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/mobiletester/mt-api/internal/core"
	"github.com/mobiletester/mt-api/internal/data/pgxutil"
	"github.com/mobiletester/mt-api/internal/domain/model"
)

// queuedChannel is the pg_notify channel used to wake orchestrator instances
// when a new job is accepted.
const queuedChannel = "test_job_queued"

// Create inserts a new job in the queued state and notifies listeners.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if validateErr := req.Validate(); validateErr != nil {
		return nil, validateErr
	}

	deviceIDs, err := json.Marshal(req.DeviceIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal device ids: %w", err)
	}

	now := r.timeProvider.Now().UTC()
	id := uuid.NewString()

	var job *model.Job
	txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, qerr := tx.Query(ctx, `
				INSERT INTO test_jobs(id, owner_id, artifact_ref, artifact_name, context, device_ids, status, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, 'queued', $7, $7)
				RETURNING `+jobColumns,
				id, req.OwnerID, req.ArtifactRef, req.ArtifactName, req.Context, deviceIDs, now)
			if qerr != nil {
				return fmt.Errorf("insert job: %w", qerr)
			}
			var collectErr error
			job, collectErr = collectJobFromRows(rows)
			rows.Close()
			if collectErr != nil {
				return fmt.Errorf("collect job: %w", collectErr)
			}

			if _, nerr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, queuedChannel, job.ID); nerr != nil {
				return fmt.Errorf("send job notification: %w", nerr)
			}
			return nil
		},
	})
	if txErr != nil {
		return nil, txErr
	}

	return job, nil
}

// collectJobFromRows collects a single job from pgx rows.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return job, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM test_jobs
		WHERE id = $1
	`, id)

	job, err := scanJobFromRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// MarkRunning transitions a queued job to running and records the provider
// matrix id. Returns false when the job is absent or no longer queued.
func (r *JobRepo) MarkRunning(ctx context.Context, id, matrixID string) (bool, error) {
	if strings.TrimSpace(matrixID) == "" {
		return false, errors.New("matrix id is required")
	}

	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE test_jobs
		SET status = 'running',
		    provider_matrix_id = $2,
		    started_at = COALESCE(started_at, $3),
		    updated_at = $3
		WHERE id = $1 AND status = 'queued'
	`, id, matrixID, now)
	if err != nil {
		return false, fmt.Errorf("mark job running: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// CompleteRun transitions a running job to completed, writing results, report,
// and duration in the same statement as the status guard. The guard makes the
// terminal write at-most-once under concurrent handlers.
func (r *JobRepo) CompleteRun(ctx context.Context, params core.CompleteRunParams) (bool, error) {
	if params.Report == nil {
		return false, errors.New("report is required to complete a job")
	}

	results, report, err := marshalOutcome(params.Results, params.Report)
	if err != nil {
		return false, err
	}

	now := r.timeProvider.Now().UTC()
	res, execErr := r.DB.ExecContext(ctx, `
		UPDATE test_jobs
		SET status = 'completed',
		    results = $2,
		    report = $3,
		    duration_seconds = $4,
		    failure_reason = NULL,
		    completed_at = $5,
		    updated_at = $5
		WHERE id = $1 AND status = 'running'
	`, params.ID, results, report, params.DurationSeconds, now)
	if execErr != nil {
		return false, fmt.Errorf("complete job: %w", execErr)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

// FailRun transitions a queued or running job to failed with a human-readable
// reason. Partial results are preserved when available so the failed job stays
// inspectable. Returns false when the job is absent or already terminal.
func (r *JobRepo) FailRun(ctx context.Context, params core.FailRunParams) (bool, error) {
	if strings.TrimSpace(params.Reason) == "" {
		return false, errors.New("failure reason is required")
	}

	var results []byte
	if len(params.Results) > 0 {
		var err error
		results, err = json.Marshal(params.Results)
		if err != nil {
			return false, fmt.Errorf("marshal results: %w", err)
		}
	}

	now := r.timeProvider.Now().UTC()
	res, execErr := r.DB.ExecContext(ctx, `
		UPDATE test_jobs
		SET status = 'failed',
		    failure_reason = $2,
		    results = COALESCE($3, results),
		    duration_seconds = CASE
		        WHEN started_at IS NULL THEN duration_seconds
		        ELSE ROUND(EXTRACT(EPOCH FROM ($4::timestamptz - started_at)))::int
		    END,
		    completed_at = $4,
		    updated_at = $4
		WHERE id = $1 AND status IN ('queued', 'running')
	`, params.ID, params.Reason, results, now)
	if execErr != nil {
		return false, fmt.Errorf("fail job: %w", execErr)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

func marshalOutcome(results []model.TestResult, report *model.Report) ([]byte, []byte, error) {
	if results == nil {
		results = []model.TestResult{}
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal results: %w", err)
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal report: %w", err)
	}
	return resultsJSON, reportJSON, nil
}

// List returns a user's jobs, newest first, with optional status filter.
func (r *JobRepo) List(ctx context.Context, q *model.ListJobsQuery) ([]*model.Job, error) {
	if q == nil || q.OwnerID == "" {
		return nil, errors.New("owner id is required")
	}

	limit := q.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT ` + jobColumns + `
		FROM test_jobs
		WHERE owner_id = $1
	`
	args := []any{q.OwnerID}
	if q.Status != nil {
		query += ` AND status = $2`
		args = append(args, *q.Status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var jobs []*model.Job
	for rows.Next() {
		job, scanErr := scanJobFromRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return jobs, nil
}

// ListActive returns queued and running jobs, oldest first. Used by the
// orchestrator to resume poll loops after a restart.
func (r *JobRepo) ListActive(ctx context.Context, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM test_jobs
		WHERE status IN ('queued', 'running')
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var jobs []*model.Job
	for rows.Next() {
		job, scanErr := scanJobFromRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return jobs, nil
}

// Stats returns counts of a user's jobs in each state.
func (r *JobRepo) Stats(ctx context.Context, ownerID string) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'queued')    AS queued,
    count(*) FILTER (WHERE status = 'running')   AS running,
    count(*) FILTER (WHERE status = 'completed') AS completed,
    count(*) FILTER (WHERE status = 'failed')    AS failed
  FROM test_jobs
  WHERE owner_id = $1
  `, ownerID).Scan(
		&s.Queued,
		&s.Running,
		&s.Completed,
		&s.Failed,
	)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return &s, nil
}

// Delete removes a terminal job record. Returns false when the job is absent;
// returns ErrJobNotDeletable when the job is still queued or running.
func (r *JobRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM test_jobs
		WHERE id = $1 AND status IN ('completed', 'failed')
	`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return true, nil
	}

	// Distinguish "absent" from "not terminal" for the caller's error mapping.
	var status model.JobStatus
	err = r.DB.QueryRowContext(ctx, `SELECT status FROM test_jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check job status: %w", err)
	}
	return false, ErrJobNotDeletable
}

// WaitForQueued blocks until a new job is queued or the context ends.
// It listens on the pg_notify channel written by Create.
func (r *JobRepo) WaitForQueued(ctx context.Context) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	quoted := pgx.Identifier{queuedChannel}.Sanitize()
	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", queuedChannel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			_ = execErr
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}
