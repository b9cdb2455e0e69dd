// Package data implements the persistence layer over PostgreSQL.
package data

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/mobiletester/mt-api/internal/errors"

	"github.com/mobiletester/mt-api/internal/domain/model"
)

var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = apperrors.NotFound("job not found")
	// ErrJobNotDeletable is returned when attempting to delete a job that is still queued or running.
	ErrJobNotDeletable = apperrors.Conflict("job cannot be deleted (must be in completed or failed status)")
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for test job management.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  id,
  owner_id,
  artifact_ref,
  artifact_name,
  context,
  device_ids,
  status,
  provider_matrix_id,
  results,
  report,
  failure_reason,
  duration_seconds,
  created_at,
  started_at,
  completed_at,
  updated_at
`

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	deviceIDs, results, report []byte
	providerMatrixID, failure  sql.NullString
	contextText                sql.NullString
	durationSeconds            sql.NullInt64
	startedAt, completedAt     sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.OwnerID,
		&job.ArtifactRef,
		&job.ArtifactName,
		&d.contextText,
		&d.deviceIDs,
		&job.Status,
		&d.providerMatrixID,
		&d.results,
		&d.report,
		&d.failure,
		&d.durationSeconds,
		&job.CreatedAt,
		&d.startedAt,
		&d.completedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) error {
	if d.contextText.Valid {
		job.Context = d.contextText.String
	}
	job.ProviderMatrixID = cloneNullableString(d.providerMatrixID)
	job.FailureReason = cloneNullableString(d.failure)
	job.StartedAt = cloneNullableTime(d.startedAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
	if d.durationSeconds.Valid {
		v := int(d.durationSeconds.Int64)
		job.DurationSeconds = &v
	}

	if len(d.deviceIDs) > 0 {
		if err := json.Unmarshal(d.deviceIDs, &job.DeviceIDs); err != nil {
			return fmt.Errorf("decode device_ids: %w", err)
		}
	}
	if len(d.results) > 0 {
		if err := json.Unmarshal(d.results, &job.Results); err != nil {
			return fmt.Errorf("decode results: %w", err)
		}
	}
	if len(d.report) > 0 {
		var rep model.Report
		if err := json.Unmarshal(d.report, &rep); err != nil {
			return fmt.Errorf("decode report: %w", err)
		}
		job.Report = &rep
	}
	return nil
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}

	if err := data.apply(job); err != nil {
		return nil, err
	}
	return job, nil
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
