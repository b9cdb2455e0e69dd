package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobiletester/mt-api/internal/core"
	"github.com/mobiletester/mt-api/internal/domain/model"
	"github.com/mobiletester/mt-api/internal/testutil"
)

func TestJobRepo_FailStaleQueuedJobs(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		now := time.Now().UTC()

		// Create with a clock 2 hours in the past so created_at is stale.
		past := NewJobRepo(db, RepoConfig{TimeProvider: NewFixedTimeProvider(now.Add(-2 * time.Hour))})
		stale, err := past.Create(ctx, testutil.JobRequest())
		require.NoError(t, err)

		repo := NewJobRepo(db, RepoConfig{TimeProvider: NewFixedTimeProvider(now)})
		fresh, err := repo.Create(ctx, testutil.JobRequest())
		require.NoError(t, err)

		n, err := repo.FailStaleQueuedJobs(ctx, time.Hour, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := repo.GetByID(ctx, stale.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		require.NotNil(t, got.FailureReason)
		assert.Equal(t, "Job timed out waiting to start", *got.FailureReason)

		got, err = repo.GetByID(ctx, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusQueued, got.Status)
	})
}

func TestJobRepo_FailOverdueRunningJobs(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		now := time.Now().UTC()

		past := NewJobRepo(db, RepoConfig{TimeProvider: NewFixedTimeProvider(now.Add(-2 * time.Hour))})
		overdue, err := past.Create(ctx, testutil.JobRequest())
		require.NoError(t, err)
		_, err = past.MarkRunning(ctx, overdue.ID, "matrix-old")
		require.NoError(t, err)

		repo := NewJobRepo(db, RepoConfig{TimeProvider: NewFixedTimeProvider(now)})
		current, err := repo.Create(ctx, testutil.JobRequest())
		require.NoError(t, err)
		_, err = repo.MarkRunning(ctx, current.ID, "matrix-new")
		require.NoError(t, err)

		n, err := repo.FailOverdueRunningJobs(ctx, time.Hour, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := repo.GetByID(ctx, overdue.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, got.Status)

		got, err = repo.GetByID(ctx, current.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusRunning, got.Status)
	})
}

func TestJobRepo_FailStaleQueuedJobs_Validation(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestRepo(t, db)
		ctx := context.Background()

		_, err := repo.FailStaleQueuedJobs(ctx, 0, 10)
		assert.Error(t, err)

		_, err = repo.FailStaleQueuedJobs(ctx, time.Hour, 0)
		assert.Error(t, err)
	})
}

func TestJobRepo_DeleteOldJobs(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		ctx := context.Background()
		now := time.Now().UTC()

		past := NewJobRepo(db, RepoConfig{TimeProvider: NewFixedTimeProvider(now.Add(-48 * time.Hour))})
		old, err := past.Create(ctx, testutil.JobRequest(func(r *model.CreateJobRequest) {
			r.ArtifactRef = "apks/owner-1/old.apk"
		}))
		require.NoError(t, err)
		_, err = past.FailRun(ctx, core.FailRunParams{ID: old.ID, Reason: "cancelled by user"})
		require.NoError(t, err)

		repo := NewJobRepo(db, RepoConfig{TimeProvider: NewFixedTimeProvider(now)})
		recent, err := repo.Create(ctx, testutil.JobRequest())
		require.NoError(t, err)
		_, err = repo.FailRun(ctx, core.FailRunParams{ID: recent.ID, Reason: "cancelled by user"})
		require.NoError(t, err)

		refs, err := repo.DeleteOldJobs(ctx, core.DeleteOldJobsParams{
			Status:    model.JobStatusFailed,
			MaxAge:    24 * time.Hour,
			BatchSize: 10,
		})
		require.NoError(t, err)
		require.Len(t, refs, 1)
		assert.Equal(t, "apks/owner-1/old.apk", refs[0])

		_, err = repo.GetByID(ctx, old.ID)
		assert.ErrorIs(t, err, ErrJobNotFound)

		_, err = repo.GetByID(ctx, recent.ID)
		assert.NoError(t, err)
	})
}

func TestJobRepo_DeleteOldJobs_Validation(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := newTestRepo(t, db)
		ctx := context.Background()

		_, err := repo.DeleteOldJobs(ctx, core.DeleteOldJobsParams{
			Status:    model.JobStatusRunning,
			MaxAge:    time.Hour,
			BatchSize: 10,
		})
		assert.Error(t, err)

		_, err = repo.DeleteOldJobs(ctx, core.DeleteOldJobsParams{
			Status:    model.JobStatusFailed,
			MaxAge:    time.Hour,
			BatchSize: 0,
		})
		assert.Error(t, err)
	})
}
