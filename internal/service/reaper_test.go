package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobiletester/mt-api/config"
	"github.com/mobiletester/mt-api/internal/core"
	"github.com/mobiletester/mt-api/internal/domain/model"
)

// mockReaperRepo implements core.JobReaperRepository for testing.
type mockReaperRepo struct {
	failStaleCalls   int
	failOverdueCalls int
	deleteCalls      int

	failStaleMaxAge   time.Duration
	failOverdueMaxAge time.Duration
	deleteParams      []core.DeleteOldJobsParams

	// Counts returned on the first call, then 0.
	failStaleCount   int64
	failOverdueCount int64
	// Refs returned on the first call per status, then empty to end the
	// batch loop.
	deleteRefs map[model.JobStatus][]string

	failStaleErr   error
	failOverdueErr error
	deleteErr      error
}

func (m *mockReaperRepo) FailStaleQueuedJobs(_ context.Context, maxAge time.Duration, _ int) (int64, error) {
	m.failStaleCalls++
	m.failStaleMaxAge = maxAge
	if m.failStaleErr != nil {
		return 0, m.failStaleErr
	}
	if m.failStaleCalls == 1 {
		return m.failStaleCount, nil
	}
	return 0, nil
}

func (m *mockReaperRepo) FailOverdueRunningJobs(_ context.Context, maxAge time.Duration, _ int) (int64, error) {
	m.failOverdueCalls++
	m.failOverdueMaxAge = maxAge
	if m.failOverdueErr != nil {
		return 0, m.failOverdueErr
	}
	if m.failOverdueCalls == 1 {
		return m.failOverdueCount, nil
	}
	return 0, nil
}

func (m *mockReaperRepo) DeleteOldJobs(_ context.Context, params core.DeleteOldJobsParams) ([]string, error) {
	m.deleteCalls++
	m.deleteParams = append(m.deleteParams, params)
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	refs := m.deleteRefs[params.Status]
	delete(m.deleteRefs, params.Status)
	return refs, nil
}

// mockArtifactStore implements core.ArtifactStore for testing.
type mockArtifactStore struct {
	mu        sync.Mutex
	uploadRef string
	uploadErr error
	deleteErr error
	uploads   []core.UploadArtifactParams
	deleted   []string
}

func (m *mockArtifactStore) Upload(_ context.Context, params core.UploadArtifactParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, params)
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	return m.uploadRef, nil
}

func (m *mockArtifactStore) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, ref)
	return m.deleteErr
}

func (m *mockArtifactStore) deletedRefs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

func testReaperConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:        5 * time.Minute,
		QueuedMaxAge:    time.Hour,
		RunningMaxAge:   30 * time.Minute,
		CompletedMaxAge: 168 * time.Hour,
		FailedMaxAge:    168 * time.Hour,
		BatchSize:       1000,
	}
}

func TestNewReaperService(t *testing.T) {
	t.Run("requires repository", func(t *testing.T) {
		_, err := NewReaperService(ReaperServiceOptions{Config: testReaperConfig()})
		require.Error(t, err)
		assert.Equal(t, "JobReaperRepository is required", err.Error())
	})

	t.Run("valid options", func(t *testing.T) {
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   &mockReaperRepo{},
			Config: testReaperConfig(),
		})
		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("must panics on error", func(t *testing.T) {
		assert.Panics(t, func() {
			MustNewReaperService(ReaperServiceOptions{})
		})
	})
}

func TestReaperService_RunCleanup(t *testing.T) {
	t.Run("runs all steps", func(t *testing.T) {
		repo := &mockReaperRepo{
			failStaleCount:   3,
			failOverdueCount: 2,
			deleteRefs: map[model.JobStatus][]string{
				model.JobStatusCompleted: {"apks/u1/one.apk", "apks/u1/two.apk"},
				model.JobStatusFailed:    {"apks/u2/three.apk"},
			},
		}
		artifacts := &mockArtifactStore{}
		svc := MustNewReaperService(ReaperServiceOptions{
			Repo:      repo,
			Config:    testReaperConfig(),
			Artifacts: artifacts,
		})

		err := svc.RunCleanup(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 1, repo.failStaleCalls)
		assert.Equal(t, time.Hour, repo.failStaleMaxAge)
		assert.Equal(t, 1, repo.failOverdueCalls)
		assert.Equal(t, 30*time.Minute, repo.failOverdueMaxAge)

		// One batch with rows and one empty batch per terminal status.
		assert.Equal(t, 4, repo.deleteCalls)
		assert.Equal(t, model.JobStatusCompleted, repo.deleteParams[0].Status)
		assert.Equal(t, 168*time.Hour, repo.deleteParams[0].MaxAge)
		assert.Equal(t, 1000, repo.deleteParams[0].BatchSize)
		assert.Equal(t, model.JobStatusFailed, repo.deleteParams[2].Status)

		assert.Equal(t,
			[]string{"apks/u1/one.apk", "apks/u1/two.apk", "apks/u2/three.apk"},
			artifacts.deletedRefs(),
		)
	})

	t.Run("skips empty artifact refs", func(t *testing.T) {
		repo := &mockReaperRepo{
			deleteRefs: map[model.JobStatus][]string{
				model.JobStatusCompleted: {"", "apks/u1/kept.apk", ""},
			},
		}
		artifacts := &mockArtifactStore{}
		svc := MustNewReaperService(ReaperServiceOptions{
			Repo:      repo,
			Config:    testReaperConfig(),
			Artifacts: artifacts,
		})

		require.NoError(t, svc.RunCleanup(context.Background()))
		assert.Equal(t, []string{"apks/u1/kept.apk"}, artifacts.deletedRefs())
	})

	t.Run("works without an artifact store", func(t *testing.T) {
		repo := &mockReaperRepo{
			deleteRefs: map[model.JobStatus][]string{
				model.JobStatusFailed: {"apks/u1/orphan.apk"},
			},
		}
		svc := MustNewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: testReaperConfig(),
		})

		require.NoError(t, svc.RunCleanup(context.Background()))
	})

	t.Run("artifact delete failures do not fail cleanup", func(t *testing.T) {
		repo := &mockReaperRepo{
			deleteRefs: map[model.JobStatus][]string{
				model.JobStatusCompleted: {"apks/u1/gone.apk"},
			},
		}
		artifacts := &mockArtifactStore{deleteErr: errors.New("bucket unreachable")}
		svc := MustNewReaperService(ReaperServiceOptions{
			Repo:      repo,
			Config:    testReaperConfig(),
			Artifacts: artifacts,
		})

		require.NoError(t, svc.RunCleanup(context.Background()))
		assert.Equal(t, []string{"apks/u1/gone.apk"}, artifacts.deletedRefs())
	})

	t.Run("aggregates step errors but runs every step", func(t *testing.T) {
		repo := &mockReaperRepo{
			failStaleErr: errors.New("stale query failed"),
			deleteErr:    errors.New("delete query failed"),
		}
		svc := MustNewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: testReaperConfig(),
		})

		err := svc.RunCleanup(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fail stale queued jobs")
		assert.Contains(t, err.Error(), "delete old completed jobs")
		assert.Contains(t, err.Error(), "delete old failed jobs")

		assert.Equal(t, 1, repo.failStaleCalls)
		assert.Equal(t, 1, repo.failOverdueCalls)
		assert.Equal(t, 2, repo.deleteCalls)
	})

	t.Run("stops between steps on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		repo := &mockReaperRepo{}
		svc := MustNewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: testReaperConfig(),
		})

		err := svc.RunCleanup(ctx)
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, repo.failStaleCalls)
		assert.Equal(t, 0, repo.failOverdueCalls)
	})
}

func TestReaperService_Run_StopsOnCancel(t *testing.T) {
	svc := MustNewReaperService(ReaperServiceOptions{
		Repo:   &mockReaperRepo{},
		Config: testReaperConfig(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reaper did not stop after context cancellation")
	}
}
