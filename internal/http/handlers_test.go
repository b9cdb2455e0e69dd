package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobiletester/mt-api/config"
	"github.com/mobiletester/mt-api/internal/core"
	"github.com/mobiletester/mt-api/internal/data"
	"github.com/mobiletester/mt-api/internal/devices"
	domainauth "github.com/mobiletester/mt-api/internal/domain/auth"
	"github.com/mobiletester/mt-api/internal/domain/model"
	mockauth "github.com/mobiletester/mt-api/internal/mocks/auth"
	"github.com/mobiletester/mt-api/internal/service"
)

// memJobRepo is an in-memory job repository honoring the conditional
// transition guards of the real one.
type memJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.Job
	seq  int

	createErr error
	listErr   error
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[string]*model.Job)}
}

func (r *memJobRepo) put(job *model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[cp.ID] = &cp
}

func (r *memJobRepo) Create(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.seq++
	now := time.Now()
	job := &model.Job{
		ID:           fmt.Sprintf("job-%d", r.seq),
		OwnerID:      req.OwnerID,
		ArtifactRef:  req.ArtifactRef,
		ArtifactName: req.ArtifactName,
		Context:      req.Context,
		DeviceIDs:    append([]string(nil), req.DeviceIDs...),
		Status:       model.JobStatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.jobs[job.ID] = job
	cp := *job
	return &cp, nil
}

func (r *memJobRepo) GetByID(_ context.Context, id string) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, data.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *memJobRepo) MarkRunning(_ context.Context, id, matrixID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != model.JobStatusQueued {
		return false, nil
	}
	now := time.Now()
	job.Status = model.JobStatusRunning
	job.ProviderMatrixID = &matrixID
	job.StartedAt = &now
	return true, nil
}

func (r *memJobRepo) CompleteRun(_ context.Context, params core.CompleteRunParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[params.ID]
	if !ok || job.Status != model.JobStatusRunning {
		return false, nil
	}
	now := time.Now()
	job.Status = model.JobStatusCompleted
	job.Results = params.Results
	job.Report = params.Report
	job.DurationSeconds = &params.DurationSeconds
	job.CompletedAt = &now
	return true, nil
}

func (r *memJobRepo) FailRun(_ context.Context, params core.FailRunParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[params.ID]
	if !ok || job.Status.Terminal() {
		return false, nil
	}
	now := time.Now()
	job.Status = model.JobStatusFailed
	reason := params.Reason
	job.FailureReason = &reason
	if params.Results != nil {
		job.Results = params.Results
	}
	job.CompletedAt = &now
	return true, nil
}

func (r *memJobRepo) List(_ context.Context, q *model.ListJobsQuery) ([]*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []*model.Job
	for _, job := range r.jobs {
		if job.OwnerID != q.OwnerID {
			continue
		}
		if q.Status != nil && job.Status != *q.Status {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *memJobRepo) Stats(_ context.Context, ownerID string) (*model.JobStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &model.JobStats{}
	for _, job := range r.jobs {
		if job.OwnerID != ownerID {
			continue
		}
		switch job.Status {
		case model.JobStatusQueued:
			stats.Queued++
		case model.JobStatusRunning:
			stats.Running++
		case model.JobStatusCompleted:
			stats.Completed++
		case model.JobStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (r *memJobRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || !job.Status.Terminal() {
		return false, nil
	}
	delete(r.jobs, id)
	return true, nil
}

func (r *memJobRepo) ListActive(_ context.Context, limit int) ([]*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var jobs []*model.Job
	for _, job := range r.jobs {
		if job.Status.Terminal() {
			continue
		}
		cp := *job
		jobs = append(jobs, &cp)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (r *memJobRepo) WaitForQueued(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

type memMatrixClient struct {
	mu        sync.Mutex
	cancelled []string
}

func (m *memMatrixClient) Start(context.Context, core.StartMatrixParams) (*model.StartedMatrix, error) {
	return &model.StartedMatrix{MatrixID: "matrix-1", State: model.MatrixPending}, nil
}

func (m *memMatrixClient) Poll(context.Context, string) (*model.MatrixSnapshot, error) {
	return &model.MatrixSnapshot{State: model.MatrixRunning}, nil
}

func (m *memMatrixClient) Cancel(_ context.Context, matrixID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, matrixID)
	return nil
}

type nopAnalyzer struct{}

func (nopAnalyzer) Analyze(context.Context, core.AnalyzeParams) *model.Report {
	return &model.Report{Summary: "ok", PassRate: 100, GeneratedBy: model.ReportSourceRules}
}

type memArtifactStore struct {
	mu        sync.Mutex
	uploads   []core.UploadArtifactParams
	deleted   []string
	uploadErr error
}

func (s *memArtifactStore) Upload(_ context.Context, params core.UploadArtifactParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	s.uploads = append(s.uploads, params)
	return fmt.Sprintf("apks/%s/%s", params.OwnerID, params.Name), nil
}

func (s *memArtifactStore) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, ref)
	return nil
}

func (s *memArtifactStore) deletedRefs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

type staticRenderer struct {
	doc []byte
	err error
}

func (r *staticRenderer) Render(*model.Job) ([]byte, error) {
	return r.doc, r.err
}

type apiFixture struct {
	router    http.Handler
	repo      *memJobRepo
	matrix    *memMatrixClient
	artifacts *memArtifactStore
	renderer  *staticRenderer
	sessions  *mockauth.MemorySessionStore
	catalog   *devices.Catalog
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	repo := newMemJobRepo()
	matrix := &memMatrixClient{}
	artifacts := &memArtifactStore{}
	renderer := &staticRenderer{doc: []byte("MobileTester - Test Report\n")}
	catalog := devices.NewCatalog()

	orch := service.MustNewJobOrchestrator(service.OrchestratorOptions{
		Repo:      repo,
		Matrix:    matrix,
		Analyzer:  nopAnalyzer{},
		Artifacts: artifacts,
		Catalog:   catalog,
		Config: config.OrchestratorConfig{
			InitialPollDelay: 10 * time.Second,
			PollInterval:     30 * time.Second,
			TransientBackoff: time.Minute,
			RunCeiling:       15 * time.Minute,
			TestTimeout:      10 * time.Minute,
			Concurrency:      1,
			ClaimBatchSize:   10,
		},
	})

	sessions := mockauth.NewMemorySessionStore()
	router := NewRouter(RouterServices{
		Jobs:      orch,
		Artifacts: artifacts,
		Reports:   renderer,
		Catalog:   catalog,
		Sessions:  sessions,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	return &apiFixture{
		router:    router,
		repo:      repo,
		matrix:    matrix,
		artifacts: artifacts,
		renderer:  renderer,
		sessions:  sessions,
		catalog:   catalog,
	}
}

// login stores a session and returns its cookie.
func (f *apiFixture) login(t *testing.T, userID string, role domainauth.Role) *http.Cookie {
	t.Helper()
	sess := domainauth.Session{
		ID:        "sess-" + userID,
		UserID:    userID,
		Email:     userID + "@example.com",
		Role:      role,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, f.sessions.Save(context.Background(), sess))
	return &http.Cookie{Name: DefaultCookieName, Value: sess.ID}
}

func (f *apiFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) get(t *testing.T, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return f.do(req)
}

func (f *apiFixture) post(t *testing.T, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return f.do(req)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

// uploadRequest builds a multipart POST /api/upload request.
func uploadRequest(t *testing.T, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := mw.CreateFormFile("apk", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func seededJob(id, owner string, status model.JobStatus) *model.Job {
	now := time.Now()
	job := &model.Job{
		ID:           id,
		OwnerID:      owner,
		ArtifactRef:  "apks/" + owner + "/app.apk",
		ArtifactName: "app.apk",
		DeviceIDs:    []string{"pixel_7"},
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if status != model.JobStatusQueued {
		started := now.Add(-time.Minute)
		matrixID := "matrix-" + id
		job.StartedAt = &started
		job.ProviderMatrixID = &matrixID
	}
	if status.Terminal() {
		job.CompletedAt = &now
	}
	if status == model.JobStatusCompleted {
		duration := 60
		job.DurationSeconds = &duration
		job.Results = []model.TestResult{{DeviceID: "pixel_7", Outcome: model.OutcomePassed, DurationSeconds: 60}}
		job.Report = &model.Report{Summary: "all good", PassRate: 100, GeneratedBy: model.ReportSourceRules}
	}
	return job
}

func TestUploadEndpoint(t *testing.T) {
	t.Run("creates a queued job", func(t *testing.T) {
		f := newAPIFixture(t)
		cookie := f.login(t, "user-1", domainauth.RoleUser)

		req := uploadRequest(t, "app.apk", bytes.Repeat([]byte{0x50}, 2048), map[string]string{
			"devices": `["pixel_7","samsung_galaxy_s24"]`,
			"context": "smoke test the login flow",
		})
		req.AddCookie(cookie)
		rec := f.do(req)

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var resp struct {
			JobID   string `json:"job_id"`
			Message string `json:"message"`
		}
		decodeBody(t, rec, &resp)
		require.NotEmpty(t, resp.JobID)
		assert.Equal(t, "APK uploaded successfully and testing has been queued", resp.Message)

		job, err := f.repo.GetByID(context.Background(), resp.JobID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusQueued, job.Status)
		assert.Equal(t, "user-1", job.OwnerID)
		assert.Equal(t, "apks/user-1/app.apk", job.ArtifactRef)
		assert.Equal(t, "app.apk", job.ArtifactName)
		assert.Equal(t, "smoke test the login flow", job.Context)
		assert.Equal(t, []string{"pixel_7", "samsung_galaxy_s24"}, job.DeviceIDs)

		require.Len(t, f.artifacts.uploads, 1)
		assert.Equal(t, "user-1", f.artifacts.uploads[0].OwnerID)
		assert.Equal(t, "app.apk", f.artifacts.uploads[0].Name)
	})

	t.Run("missing file yields 400", func(t *testing.T) {
		f := newAPIFixture(t)
		cookie := f.login(t, "user-1", domainauth.RoleUser)

		req := uploadRequest(t, "", nil, map[string]string{"devices": `["pixel_7"]`})
		req.AddCookie(cookie)
		rec := f.do(req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		var resp map[string]string
		decodeBody(t, rec, &resp)
		assert.Equal(t, "missing_file", resp["error"])
	})

	t.Run("missing device selection falls back to defaults", func(t *testing.T) {
		f := newAPIFixture(t)
		cookie := f.login(t, "user-1", domainauth.RoleUser)

		req := uploadRequest(t, "app.apk", bytes.Repeat([]byte{0x50}, 2048), nil)
		req.AddCookie(cookie)
		rec := f.do(req)

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var resp struct {
			JobID string `json:"job_id"`
		}
		decodeBody(t, rec, &resp)
		job, err := f.repo.GetByID(context.Background(), resp.JobID)
		require.NoError(t, err)
		assert.Equal(t, f.catalog.ListDefault(5), job.DeviceIDs)
	})

	t.Run("unknown-only device selection falls back to defaults", func(t *testing.T) {
		f := newAPIFixture(t)
		cookie := f.login(t, "user-1", domainauth.RoleUser)

		req := uploadRequest(t, "app.apk", bytes.Repeat([]byte{0x50}, 2048), map[string]string{
			"devices": `["imaginary_phone"]`,
		})
		req.AddCookie(cookie)
		rec := f.do(req)

		require.Equal(t, http.StatusCreated, rec.Code)
		var resp struct {
			JobID string `json:"job_id"`
		}
		decodeBody(t, rec, &resp)
		job, err := f.repo.GetByID(context.Background(), resp.JobID)
		require.NoError(t, err)
		assert.Equal(t, f.catalog.ListDefault(5), job.DeviceIDs)
	})

	t.Run("malformed device selection falls back to defaults", func(t *testing.T) {
		f := newAPIFixture(t)
		cookie := f.login(t, "user-1", domainauth.RoleUser)

		req := uploadRequest(t, "app.apk", bytes.Repeat([]byte{0x50}, 2048), map[string]string{
			"devices": `pixel_7, pixel_8_pro`,
		})
		req.AddCookie(cookie)
		rec := f.do(req)

		require.Equal(t, http.StatusCreated, rec.Code)
		var resp struct {
			JobID string `json:"job_id"`
		}
		decodeBody(t, rec, &resp)
		job, err := f.repo.GetByID(context.Background(), resp.JobID)
		require.NoError(t, err)
		assert.Equal(t, f.catalog.ListDefault(5), job.DeviceIDs)
	})

	t.Run("removes the artifact when job creation fails", func(t *testing.T) {
		f := newAPIFixture(t)
		f.repo.createErr = errors.New("database is down")
		cookie := f.login(t, "user-1", domainauth.RoleUser)

		req := uploadRequest(t, "app.apk", bytes.Repeat([]byte{0x50}, 2048), nil)
		req.AddCookie(cookie)
		rec := f.do(req)

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, []string{"apks/user-1/app.apk"}, f.artifacts.deletedRefs())
	})

	t.Run("upload failure yields 500 and no job", func(t *testing.T) {
		f := newAPIFixture(t)
		f.artifacts.uploadErr = errors.New("bucket unavailable")
		cookie := f.login(t, "user-1", domainauth.RoleUser)

		req := uploadRequest(t, "app.apk", bytes.Repeat([]byte{0x50}, 2048), nil)
		req.AddCookie(cookie)
		rec := f.do(req)

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Empty(t, f.repo.jobs)
	})
}

func TestListJobsEndpoint(t *testing.T) {
	t.Run("returns own jobs with stats and pagination", func(t *testing.T) {
		f := newAPIFixture(t)
		cookie := f.login(t, "user-1", domainauth.RoleUser)
		f.repo.put(seededJob("job-1", "user-1", model.JobStatusQueued))
		f.repo.put(seededJob("job-2", "user-1", model.JobStatusCompleted))
		f.repo.put(seededJob("job-3", "user-2", model.JobStatusQueued))

		rec := f.get(t, "/api/jobs", cookie)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Jobs  []model.Job     `json:"jobs"`
			Stats *model.JobStats `json:"stats"`
			Pag   struct {
				Limit   int  `json:"limit"`
				HasMore bool `json:"has_more"`
			} `json:"pagination"`
		}
		decodeBody(t, rec, &resp)
		require.Len(t, resp.Jobs, 2)
		for _, job := range resp.Jobs {
			assert.Equal(t, "user-1", job.OwnerID)
		}
		require.NotNil(t, resp.Stats)
		assert.Equal(t, 1, resp.Stats.Queued)
		assert.Equal(t, 1, resp.Stats.Completed)
		assert.Equal(t, 20, resp.Pag.Limit)
		assert.False(t, resp.Pag.HasMore)
	})

	t.Run("empty list is an empty array", func(t *testing.T) {
		f := newAPIFixture(t)
		cookie := f.login(t, "user-1", domainauth.RoleUser)

		rec := f.get(t, "/api/jobs", cookie)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"jobs":[]`)
	})

	t.Run("honors limit and reports has_more", func(t *testing.T) {
		f := newAPIFixture(t)
		cookie := f.login(t, "user-1", domainauth.RoleUser)
		f.repo.put(seededJob("job-1", "user-1", model.JobStatusQueued))
		f.repo.put(seededJob("job-2", "user-1", model.JobStatusQueued))

		rec := f.get(t, "/api/jobs?limit=1", cookie)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Jobs []model.Job `json:"jobs"`
			Pag  struct {
				Limit   int  `json:"limit"`
				HasMore bool `json:"has_more"`
			} `json:"pagination"`
		}
		decodeBody(t, rec, &resp)
		assert.Len(t, resp.Jobs, 1)
		assert.Equal(t, 1, resp.Pag.Limit)
		assert.True(t, resp.Pag.HasMore)
	})

	t.Run("filters by status", func(t *testing.T) {
		f := newAPIFixture(t)
		cookie := f.login(t, "user-1", domainauth.RoleUser)
		f.repo.put(seededJob("job-1", "user-1", model.JobStatusQueued))
		f.repo.put(seededJob("job-2", "user-1", model.JobStatusCompleted))

		rec := f.get(t, "/api/jobs?status=completed", cookie)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Jobs []model.Job `json:"jobs"`
		}
		decodeBody(t, rec, &resp)
		require.Len(t, resp.Jobs, 1)
		assert.Equal(t, "job-2", resp.Jobs[0].ID)
	})

	t.Run("rejects bad query params", func(t *testing.T) {
		f := newAPIFixture(t)
		cookie := f.login(t, "user-1", domainauth.RoleUser)

		rec := f.get(t, "/api/jobs?limit=zero", cookie)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.get(t, "/api/jobs?limit=-3", cookie)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.get(t, "/api/jobs?status=exploded", cookie)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListActiveJobsEndpoint(t *testing.T) {
	t.Run("admin sees active jobs across owners", func(t *testing.T) {
		f := newAPIFixture(t)
		f.repo.put(seededJob("job-1", "user-1", model.JobStatusQueued))
		f.repo.put(seededJob("job-2", "user-2", model.JobStatusRunning))
		f.repo.put(seededJob("job-3", "user-1", model.JobStatusCompleted))
		cookie := f.login(t, "admin-1", domainauth.RoleAdmin)

		rec := f.get(t, "/api/admin/jobs/active", cookie)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Jobs []*model.Job `json:"jobs"`
		}
		decodeBody(t, rec, &resp)
		require.Len(t, resp.Jobs, 2)
		owners := []string{resp.Jobs[0].OwnerID, resp.Jobs[1].OwnerID}
		sort.Strings(owners)
		assert.Equal(t, []string{"user-1", "user-2"}, owners)
	})

	t.Run("non-admin yields 403", func(t *testing.T) {
		f := newAPIFixture(t)
		f.repo.put(seededJob("job-1", "user-1", model.JobStatusQueued))
		cookie := f.login(t, "user-1", domainauth.RoleUser)

		rec := f.get(t, "/api/admin/jobs/active", cookie)
		require.Equal(t, http.StatusForbidden, rec.Code)
		var resp map[string]string
		decodeBody(t, rec, &resp)
		assert.Equal(t, "insufficient_permissions", resp["error"])
	})

	t.Run("rejects a non-positive limit", func(t *testing.T) {
		f := newAPIFixture(t)
		cookie := f.login(t, "admin-1", domainauth.RoleAdmin)

		rec := f.get(t, "/api/admin/jobs/active?limit=0", cookie)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetJobEndpoint(t *testing.T) {
	t.Run("returns own job", func(t *testing.T) {
		f := newAPIFixture(t)
		cookie := f.login(t, "user-1", domainauth.RoleUser)
		f.repo.put(seededJob("job-1", "user-1", model.JobStatusRunning))

		rec := f.get(t, "/api/jobs/job-1", cookie)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Job model.Job `json:"job"`
		}
		decodeBody(t, rec, &resp)
		assert.Equal(t, "job-1", resp.Job.ID)
		assert.Equal(t, model.JobStatusRunning, resp.Job.Status)
	})

	t.Run("missing job yields 404", func(t *testing.T) {
		f := newAPIFixture(t)
		cookie := f.login(t, "user-1", domainauth.RoleUser)

		rec := f.get(t, "/api/jobs/nope", cookie)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("another user's job yields 403", func(t *testing.T) {
		f := newAPIFixture(t)
		f.repo.put(seededJob("job-1", "user-1", model.JobStatusQueued))
		cookie := f.login(t, "user-2", domainauth.RoleUser)

		rec := f.get(t, "/api/jobs/job-1", cookie)
		require.Equal(t, http.StatusForbidden, rec.Code)
		var resp map[string]string
		decodeBody(t, rec, &resp)
		assert.Equal(t, "forbidden", resp["error"])
	})

	t.Run("admin can read any job", func(t *testing.T) {
		f := newAPIFixture(t)
		f.repo.put(seededJob("job-1", "user-1", model.JobStatusQueued))
		cookie := f.login(t, "admin-1", domainauth.RoleAdmin)

		rec := f.get(t, "/api/jobs/job-1", cookie)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCancelJobEndpoint(t *testing.T) {
	t.Run("cancels a queued job", func(t *testing.T) {
		f := newAPIFixture(t)
		cookie := f.login(t, "user-1", domainauth.RoleUser)
		f.repo.put(seededJob("job-1", "user-1", model.JobStatusQueued))

		rec := f.post(t, "/api/jobs/job-1/cancel", cookie)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Job model.Job `json:"job"`
		}
		decodeBody(t, rec, &resp)
		assert.Equal(t, model.JobStatusFailed, resp.Job.Status)
		require.NotNil(t, resp.Job.FailureReason)
		assert.Equal(t, service.CancelledByUserReason, *resp.Job.FailureReason)
		assert.Empty(t, f.matrix.cancelled)
	})

	t.Run("cancels a running job through the provider", func(t *testing.T) {
		f := newAPIFixture(t)
		cookie := f.login(t, "user-1", domainauth.RoleUser)
		f.repo.put(seededJob("job-1", "user-1", model.JobStatusRunning))

		rec := f.post(t, "/api/jobs/job-1/cancel", cookie)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Job model.Job `json:"job"`
		}
		decodeBody(t, rec, &resp)
		assert.Equal(t, model.JobStatusFailed, resp.Job.Status)
		assert.Equal(t, []string{"matrix-job-1"}, f.matrix.cancelled)
	})

	t.Run("cancelling a terminal job is a no-op", func(t *testing.T) {
		f := newAPIFixture(t)
		cookie := f.login(t, "user-1", domainauth.RoleUser)
		f.repo.put(seededJob("job-1", "user-1", model.JobStatusCompleted))

		rec := f.post(t, "/api/jobs/job-1/cancel", cookie)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Job model.Job `json:"job"`
		}
		decodeBody(t, rec, &resp)
		assert.Equal(t, model.JobStatusCompleted, resp.Job.Status)
		assert.Empty(t, f.matrix.cancelled)
	})
}

func TestDeleteJobEndpoint(t *testing.T) {
	t.Run("deletes a terminal job and its artifact", func(t *testing.T) {
		f := newAPIFixture(t)
		cookie := f.login(t, "user-1", domainauth.RoleUser)
		f.repo.put(seededJob("job-1", "user-1", model.JobStatusFailed))

		req := httptest.NewRequest(http.MethodDelete, "/api/jobs/job-1", nil)
		req.AddCookie(cookie)
		rec := f.do(req)
		require.Equal(t, http.StatusNoContent, rec.Code)

		assert.Equal(t, []string{"apks/user-1/app.apk"}, f.artifacts.deletedRefs())
		rec = f.get(t, "/api/jobs/job-1", cookie)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("active jobs cannot be deleted", func(t *testing.T) {
		f := newAPIFixture(t)
		cookie := f.login(t, "user-1", domainauth.RoleUser)
		f.repo.put(seededJob("job-1", "user-1", model.JobStatusRunning))

		req := httptest.NewRequest(http.MethodDelete, "/api/jobs/job-1", nil)
		req.AddCookie(cookie)
		rec := f.do(req)

		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Empty(t, f.artifacts.deletedRefs())
	})
}

func TestReportEndpoint(t *testing.T) {
	t.Run("serves the report as an attachment", func(t *testing.T) {
		f := newAPIFixture(t)
		cookie := f.login(t, "user-1", domainauth.RoleUser)
		f.repo.put(seededJob("job-1", "user-1", model.JobStatusCompleted))

		rec := f.get(t, "/api/jobs/job-1/report", cookie)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename="test-report-job-1.txt"`, rec.Header().Get("Content-Disposition"))
		assert.Equal(t, string(f.renderer.doc), rec.Body.String())
	})

	t.Run("unfinished jobs have no report", func(t *testing.T) {
		f := newAPIFixture(t)
		cookie := f.login(t, "user-1", domainauth.RoleUser)
		f.repo.put(seededJob("job-1", "user-1", model.JobStatusRunning))

		rec := f.get(t, "/api/jobs/job-1/report", cookie)
		require.Equal(t, http.StatusConflict, rec.Code)
		var resp map[string]string
		decodeBody(t, rec, &resp)
		assert.Equal(t, "report_unavailable", resp["error"])
	})

	t.Run("render failure yields 500", func(t *testing.T) {
		f := newAPIFixture(t)
		f.renderer.err = errors.New("template exploded")
		cookie := f.login(t, "user-1", domainauth.RoleUser)
		f.repo.put(seededJob("job-1", "user-1", model.JobStatusCompleted))

		rec := f.get(t, "/api/jobs/job-1/report", cookie)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestDevicesEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	cookie := f.login(t, "user-1", domainauth.RoleUser)

	rec := f.get(t, "/api/devices", cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Devices []devices.Device `json:"devices"`
		Default []string         `json:"default"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, len(f.catalog.ListAll()), len(resp.Devices))
	assert.Equal(t, f.catalog.ListDefault(5), resp.Default)
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.get(t, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
