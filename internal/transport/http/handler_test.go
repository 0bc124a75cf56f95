package httptransport_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epub-converter-service/internal/cache"
	"epub-converter-service/internal/entity"
	"epub-converter-service/internal/pipeline"
	"epub-converter-service/internal/progress"
	"epub-converter-service/internal/service"
	httptransport "epub-converter-service/internal/transport/http"
	"epub-converter-service/internal/usage"
)

// ---- fakes behind the real service and tracker ----

type memJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*entity.Job
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: map[uuid.UUID]*entity.Job{}}
}

func (r *memJobRepo) Create(ctx context.Context, ownerID string, input json.RawMessage) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.jobs[id] = &entity.Job{
		ID:           id,
		OwnerID:      ownerID,
		Status:       entity.StatusQueued,
		Input:        input,
		StageOutputs: map[string]json.RawMessage{},
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	return id, nil
}

func (r *memJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return job, nil
}

func (r *memJobRepo) Cancel(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status.Terminal() {
		return errors.New("not found")
	}
	job.Canceled = true
	return nil
}

func (r *memJobRepo) put(job *entity.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
}

type memQueue struct{ enqueued []string }

func (q *memQueue) Enqueue(ctx context.Context, jobID string, priority int) error {
	q.enqueued = append(q.enqueued, jobID)
	return nil
}

type memUsageStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (s *memUsageStore) Increment(ctx context.Context, ownerID string, period time.Time, limit int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = map[string]int64{}
	}
	if limit > 0 && s.counts[ownerID] >= limit {
		return s.counts[ownerID], false, nil
	}
	s.counts[ownerID]++
	return s.counts[ownerID], true, nil
}

func (s *memUsageStore) Get(ctx context.Context, ownerID string, period time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[ownerID], nil
}

type staticLimits map[string]int64

func (l staticLimits) Limit(ownerID string) int64  { return l[ownerID] }
func (l staticLimits) Priority(ownerID string) int { return 1 }

// ---- wiring ----

type testEnv struct {
	repo    *memJobRepo
	queue   *memQueue
	cache   cache.Client
	tracker *usage.Tracker
	server  http.Handler
}

func newTestEnv(t *testing.T, limits staticLimits) *testEnv {
	t.Helper()

	repo := newMemJobRepo()
	queue := &memQueue{}
	c := cache.NewMemoryClient()
	t.Cleanup(func() { c.Close() })

	tracker := usage.NewTracker(&memUsageStore{}, c, time.Hour, limits, zerolog.Nop())
	svc := service.NewConversionService(repo, queue, tracker, limits, zerolog.Nop())
	handler := httptransport.NewHandler(svc, progress.NewReader(c), tracker,
		[]string{pipeline.StageExtract, pipeline.StageAnalyze, pipeline.StagePackage})

	return &testEnv{
		repo:    repo,
		queue:   queue,
		cache:   c,
		tracker: tracker,
		server:  httptransport.Routes(handler, zerolog.Nop()),
	}
}

func (e *testEnv) do(method, path, owner, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if owner != "" {
		req.Header.Set("X-Owner-ID", owner)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createConversion(t *testing.T, owner string) uuid.UUID {
	t.Helper()
	rec := e.do(http.MethodPost, "/conversions", owner, `{"source_url":"s3://bucket/report.pdf"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id, err := uuid.Parse(resp.ID)
	require.NoError(t, err)
	return id
}

// ---- tests ----

func TestCreateConversion_Created(t *testing.T) {
	env := newTestEnv(t, staticLimits{})

	id := env.createConversion(t, "owner-1")

	assert.Equal(t, []string{id.String()}, env.queue.enqueued)

	rec := env.do(http.MethodGet, "/conversions/"+id.String(), "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp.Status)
}

func TestCreateConversion_MissingOwnerHeader(t *testing.T) {
	env := newTestEnv(t, staticLimits{})

	rec := env.do(http.MethodPost, "/conversions", "", `{"source_url":"s3://bucket/report.pdf"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateConversion_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, staticLimits{})

	rec := env.do(http.MethodPost, "/conversions", "owner-1", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing source_url")

	rec = env.do(http.MethodPost, "/conversions", "owner-1",
		`{"source_url":"s3://bucket/notes.docx","content_type":"application/msword"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unsupported content type")
}

func TestCreateConversion_QuotaExceededIs429(t *testing.T) {
	env := newTestEnv(t, staticLimits{"owner-1": 1})

	env.createConversion(t, "owner-1")

	rec := env.do(http.MethodPost, "/conversions", "owner-1", `{"source_url":"s3://bucket/two.pdf"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// rejected requests leave the reported usage untouched
	rec = env.do(http.MethodGet, "/usage", "owner-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var snap entity.UsageSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap.Count)
}

func TestGetConversion_NotFound(t *testing.T) {
	env := newTestEnv(t, staticLimits{})

	rec := env.do(http.MethodGet, "/conversions/"+uuid.NewString(), "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/conversions/not-a-uuid", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetConversion_CompletedIncludesEPUBRef(t *testing.T) {
	env := newTestEnv(t, staticLimits{})

	job := &entity.Job{
		ID:     uuid.New(),
		Status: entity.StatusCompleted,
		StageOutputs: map[string]json.RawMessage{
			pipeline.StagePackage: json.RawMessage(`{"epub_ref":"s3://bucket/out.epub","size_bytes":1024}`),
		},
	}
	env.repo.put(job)

	rec := env.do(http.MethodGet, "/conversions/"+job.ID.String(), "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "s3://bucket/out.epub")
}

func TestGetProgress_DerivesWhenCacheIsCold(t *testing.T) {
	env := newTestEnv(t, staticLimits{})
	id := env.createConversion(t, "owner-1")

	rec := env.do(http.MethodGet, "/conversions/"+id.String()+"/progress", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap entity.ProgressSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, entity.StatusQueued, snap.Status)
	assert.Equal(t, 0, snap.PercentComplete)
}

func TestGetProgress_ServedFromCache(t *testing.T) {
	env := newTestEnv(t, staticLimits{})
	id := env.createConversion(t, "owner-1")

	job, err := env.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	job.Status = entity.StatusRunning

	pub := progress.NewPublisher(env.cache, time.Hour, zerolog.Nop())
	pub.Publish(context.Background(), job, 33, "extracting document", map[string]int64{"pages": 9})

	rec := env.do(http.MethodGet, "/conversions/"+id.String()+"/progress", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap entity.ProgressSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 33, snap.PercentComplete)
	assert.Equal(t, "extracting document", snap.StageDescription)
	assert.Equal(t, int64(9), snap.ElementsDetected["pages"])
}

func TestGetResult_ConflictUntilCompleted(t *testing.T) {
	env := newTestEnv(t, staticLimits{})
	id := env.createConversion(t, "owner-1")

	rec := env.do(http.MethodGet, "/conversions/"+id.String()+"/result", "", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelConversion_Accepted(t *testing.T) {
	env := newTestEnv(t, staticLimits{})
	id := env.createConversion(t, "owner-1")

	rec := env.do(http.MethodDelete, "/conversions/"+id.String(), "", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	job, err := env.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, job.Canceled)
}

func TestGetUsage_ReflectsAcceptedJobs(t *testing.T) {
	env := newTestEnv(t, staticLimits{"owner-1": 10})

	env.createConversion(t, "owner-1")
	env.createConversion(t, "owner-1")

	rec := env.do(http.MethodGet, "/usage", "owner-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap entity.UsageSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, int64(2), snap.Count)
	assert.Equal(t, int64(10), snap.Limit)
	assert.Equal(t, int64(8), snap.Remaining)

	rec = env.do(http.MethodGet, "/usage", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
