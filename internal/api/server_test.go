package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/pixelnorm/internal/domain"
	"github.com/dunamismax/pixelnorm/internal/id"
	"github.com/dunamismax/pixelnorm/internal/pipeline"
	"github.com/dunamismax/pixelnorm/internal/queue"
	"github.com/dunamismax/pixelnorm/internal/ratelimit"
	"github.com/dunamismax/pixelnorm/internal/store"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="120" height="60" viewBox="0 0 120 60">` +
	`<rect x="0" y="0" width="120" height="60" fill="#336699"/>` +
	`</svg>`

type fakeQueue struct {
	mu       sync.Mutex
	payloads []queue.NormalizeImagePayload
	err      error
}

func (q *fakeQueue) EnqueueNormalizeImage(_ context.Context, payload queue.NormalizeImagePayload) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{ID: payload.JobID, Queue: "default", State: asynq.TaskStatePending}, nil
}

type fakeStorage struct {
	presigned []string
	exists    bool
}

func (s *fakeStorage) PresignedPutURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	s.presigned = append(s.presigned, objectKey)
	return "https://storage.test/" + objectKey + "?signed=1", nil
}

func (s *fakeStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return s.exists, nil
}

type fakeLimiter struct {
	mu      sync.Mutex
	allow   bool
	costs   []int64
	subject []string
}

func (l *fakeLimiter) AllowN(_ context.Context, subject string, cost int64) (ratelimit.Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.costs = append(l.costs, cost)
	l.subject = append(l.subject, subject)
	if l.allow {
		return ratelimit.Decision{Allowed: true, Remaining: 9}, nil
	}
	return ratelimit.Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}, nil
}

type testEnv struct {
	server  *Server
	handler http.Handler
	queue   *fakeQueue
	storage *fakeStorage
	jobs    *store.MemoryJobStore
}

func newTestEnv(t *testing.T, mutate func(*Options)) testEnv {
	t.Helper()

	stages, err := pipeline.NewStages(pipeline.DefaultCodec(), pipeline.Config{}, zerolog.Nop())
	require.NoError(t, err)

	env := testEnv{
		queue:   &fakeQueue{},
		storage: &fakeStorage{exists: true},
		jobs:    store.NewMemoryJobStore(),
	}
	opts := Options{
		Logger:  zerolog.Nop(),
		Queue:   env.queue,
		Jobs:    env.jobs,
		Storage: env.storage,
		Stages:  stages,
		Defaults: domain.NormalizeSettings{
			MaxDimension:  100,
			SizeThreshold: "1MB",
			ColorSpace:    "srgb",
		},
		MaxUploadBytes: 1 << 20,
		BytesPerToken:  1024,
	}
	if mutate != nil {
		mutate(&opts)
	}

	env.server, err = NewServer(opts)
	require.NoError(t, err)
	env.handler = env.server.Handler()
	return env
}

func (env testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestNewServerRequiresDependencies(t *testing.T) {
	_, err := NewServer(Options{Jobs: store.NewMemoryJobStore()})
	require.Error(t, err)

	_, err = NewServer(Options{Queue: &fakeQueue{}, Jobs: store.NewMemoryJobStore()})
	require.ErrorContains(t, err, "stages")
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestNormalizeResizesRaster(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/normalize", bytes.NewReader(pngBytes(t, 400, 200)))
	req.Header.Set("Content-Type", "image/png")
	rec := env.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "100", rec.Header().Get(HeaderImageWidth))
	assert.Equal(t, "50", rec.Header().Get(HeaderImageHeight))
	assert.Equal(t, "true", rec.Header().Get(HeaderResized))
	assert.Equal(t, "false", rec.Header().Get(HeaderExempt))

	cfg, err := png.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
}

func TestNormalizeQueryOverridesAndFormat(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/normalize?max_dimension=40&format=image/jpeg&quality=0.5", bytes.NewReader(pngBytes(t, 80, 80)))
	rec := env.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "40", rec.Header().Get(HeaderImageWidth))
}

func TestNormalizePassesSmallSVGThrough(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/normalize", strings.NewReader(testSVG))
	req.Header.Set("Content-Type", "image/svg+xml")
	rec := env.do(req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Equal(t, "true", rec.Header().Get(HeaderExempt))
	assert.Equal(t, testSVG, rec.Body.String())
}

func TestNormalizeErrorStatuses(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.MaxUploadBytes = 4096 })

	tests := []struct {
		name   string
		target string
		ctype  string
		body   []byte
		status int
	}{
		{name: "garbage", target: "/v1/normalize", ctype: "image/png", body: []byte("not an image"), status: http.StatusUnprocessableEntity},
		{name: "bad threshold", target: "/v1/normalize?size_threshold=huge", ctype: "image/png", body: pngBytes(t, 4, 4), status: http.StatusBadRequest},
		{name: "bad dimension", target: "/v1/normalize?max_dimension=-1", ctype: "image/png", body: pngBytes(t, 4, 4), status: http.StatusBadRequest},
		{name: "bad quality", target: "/v1/normalize?quality=2", ctype: "image/png", body: pngBytes(t, 4, 4), status: http.StatusBadRequest},
		{name: "bad color space", target: "/v1/normalize?color_space=cmyk", ctype: "image/png", body: pngBytes(t, 4, 4), status: http.StatusBadRequest},
		{name: "empty", target: "/v1/normalize", ctype: "image/png", body: nil, status: http.StatusBadRequest},
		{name: "too large", target: "/v1/normalize", ctype: "image/png", body: bytes.Repeat([]byte{0x89}, 8192), status: http.StatusRequestEntityTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.target, bytes.NewReader(tc.body))
			req.Header.Set("Content-Type", tc.ctype)
			rec := env.do(req)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestCreateAndStartS3Job(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{
		"source_type": "s3_presigned",
		"declared_type": "image/png",
		"max_dimension": 640,
		"outputs": [{"id": "thumb", "format": "image/jpeg", "quality": 0.8}]
	}`))
	req.Header.Set("X-User-ID", "user-7")
	rec := env.do(req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	jobID, _ := body["job_id"].(string)
	require.True(t, id.Valid(jobID))
	require.Len(t, env.storage.presigned, 1)
	assert.Equal(t, "uploads/"+jobID+"/source", env.storage.presigned[0])

	job, ok, err := env.jobs.Get(context.Background(), jobID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "user-7", job.UserID)
	assert.Equal(t, 640, job.Settings.MaxDimension)
	assert.Equal(t, "1MB", job.Settings.SizeThreshold, "defaults fill unset settings")

	rec = env.do(httptest.NewRequest(http.MethodPost, "/v1/jobs/"+jobID+"/start", nil))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, env.queue.payloads, 1)
	payload := env.queue.payloads[0]
	assert.Equal(t, jobID, payload.JobID)
	assert.Equal(t, "user-7", payload.UserID)
	require.Len(t, payload.Outputs, 1)
	assert.Equal(t, "thumb", payload.Outputs[0].ID)

	job, _, _ = env.jobs.Get(context.Background(), jobID)
	assert.Equal(t, domain.JobStatusQueued, job.Status)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/v1/jobs/"+jobID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.JobStatusQueued, decodeBody(t, rec)["status"])
}

func TestStartJobConflicts(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"source_type":"s3_presigned"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	jobID := decodeBody(t, rec)["job_id"].(string)

	env.queue.err = asynq.ErrTaskIDConflict
	rec = env.do(httptest.NewRequest(http.MethodPost, "/v1/jobs/"+jobID+"/start", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	env.queue.err = nil
	env.storage.exists = false
	rec = env.do(httptest.NewRequest(http.MethodPost, "/v1/jobs/"+jobID+"/start", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing")
}

func TestCreateJobRejectsLocalFile(t *testing.T) {
	env := newTestEnv(t, nil)
	path := filepath.Join(t.TempDir(), "in.png")
	require.NoError(t, os.WriteFile(path, pngBytes(t, 4, 4), 0o644))

	rec := env.do(httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(
		`{"source_type":"local_file","object_key":"`+path+`"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "local_file")
	assert.Empty(t, env.storage.presigned)

	// A stored local job, e.g. from an older deployment, still cannot be started.
	job := domain.Job{ID: id.New(), Status: domain.JobStatusCreated, SourceType: domain.SourceTypeLocalFile, ObjectKey: path}
	require.NoError(t, env.jobs.Create(context.Background(), job))
	rec = env.do(httptest.NewRequest(http.MethodPost, "/v1/jobs/"+job.ID+"/start", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, env.queue.payloads)
}

func TestJobLookupErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/v1/jobs/not-an-id", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/v1/jobs/"+id.New(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"source_type":"ftp"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"source_type":"s3_presigned","bogus":1}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitChargesByBodySize(t *testing.T) {
	limiter := &fakeLimiter{allow: true}
	env := newTestEnv(t, func(o *Options) { o.RateLimiter = limiter })

	req := httptest.NewRequest(http.MethodPost, "/v1/normalize", bytes.NewReader(make([]byte, 3000)))
	req.Header.Set("X-User-ID", "u1")
	env.do(req)

	env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Len(t, limiter.costs, 1, "GET requests are not limited")
	assert.EqualValues(t, 3, limiter.costs[0])
	assert.Equal(t, "u1:/v1/normalize", limiter.subject[0])
}

func TestRateLimitRejects(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.RateLimiter = &fakeLimiter{} })

	rec := env.do(httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"source_type":"s3_presigned"}`)))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}

func TestRouteLabel(t *testing.T) {
	tests := map[string]string{
		"/v1/jobs":           "/v1/jobs",
		"/v1/jobs/abc":       "/v1/jobs/{id}",
		"/v1/jobs/abc/start": "/v1/jobs/{id}/start",
		"/v1/normalize":      "/v1/normalize",
		"/favicon.ico":       "other",
	}
	for path, want := range tests {
		assert.Equal(t, want, routeLabel(path), path)
	}
}
