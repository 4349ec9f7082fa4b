package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"quizagent/internal/config"
	"quizagent/internal/runner"
	"quizagent/internal/store"
)

type fakeRunner struct {
	mu      sync.Mutex
	started chan struct{}
	release chan struct{}
	runs    []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (f *fakeRunner) Run(ctx context.Context, id, url, email, secret string, deadline time.Time) runner.ChainState {
	f.mu.Lock()
	f.runs = append(f.runs, url)
	f.mu.Unlock()
	f.started <- struct{}{}
	select {
	case <-f.release:
	case <-ctx.Done():
	}
	return runner.ChainState{ID: id, Status: runner.StatusDone}
}

func (f *fakeRunner) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.runs...)
}

type fakeJobs struct {
	records map[string]*store.ChainRecord
}

func (f *fakeJobs) Get(ctx context.Context, id string) (*store.ChainRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec, nil
}

func (f *fakeJobs) List(ctx context.Context, limit int) ([]store.ChainRecord, error) {
	out := make([]store.ChainRecord, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, *rec)
	}
	return out, nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Server.GinMode = "test"
	cfg.Server.MaxActiveChains = 2
	cfg.Auth.Email = "alice@example.com"
	cfg.Auth.Secret = "s3cret"
	cfg.LLM.APIKey = "test-key"
	return cfg
}

func newTestServer(t *testing.T, r ChainRunner, jobs JobStore) *Server {
	t.Helper()
	return New(testConfig(), r, jobs, zap.NewNop())
}

func postSolve(t *testing.T, srv *Server, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(http.MethodPost, "/solve", &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestSolveAccepted(t *testing.T) {
	fr := newFakeRunner()
	srv := newTestServer(t, fr, &fakeJobs{})

	w := postSolve(t, srv, map[string]string{
		"email":  "alice@example.com",
		"secret": "s3cret",
		"url":    "https://quiz.example.com/start",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])
	assert.NotEmpty(t, resp["job_id"])

	select {
	case <-fr.started:
	case <-time.After(2 * time.Second):
		t.Fatal("chain never started")
	}
	close(fr.release)
	assert.Equal(t, []string{"https://quiz.example.com/start"}, fr.urls())
}

func TestSolveRejectsBadCredentials(t *testing.T) {
	fr := newFakeRunner()
	srv := newTestServer(t, fr, &fakeJobs{})

	w := postSolve(t, srv, map[string]string{
		"email":  "alice@example.com",
		"secret": "wrong",
		"url":    "https://quiz.example.com/start",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, fr.urls())
}

func TestSolveRejectsMalformedBody(t *testing.T) {
	fr := newFakeRunner()
	srv := newTestServer(t, fr, &fakeJobs{})

	cases := []struct {
		name string
		body interface{}
	}{
		{"not json", "{{{"},
		{"missing url", map[string]string{"email": "alice@example.com", "secret": "s3cret"}},
		{"numeric secret", `{"email":"alice@example.com","secret":42,"url":"https://x"}`},
		{"empty email", map[string]string{"email": "", "secret": "s3cret", "url": "https://x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postSolve(t, srv, tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Empty(t, fr.urls())
}

func TestSolveCapsActiveChains(t *testing.T) {
	fr := newFakeRunner()
	srv := newTestServer(t, fr, &fakeJobs{})
	body := map[string]string{
		"email":  "alice@example.com",
		"secret": "s3cret",
		"url":    "https://quiz.example.com/start",
	}

	require.Equal(t, http.StatusAccepted, postSolve(t, srv, body).Code)
	require.Equal(t, http.StatusAccepted, postSolve(t, srv, body).Code)
	<-fr.started
	<-fr.started

	w := postSolve(t, srv, body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	close(fr.release)
}

func TestGetJob(t *testing.T) {
	jobs := &fakeJobs{records: map[string]*store.ChainRecord{
		"abc": {ID: "abc", StartURL: "https://quiz.example.com/start", Status: "done", Steps: 3},
	}}
	srv := newTestServer(t, newFakeRunner(), jobs)

	req := httptest.NewRequest(http.MethodGet, "/jobs/abc", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var rec store.ChainRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "done", rec.Status)
	assert.Equal(t, 3, rec.Steps)
}

func TestGetJobNotFound(t *testing.T) {
	srv := newTestServer(t, newFakeRunner(), &fakeJobs{})

	req := httptest.NewRequest(http.MethodGet, "/jobs/nope", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, newFakeRunner(), &fakeJobs{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}
