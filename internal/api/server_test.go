// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomparity/vpo-sub005/internal/probe"
	"github.com/randomparity/vpo-sub005/internal/queue"
	"github.com/randomparity/vpo-sub005/internal/store"
	"github.com/randomparity/vpo-sub005/internal/vpotypes"
)

func newTestServer(t *testing.T, opts Options) (*Server, *store.Store, *queue.Queue) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	q := queue.New(st)
	return NewServer(st, q, opts), st, q
}

func doJSON(t *testing.T, h http.Handler, method, path string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, Options{})
	h := s.Handler()

	rec, body := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	s.SetShuttingDown()
	rec, body = doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "shutting_down", body["status"])
}

func TestAuthToken(t *testing.T) {
	s, _, _ := newTestServer(t, Options{AuthToken: "sekrit"})
	h := s.Handler()

	rec, _ := doJSON(t, h, http.MethodGet, "/api/jobs", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doJSON(t, h, http.MethodGet, "/api/jobs", map[string]string{
		"Authorization": "Bearer wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doJSON(t, h, http.MethodGet, "/api/jobs", map[string]string{
		"Authorization": "Bearer sekrit",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open for load balancers.
	rec, _ = doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthBasic(t *testing.T) {
	s, _, _ := newTestServer(t, Options{AuthToken: "sekrit"})
	h := s.Handler()

	basic := func(user, pass string) string {
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
	}

	// Any username works; the password is the shared token.
	rec, _ := doJSON(t, h, http.MethodGet, "/api/jobs", map[string]string{
		"Authorization": basic("ops", "sekrit"),
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, h, http.MethodGet, "/api/jobs", map[string]string{
		"Authorization": basic("ops", "wrong"),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = doJSON(t, h, http.MethodGet, "/api/jobs", map[string]string{
		"Authorization": "Basic not-base64",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListJobsFilters(t *testing.T) {
	s, _, q := newTestServer(t, Options{})
	h := s.Handler()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, vpotypes.JobKindApply, "/library/show.mkv", 5, "")
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, vpotypes.JobKindScan, "/library", 0, "")
	require.NoError(t, err)

	rec, body := doJSON(t, h, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["total"])

	rec, body = doJSON(t, h, http.MethodGet, "/api/jobs?kind=apply", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])

	rec, body = doJSON(t, h, http.MethodGet, "/api/jobs?search=show", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])

	rec, _ = doJSON(t, h, http.MethodGet, "/api/jobs?since=not-a-time", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Injection attempts in sort are rejected by the column whitelist.
	rec, _ = doJSON(t, h, http.MethodGet, "/api/jobs?sort=created_at;DROP+TABLE+jobs", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobDetailAndLogs(t *testing.T) {
	s, st, q := newTestServer(t, Options{})
	h := s.Handler()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, vpotypes.JobKindApply, "/library/a.mkv", 0, "")
	require.NoError(t, err)
	require.NoError(t, st.AppendJobLog(ctx, id, "info", "plan applied"))

	rec, body := doJSON(t, h, http.MethodGet, "/api/jobs/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "queued", body["status"])
	assert.Contains(t, body, "progress")

	rec, body = doJSON(t, h, http.MethodGet, "/api/jobs/"+id+"/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lines := body["lines"].([]any)
	require.Len(t, lines, 1)

	rec, _ = doJSON(t, h, http.MethodGet, "/api/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelAndRequeue(t *testing.T) {
	s, st, q := newTestServer(t, Options{})
	h := s.Handler()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, vpotypes.JobKindApply, "/library/a.mkv", 0, "")
	require.NoError(t, err)

	rec, _ := doJSON(t, h, http.MethodPost, "/api/jobs/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	job, err := st.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, vpotypes.JobStatusCancelled, job.Status)

	// Cancelling again conflicts: the job is no longer queued.
	rec, _ = doJSON(t, h, http.MethodPost, "/api/jobs/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = doJSON(t, h, http.MethodPost, "/api/jobs/"+id+"/requeue", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	job, err = st.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, vpotypes.JobStatusQueued, job.Status)
}

func TestLibraryFileDetail(t *testing.T) {
	s, st, _ := newTestServer(t, Options{})
	h := s.Handler()
	ctx := context.Background()

	fi := &probe.FileInfo{
		Path:      "/library/movie.mkv",
		Container: "mkv",
		Size:      1 << 20,
		ModTime:   time.Now().UTC(),
		Tracks: []probe.Track{
			{Index: 0, Kind: probe.KindVideo, Codec: "h264"},
		},
	}
	id, err := st.UpsertFile(ctx, fi, "")
	require.NoError(t, err)

	rec, body := doJSON(t, h, http.MethodGet, "/api/library/"+jsonInt(id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/library/movie.mkv", body["Path"])

	rec, _ = doJSON(t, h, http.MethodGet, "/api/library/999999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, h, http.MethodGet, "/api/library/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPluginsEmpty(t *testing.T) {
	s, _, _ := newTestServer(t, Options{})
	rec, body := doJSON(t, s.Handler(), http.MethodGet, "/api/plugins", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["plugins"])
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, Options{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
