package frontdoor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bwdash/services/dashboard/internal/snapshot"
)

const sampleSnapshot = `{
  "current": {"rx_rate": 4200000, "tx_rate": 1300000, "interface": "eth0"},
  "today": {"rx": 1200000000, "tx": 600000000, "date": "2026-10-18"},
  "daily_history": [],
  "meta": {"generated_at": "2026-10-18T10:00:00", "interface": "eth0"}
}
`

type harness struct {
	dir    string
	stats  string
	script string
	runner *snapshot.FakeRunner
	store  *snapshot.Store
	srv    *Server
	h      http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		dir:    dir,
		stats:  filepath.Join(dir, "api", "stats.json"),
		script: filepath.Join(dir, "api", "generate_json.sh"),
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "api"), 0o755))
	require.NoError(t, os.WriteFile(h.script, []byte("#!/usr/bin/env bash\n"), 0o755))

	h.runner = &snapshot.FakeRunner{Hook: func(ctx context.Context) error {
		return os.WriteFile(h.stats, []byte(sampleSnapshot), 0o644)
	}}

	store, err := snapshot.NewStore(snapshot.Options{
		StatsFile:   h.stats,
		Script:      h.script,
		Interpreter: "bash",
		Runner:      h.runner,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	h.store = store

	srv, err := New(Config{InstallDir: dir}, store, zerolog.Nop(), nil,
		WithUptime(func() (time.Duration, error) { return 93784 * time.Second, nil }))
	require.NoError(t, err)
	h.srv = srv
	h.h = srv.Routes()
	return h
}

func (h *harness) writeStats(t *testing.T, body string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.WriteFile(h.stats, []byte(body), 0o644))
	mt := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(h.stats, mt, mt))
}

func (h *harness) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func requireErrorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["error"])
	assert.EqualValues(t, 500, body["code"])
	assert.NotEmpty(t, body["timestamp"])
	return body
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{InstallDir: "/tmp"}, nil, zerolog.Nop(), nil)
	require.Error(t, err)

	h := newHarness(t)
	_, err = New(Config{}, h.store, zerolog.Nop(), nil)
	require.Error(t, err)
}

func TestUnmappedPathsAre404(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/api", "/api/", "/api/stats/", "/api/unknown", "/index.htm", "/favicon.ico", "/api/stats.json", "/../etc/passwd"} {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, http.StatusNotFound, h.get(path).Code)
		})
	}
	assert.Empty(t, h.runner.Calls())
}

func TestHealthAlwaysOK(t *testing.T) {
	h := newHarness(t)

	rec := h.get("/api/health")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, DefaultServerName, body["server"])
	assert.Equal(t, DefaultVersion, body["version"])
	assert.Equal(t, "1d 2h 3m", body["uptime"])
	assert.NotEmpty(t, body["timestamp"])

	require.NoError(t, os.RemoveAll(h.dir))
	srv, err := New(Config{InstallDir: h.dir}, h.store, zerolog.Nop(), nil,
		WithUptime(func() (time.Duration, error) { return 0, errors.New("no /proc") }))
	require.NoError(t, err)

	rec = httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Unknown", decodeBody(t, rec)["uptime"])
	assert.Empty(t, h.runner.Calls())
}

func TestStatsMissingSnapshotRegeneratesOnce(t *testing.T) {
	h := newHarness(t)

	rec := h.get("/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, h.runner.Calls(), 1)

	body := decodeBody(t, rec)
	meta, ok := body["meta"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, meta["generated_at"])

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
}

func TestStatsFreshnessPolicy(t *testing.T) {
	h := newHarness(t)

	h.writeStats(t, sampleSnapshot, 2*time.Second)
	require.Equal(t, http.StatusOK, h.get("/api/stats").Code)
	assert.Empty(t, h.runner.Calls(), "fresh snapshot is served as is")

	h.writeStats(t, sampleSnapshot, 11*time.Second)
	require.Equal(t, http.StatusOK, h.get("/api/stats").Code)
	assert.Len(t, h.runner.Calls(), 1, "stale snapshot is regenerated")
}

func TestStatsRoundTripIsByteIdentical(t *testing.T) {
	h := newHarness(t)
	_, err := h.store.Regenerate(context.Background(), snapshot.TriggerCLI)
	require.NoError(t, err)

	written, err := os.ReadFile(h.stats)
	require.NoError(t, err)

	rec := h.get("/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, written, rec.Body.Bytes())
}

func TestStatsCorruptSnapshotIsReported(t *testing.T) {
	h := newHarness(t)
	h.writeStats(t, `{"current": {"rx_rate": `, time.Second)

	body := requireErrorBody(t, h.get("/api/stats"))
	assert.Contains(t, body["message"], "not valid JSON")
	assert.Empty(t, h.runner.Calls())
}

func TestGeneratorFailureIs500(t *testing.T) {
	h := newHarness(t)
	h.runner.Hook = nil
	h.runner.Stderr = "vnstat: no database"
	h.runner.Err = errors.New("exit status 1")

	body := requireErrorBody(t, h.get("/api/stats"))
	assert.Contains(t, body["message"], "vnstat: no database")

	body = requireErrorBody(t, h.get("/api/refresh"))
	assert.True(t, strings.HasPrefix(body["message"].(string), "Failed to refresh stats"))
}

func TestRefreshAlwaysRegenerates(t *testing.T) {
	h := newHarness(t)
	h.writeStats(t, sampleSnapshot, 0)

	for i := 0; i < 2; i++ {
		rec := h.get("/api/refresh")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "success", body["status"])
		assert.Equal(t, "Stats refreshed successfully", body["message"])
		assert.NotEmpty(t, body["run_id"])
	}
	assert.Len(t, h.runner.Calls(), 2)
}

func TestRefreshDuringScheduledRunStartsItsOwn(t *testing.T) {
	h := newHarness(t)
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	h.runner.Hook = func(ctx context.Context) error {
		entered <- struct{}{}
		<-release
		return os.WriteFile(h.stats, []byte(sampleSnapshot), 0o644)
	}

	scheduled := make(chan error, 1)
	go func() {
		_, err := h.store.Regenerate(context.Background(), snapshot.TriggerSchedule)
		scheduled <- err
	}()
	<-entered

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- h.get("/api/refresh") }()

	select {
	case rec := <-done:
		t.Fatalf("refresh answered %d while the scheduled run was still going", rec.Code)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-scheduled)
	rec := <-done
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, h.runner.Calls(), 2)
}

func TestStatsGeneratorTimeoutIs500(t *testing.T) {
	h := newHarness(t)
	h.runner.Hook = func(ctx context.Context) error {
		<-ctx.Done()
		return errors.New("signal: killed")
	}
	store, err := snapshot.NewStore(snapshot.Options{
		StatsFile:   h.stats,
		Script:      h.script,
		Interpreter: "bash",
		Timeout:     50 * time.Millisecond,
		Runner:      h.runner,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	srv, err := New(Config{InstallDir: h.dir}, store, zerolog.Nop(), nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	body := requireErrorBody(t, rec)
	assert.Equal(t, "Internal server error: Stats generation timed out", body["message"])
	assert.Len(t, h.runner.Calls(), 1)
}

func TestRefreshMissingScript(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, os.Remove(h.script))

	body := requireErrorBody(t, h.get("/api/refresh"))
	assert.Contains(t, body["message"], "Generate script not found")
	assert.Empty(t, h.runner.Calls())
}

func TestNonGetMethodsDoNotRegenerate(t *testing.T) {
	h := newHarness(t)
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, h.runner.Calls())
}

func TestConcurrentStatsShareOneRegeneration(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.runner.Hook = func(ctx context.Context) error {
		<-release
		return os.WriteFile(h.stats, []byte(sampleSnapshot), 0o644)
	}

	var wg sync.WaitGroup
	codes := make([]int, 8)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = h.get("/api/stats").Code
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
	assert.Len(t, h.runner.Calls(), 1)
}

func TestStaticAssets(t *testing.T) {
	h := newHarness(t)
	index := "<!doctype html><title>V2RayZone Dash</title>" + strings.Repeat("<p>bandwidth</p>", 200)
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "index.html"), []byte(index), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "script.js"), []byte("new BandwidthDashboard();"), 0o644))

	for _, path := range []string{"/", "/index.html"} {
		rec := h.get(path)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Equal(t, "public, max-age=300", rec.Header().Get("Cache-Control"))
		assert.Equal(t, index, rec.Body.String())
	}

	rec := h.get("/script.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/javascript; charset=utf-8", rec.Header().Get("Content-Type"))

	rec = h.get("/style.css")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "File not found: style.css")

	require.NoError(t, os.Mkdir(filepath.Join(h.dir, "style.css"), 0o755))
	assert.Equal(t, http.StatusInternalServerError, h.get("/style.css").Code)
}

func TestStaticAssetsCompress(t *testing.T) {
	h := newHarness(t)
	index := strings.Repeat("<div class=\"card\">usage</div>\n", 400)
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "index.html"), []byte(index), 0o644))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Less(t, rec.Body.Len(), len(index))
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0d 0h 0m"},
		{59 * time.Second, "0d 0h 0m"},
		{93784 * time.Second, "1d 2h 3m"},
		{-time.Minute, "0d 0h 0m"},
		{400 * time.Hour, "16d 16h 0m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatUptime(tt.in), tt.in.String())
	}
}
