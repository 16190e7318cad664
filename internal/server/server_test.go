package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/mindwatch/internal/metrics"
)

const (
	indexPage  = "<html><body>mindwatch</body></html>"
	stylesheet = "body { margin: 0; }"
)

func webRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(indexPage), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "style.css"), []byte(stylesheet), 0o644))
	return dir
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestServer_Routes(t *testing.T) {
	withWeb := New(Config{StaticDir: webRoot(t)})
	bare := New(Config{})

	tests := []struct {
		name     string
		srv      *Server
		method   string
		target   string
		wantCode int
		wantBody string
	}{
		{"health", bare, http.MethodGet, "/api/health", http.StatusOK, ""},
		{"health rejects POST", bare, http.MethodPost, "/api/health", http.StatusMethodNotAllowed, ""},
		{"health rejects DELETE", bare, http.MethodDelete, "/api/health", http.StatusMethodNotAllowed, ""},
		{"unknown api path", bare, http.MethodGet, "/api/unknown", http.StatusNotFound, ""},
		{"analyses without app", bare, http.MethodGet, "/api/analyses", http.StatusNotFound, ""},
		{"metrics without registry", bare, http.MethodGet, "/metrics", http.StatusNotFound, ""},
		{"root without web dir", bare, http.MethodGet, "/", http.StatusNotFound, ""},
		{"index page", withWeb, http.MethodGet, "/", http.StatusOK, indexPage},
		{"asset", withWeb, http.MethodGet, "/style.css", http.StatusOK, stylesheet},
		{"missing asset", withWeb, http.MethodGet, "/missing.js", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(tt.srv, tt.method, tt.target)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestServer_HealthBody(t *testing.T) {
	t.Run("without app", func(t *testing.T) {
		rec := serve(New(Config{}), http.MethodGet, "/api/health")
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "ok", body["status"])
		assert.Contains(t, body, "uptime")
		assert.NotContains(t, body, "detector")
	})

	t.Run("reports detector mode", func(t *testing.T) {
		a := newTestApp(t)
		rec := serve(New(Config{App: a, UploadDir: a.Settings().UploadDir()}), http.MethodGet, "/api/health")

		var body map[string]any
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "mock", body["detector"])
		assert.Equal(t, false, body["synthetic"])
	})
}

func TestServer_Metrics(t *testing.T) {
	m := metrics.New()
	m.RunStarted()

	rec := serve(New(Config{Metrics: m}), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mindwatch_active_runs 1")
}

func TestNew_DefaultUploadLimit(t *testing.T) {
	assert.Equal(t, int64(500<<20), New(Config{}).config.MaxUploadBytes)
	assert.Equal(t, int64(1024), New(Config{MaxUploadBytes: 1024}).config.MaxUploadBytes)
}

func TestWSTarget(t *testing.T) {
	tests := []struct {
		path   string
		wantID string
		wantOK bool
	}{
		{"/api/analyses/abc/ws", "abc", true},
		{"/api/analyses/abc", "", false},
		{"/api/analyses//ws", "", false},
		{"/api/analyses/abc/chart/ws", "", false},
		{"/api/analyses/ws", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			id, ok := wsTarget(tt.path)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}
