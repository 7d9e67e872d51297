package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		wantStatus string
	}{
		{"no components", nil, StatusHealthy},
		{"all healthy", map[string]bool{"engine": true, "storage": true}, StatusHealthy},
		{"one unhealthy", map[string]bool{"engine": true, "storage": false}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker("engine")
			h.SetVersion("1.0.0")
			for name, healthy := range tt.components {
				h.Update(name, healthy, "disk full")
			}

			health := h.Health()
			assert.Equal(t, tt.wantStatus, health.Status)
			assert.Equal(t, "1.0.0", health.Version)
			assert.Len(t, health.Components, len(tt.components))
			if tt.wantStatus == StatusUnhealthy {
				assert.Equal(t, "unhealthy: disk full", health.Components["storage"])
			}
		})
	}
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name        string
		components  map[string]bool
		wantStatus  string
		wantMessage string
	}{
		{"all critical ready", map[string]bool{"engine": true, "lifecycle": true}, StatusReady, ""},
		{"missing critical", map[string]bool{"engine": true}, StatusNotReady, "waiting for lifecycle"},
		{"critical unhealthy", map[string]bool{"engine": false, "lifecycle": true}, StatusNotReady, "waiting for engine"},
		{"non critical ignored", map[string]bool{"engine": true, "lifecycle": true, "raft": false}, StatusReady, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker("engine", "lifecycle")
			for name, healthy := range tt.components {
				h.Update(name, healthy, "starting")
			}
			ready := h.Readiness()
			assert.Equal(t, tt.wantStatus, ready.Status)
			assert.Equal(t, tt.wantMessage, ready.Message)
			assert.Len(t, ready.Components, 2)
		})
	}
}

func TestUpdateReplacesComponent(t *testing.T) {
	h := NewHealthChecker()
	h.Update("storage", false, "opening")
	h.Update("storage", true, "")

	c, ok := h.Component("storage")
	require.True(t, ok)
	assert.True(t, c.Healthy)
	assert.False(t, c.Updated.IsZero())
	assert.Equal(t, StatusHealthy, h.Health().Status)
}

func TestHandlers(t *testing.T) {
	h := NewHealthChecker("engine")

	tests := []struct {
		name     string
		handler  http.HandlerFunc
		setup    func()
		wantCode int
		wantBody string
	}{
		{"ready before registration", h.ReadyHandler(), func() {}, http.StatusServiceUnavailable, StatusNotReady},
		{"ready once engine is up", h.ReadyHandler(), func() { h.Update("engine", true, "") }, http.StatusOK, StatusReady},
		{"healthy", h.HealthHandler(), func() {}, http.StatusOK, StatusHealthy},
		{"unhealthy", h.HealthHandler(), func() { h.Update("engine", false, "stopped") }, http.StatusServiceUnavailable, StatusUnhealthy},
		{"liveness ignores health", h.LivenessHandler(), func() {}, http.StatusOK, "alive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			w := httptest.NewRecorder()
			tt.handler(w, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var body map[string]any
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.wantBody, body["status"])
		})
	}
}

func TestMuxRoutes(t *testing.T) {
	SetCriticalComponents("mux-test")
	UpdateComponent("mux-test", true, "")
	t.Cleanup(func() { SetCriticalComponents("engine", "lifecycle") })

	BatchSize.Set(8000)
	srv := httptest.NewServer(Mux())
	defer srv.Close()

	for _, path := range []string{"/metrics", "/health", "/ready", "/live"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err, path)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
