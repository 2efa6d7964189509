package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealthChecker(version string) {
	healthChecker = newHealthChecker()
	healthChecker.version = version
}

func TestGetHealth(t *testing.T) {
	resetHealthChecker("1.0.0")

	RegisterComponent(ComponentLedger, true, "")
	RegisterComponent(ComponentQueue, true, "")

	health := GetHealth()
	assert.Equal(t, "healthy", health.Status)
	assert.Len(t, health.Components, 2)
	assert.Equal(t, "1.0.0", health.Version)

	UpdateComponent(ComponentLedger, false, "not connected")

	health = GetHealth()
	assert.Equal(t, "unhealthy", health.Status)
	assert.Equal(t, "unhealthy: not connected", health.Components[ComponentLedger])
}

func TestGetReadiness(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		pausedBy   []string
		wantStatus string
	}{
		{
			name: "all critical components ready",
			components: map[string]bool{
				ComponentLedger: true, ComponentQueue: true, ComponentProvider: true,
			},
			wantStatus: "ready",
		},
		{
			name:       "critical component missing",
			components: map[string]bool{ComponentQueue: true},
			wantStatus: "not_ready",
		},
		{
			name: "provider unreachable",
			components: map[string]bool{
				ComponentLedger: true, ComponentQueue: true, ComponentProvider: false,
			},
			wantStatus: "not_ready",
		},
		{
			name: "queue paused",
			components: map[string]bool{
				ComponentLedger: true, ComponentQueue: true, ComponentProvider: true,
			},
			pausedBy:   []string{"capacity"},
			wantStatus: "paused",
		},
		{
			name: "not ready wins over paused",
			components: map[string]bool{
				ComponentLedger: true, ComponentQueue: true, ComponentProvider: false,
			},
			pausedBy:   []string{"provider"},
			wantStatus: "not_ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealthChecker("")
			for name, healthy := range tt.components {
				RegisterComponent(name, healthy, "")
			}
			SetQueuePaused(tt.pausedBy)

			ready := GetReadiness()
			assert.Equal(t, tt.wantStatus, ready.Status)
			assert.Equal(t, tt.pausedBy, ready.PausedBy)
		})
	}
}

func TestHealthHandlers(t *testing.T) {
	resetHealthChecker("test")
	RegisterComponent(ComponentLedger, true, "")
	RegisterComponent(ComponentQueue, true, "")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)

	// provider never registered
	w = httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	// a paused queue keeps the API reachable
	RegisterComponent(ComponentProvider, true, "")
	SetQueuePaused([]string{"capacity", "provider"})
	w = httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	var ready HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ready))
	assert.Equal(t, "paused", ready.Status)
	assert.Equal(t, "queue paused by capacity, provider", ready.Message)

	w = httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alive")
}
