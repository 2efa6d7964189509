package metrics

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
)

// Readiness and health states
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
	StatusPaused    = "paused"
)

// HealthStatus is the body of the health and readiness endpoints
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	PausedBy   []string          `json:"pausedBy,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	StartTime  time.Time         `json:"-"`
}

// Components that must be healthy before the service reports ready
const (
	ComponentLedger   = "ledger"
	ComponentQueue    = "queue"
	ComponentProvider = "provider"
)

var criticalComponents = []string{ComponentLedger, ComponentQueue, ComponentProvider}

var healthChecker = newHealthChecker()

// ComponentHealth tracks the health of a single component
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// HealthChecker holds component health and the queue's pause owners
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	pausedBy   []string
	startTime  time.Time
	version    string
}

func newHealthChecker() *HealthChecker {
	return &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// RegisterComponent records the health of a component
func RegisterComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()

	healthChecker.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// UpdateComponent is RegisterComponent for a component already known
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// SetQueuePaused records the owners currently holding a queue pause.
// An empty list means the queue is dispatching.
func SetQueuePaused(owners []string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.pausedBy = slices.Clone(owners)
}

// status builds a response skeleton; callers hold the read lock
func (h *HealthChecker) status(status string) HealthStatus {
	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]string),
		Version:    h.version,
		Uptime:     time.Since(h.startTime).String(),
		StartTime:  h.startTime,
	}
}

// GetHealth reports every registered component. A single unhealthy
// component makes the service unhealthy.
func GetHealth() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	health := healthChecker.status(StatusHealthy)
	for name, comp := range healthChecker.components {
		if comp.Healthy {
			health.Components[name] = StatusHealthy
			continue
		}
		health.Status = StatusUnhealthy
		health.Components[name] = StatusUnhealthy + ": " + comp.Message
	}
	return health
}

// GetReadiness reports whether the critical components are up. With all
// of them up, a paused queue turns the status to paused: the API still
// serves, so an operator can inspect and resume it, but no jobs run.
func GetReadiness() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	ready := healthChecker.status(StatusReady)
	for _, name := range criticalComponents {
		comp, exists := healthChecker.components[name]
		switch {
		case !exists:
			ready.Status = StatusNotReady
			ready.Message = "waiting for " + name + " initialization"
			ready.Components[name] = "not registered"
		case !comp.Healthy:
			ready.Status = StatusNotReady
			ready.Message = "waiting for " + name
			ready.Components[name] = "not ready: " + comp.Message
		default:
			ready.Components[name] = StatusReady
		}
	}

	if len(healthChecker.pausedBy) > 0 {
		ready.PausedBy = slices.Clone(healthChecker.pausedBy)
		if ready.Status == StatusReady {
			ready.Status = StatusPaused
			ready.Message = "queue paused by " + strings.Join(ready.PausedBy, ", ")
		}
	}
	return ready
}

func writeStatus(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// HealthHandler serves /health
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		code := http.StatusOK
		if health.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, health)
	}
}

// ReadyHandler serves /ready. Only not_ready answers 503.
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		code := http.StatusOK
		if readiness.Status == StatusNotReady {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, readiness)
	}
}

// LivenessHandler answers 200 while the process runs
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(healthChecker.startTime).String(),
		})
	}
}
