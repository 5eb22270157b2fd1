package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	apperrors "github.com/3leaps/wsfetch/internal/errors"
)

// Check results.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
	StatusDegraded  = "degraded"
)

const checkTimeout = 2 * time.Second

// HealthChecker is one named dependency check.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckerFunc adapts a function to HealthChecker.
type HealthCheckerFunc func(ctx context.Context) error

func (f HealthCheckerFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

// HealthResponse is the body of a successful health probe.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthManager runs registered checks for the health endpoints.
type HealthManager struct {
	version   string
	startedAt time.Time

	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// NewHealthManager creates a manager reporting version.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:   version,
		startedAt: time.Now(),
		checkers:  make(map[string]HealthChecker),
	}
}

// RegisterChecker adds or replaces a named check.
func (m *HealthManager) RegisterChecker(name string, c HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

func (m *HealthManager) runChecks(ctx context.Context) map[string]string {
	m.mu.RLock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	checkers := make(map[string]HealthChecker, len(m.checkers))
	for k, v := range m.checkers {
		checkers[k] = v
	}
	m.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]string, len(names))
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := checkers[name].CheckHealth(cctx)
		cancel()
		switch {
		case err == nil:
			results[name] = StatusHealthy
		case errors.Is(err, context.DeadlineExceeded):
			results[name] = StatusTimeout
		default:
			results[name] = StatusUnhealthy
		}
	}
	return results
}

func (m *HealthManager) determineOverallStatus(results map[string]string) string {
	status := StatusHealthy
	for _, r := range results {
		switch r {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusTimeout:
			status = StatusDegraded
		}
	}
	return status
}

func (m *HealthManager) respond(w http.ResponseWriter, r *http.Request, checks map[string]string) {
	status := m.determineOverallStatus(checks)
	if status == StatusUnhealthy {
		details := make(map[string]any, len(checks))
		for k, v := range checks {
			details[k] = v
		}
		err := apperrors.NewServiceUnavailableError("one or more health checks failed").
			WithDetails(map[string]any{"checks": details})
		respondWithError(w, r, err)
		return
	}

	apperrors.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(m.startedAt).Round(time.Second).String(),
		Checks:    checks,
	})
}

// HealthHandler runs every check.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	m.respond(w, r, m.runChecks(r.Context()))
}

// LivenessHandler reports that the process is serving requests.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	m.respond(w, r, nil)
}

// ReadinessHandler runs every check.
func (m *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	m.respond(w, r, m.runChecks(r.Context()))
}

// StartupHandler reports that startup has completed.
func (m *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	m.respond(w, r, nil)
}

var globalHealthManager *HealthManager

// InitHealthManager installs the process-wide manager.
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the process-wide manager, or nil.
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func notInitialized(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, apperrors.NewServiceUnavailableError("health manager not initialized"))
}

// HealthHandler serves /health from the process-wide manager.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		notInitialized(w, r)
		return
	}
	globalHealthManager.HealthHandler(w, r)
}

// LivenessHandler serves /health/live from the process-wide manager.
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		notInitialized(w, r)
		return
	}
	globalHealthManager.LivenessHandler(w, r)
}

// ReadinessHandler serves /health/ready from the process-wide manager.
func ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		notInitialized(w, r)
		return
	}
	globalHealthManager.ReadinessHandler(w, r)
}

// StartupHandler serves /health/startup from the process-wide manager.
func StartupHandler(w http.ResponseWriter, r *http.Request) {
	if globalHealthManager == nil {
		notInitialized(w, r)
		return
	}
	globalHealthManager.StartupHandler(w, r)
}
