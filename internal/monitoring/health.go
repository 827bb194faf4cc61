package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// errorWindow bounds how long a recorded error keeps the endpoint
// unhealthy. Older entries age out so a transient fault does not pin
// the process at HTTP 500 for its lifetime.
const errorWindow = 5 * time.Minute

type healthError struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

type HealthChecker struct {
	mu             sync.RWMutex
	lastResult     time.Time
	executorAlive  bool
	breakerTripped bool
	errors         []healthError
}

type HealthStatus struct {
	Status         string        `json:"status"`
	Timestamp      time.Time     `json:"timestamp"`
	LastResult     time.Time     `json:"last_result"`
	ExecutorAlive  bool          `json:"executor_alive"`
	BreakerTripped bool          `json:"breaker_tripped"`
	Uptime         string        `json:"uptime"`
	Errors         []healthError `json:"errors,omitempty"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

// SetExecutorAlive records the executor worker's liveness.
func (h *HealthChecker) SetExecutorAlive(alive bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.executorAlive = alive
}

// SetBreakerTripped records the risk gate's circuit breaker state.
func (h *HealthChecker) SetBreakerTripped(tripped bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.breakerTripped = tripped
}

// RecordResult stamps the last trade result time.
func (h *HealthChecker) RecordResult() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastResult = time.Now()
}

// RecordError appends an error to the health report.
func (h *HealthChecker) RecordError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, healthError{At: time.Now(), Message: msg})
	if len(h.errors) > 20 {
		h.errors = h.errors[len(h.errors)-20:]
	}
}

// recentErrors drops entries older than errorWindow and returns what
// remains. Caller must hold the write lock.
func (h *HealthChecker) recentErrors() []healthError {
	cutoff := time.Now().Add(-errorWindow)
	kept := h.errors[:0]
	for _, e := range h.errors {
		if e.At.After(cutoff) {
			kept = append(kept, e)
		}
	}
	h.errors = kept
	return kept
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	errs := h.recentErrors()

	status := "healthy"
	code := http.StatusOK
	switch {
	case len(errs) > 0:
		status = "unhealthy"
		code = http.StatusInternalServerError
	case !h.executorAlive || h.breakerTripped:
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	health := HealthStatus{
		Status:         status,
		Timestamp:      time.Now(),
		LastResult:     h.lastResult,
		ExecutorAlive:  h.executorAlive,
		BreakerTripped: h.breakerTripped,
		Uptime:         time.Since(startTime).String(),
		Errors:         errs,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}
