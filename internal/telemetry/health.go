package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthChecker serves a liveness/readiness endpoint reporting on WebSocket
// connectivity and the age of the last successful market data update.
type HealthChecker struct {
	mu          sync.RWMutex
	lastTick    time.Time
	lastOrder   time.Time
	wsConnected bool
	errors      []string
	startTime   time.Time
}

// Status is the JSON body served at /healthz.
type Status struct {
	State       string    `json:"state"`
	Timestamp   time.Time `json:"timestamp"`
	LastTick    time.Time `json:"last_tick"`
	LastOrder   time.Time `json:"last_order"`
	WSConnected bool      `json:"ws_connected"`
	Uptime      string    `json:"uptime"`
	Errors      []string  `json:"errors,omitempty"`
}

// NewHealthChecker creates a checker with a fresh start time.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		errors:    make([]string, 0),
		startTime: time.Now(),
	}
}

// ServeHTTP reports degraded when the WS is disconnected or ticks have
// stalled past five seconds (well past the tightest 1s order-path TTL,
// chosen so the health probe doesn't flap on routine freshness misses),
// and unhealthy when recent errors have been recorded.
func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	state := "healthy"
	code := http.StatusOK
	if !h.wsConnected || time.Since(h.lastTick) > 5*time.Second {
		state = "degraded"
		code = http.StatusServiceUnavailable
	}
	if len(h.errors) > 0 {
		state = "unhealthy"
		code = http.StatusInternalServerError
	}

	status := Status{
		State:       state,
		Timestamp:   time.Now(),
		LastTick:    h.lastTick,
		LastOrder:   h.lastOrder,
		WSConnected: h.wsConnected,
		Uptime:      time.Since(h.startTime).String(),
		Errors:      h.errors,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

func (h *HealthChecker) SetWSConnected(connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.wsConnected = connected
}

func (h *HealthChecker) UpdateLastTick(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastTick = t
}

func (h *HealthChecker) UpdateLastOrder(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastOrder = t
}

// AddError appends to a bounded recent-errors window, keeping only the
// last 10 so a sustained outage doesn't grow this list unbounded.
func (h *HealthChecker) AddError(err string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, err)
	if len(h.errors) > 10 {
		h.errors = h.errors[len(h.errors)-10:]
	}
}

// ClearErrors resets the recent-errors window, called once an entry order
// has been submitted successfully.
func (h *HealthChecker) ClearErrors() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = h.errors[:0]
}
