package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/openkokkai/billtracker/observability"
)

const (
	// DefaultHealthInterval is the health-check loop tick.
	DefaultHealthInterval = 60 * time.Second

	// DefaultCheckTimeout bounds one check when none is given.
	DefaultCheckTimeout = 10 * time.Second
)

// CheckFunc probes one subsystem. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// CheckResult is the stored outcome of the last run of a check.
type CheckResult struct {
	Success         bool      `json:"success"`
	DurationSeconds float64   `json:"duration_seconds"`
	Timestamp       time.Time `json:"timestamp"`
	TimedOut        bool      `json:"timed_out,omitempty"`
	Error           string    `json:"error,omitempty"`
}

type healthCheck struct {
	fn      CheckFunc
	timeout time.Duration
}

// HealthChecker runs registered checks on a fixed interval. Checks within
// one tick run sequentially in registration order.
type HealthChecker struct {
	Interval time.Duration

	mu      sync.Mutex
	order   []string
	checks  map[string]healthCheck
	results map[string]CheckResult
	now     func() time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		Interval: DefaultHealthInterval,
		checks:   make(map[string]healthCheck),
		results:  make(map[string]CheckResult),
		now:      time.Now,
	}
}

// Register adds a named check. A non-positive timeout uses the default.
func (h *HealthChecker) Register(name string, fn CheckFunc, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.checks[name]; !exists {
		h.order = append(h.order, name)
	}
	h.checks[name] = healthCheck{fn: fn, timeout: timeout}
}

// Run executes checks until the context is cancelled.
func (h *HealthChecker) Run(ctx context.Context) {
	interval := h.Interval
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.RunOnce(ctx)
		}
	}
}

// RunOnce executes every registered check one time.
func (h *HealthChecker) RunOnce(ctx context.Context) {
	h.mu.Lock()
	names := append([]string(nil), h.order...)
	checks := make(map[string]healthCheck, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.Unlock()

	for _, name := range names {
		result := h.runCheck(ctx, checks[name])
		h.mu.Lock()
		h.results[name] = result
		h.mu.Unlock()

		status := 0.0
		if result.Success {
			status = 1.0
		}
		observability.HealthCheckStatus.WithLabelValues(name).Set(status)
	}
}

func (h *HealthChecker) runCheck(ctx context.Context, c healthCheck) CheckResult {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- c.fn(cctx) }()

	result := CheckResult{Timestamp: h.now()}
	select {
	case err := <-done:
		result.Success = err == nil
		if err != nil {
			result.Error = err.Error()
		}
	case <-cctx.Done():
		result.TimedOut = true
		result.Error = "health check timeout"
	}
	result.DurationSeconds = time.Since(start).Seconds()
	return result
}

// Results returns a snapshot of the latest check outcomes.
func (h *HealthChecker) Results() map[string]CheckResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]CheckResult, len(h.results))
	for name, r := range h.results {
		out[name] = r
	}
	return out
}

// Healthy reports whether every check with a recorded result succeeded.
func (h *HealthChecker) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.results {
		if !r.Success {
			return false
		}
	}
	return true
}
