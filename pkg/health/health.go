package health

import (
	"context"
	"time"
)

// Result is the outcome of one probe
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes a dependency
type Checker interface {
	Check(ctx context.Context) Result
}

// CheckerFunc adapts a function to Checker
type CheckerFunc func(ctx context.Context) Result

func (f CheckerFunc) Check(ctx context.Context) Result {
	return f(ctx)
}

// Config controls probing and the thresholds of Status
type Config struct {
	// Interval is the time between probes
	Interval time.Duration

	// Timeout bounds a single probe
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures that mark a
	// healthy dependency unhealthy
	FailureThreshold int

	// SuccessThreshold is the number of consecutive successes that mark an
	// unhealthy dependency healthy again
	SuccessThreshold int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval:         10 * time.Second,
		Timeout:          5 * time.Second,
		FailureThreshold: 3,
		SuccessThreshold: 10,
	}
}

// Status tracks consecutive probe outcomes of one dependency
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastResult           Result
	Healthy              bool
}

// NewStatus creates a Status in the given initial state
func NewStatus(healthy bool) *Status {
	return &Status{Healthy: healthy}
}

// Update records a result and reports whether Healthy changed
func (s *Status) Update(result Result, cfg Config) bool {
	s.LastResult = result
	before := s.Healthy

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		if !s.Healthy && s.ConsecutiveSuccesses >= max(cfg.SuccessThreshold, 1) {
			s.Healthy = true
		}
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
		if s.Healthy && s.ConsecutiveFailures >= max(cfg.FailureThreshold, 1) {
			s.Healthy = false
		}
	}
	return s.Healthy != before
}

// Until probes checker every cfg.Interval, starting from an unhealthy
// Status, until it turns healthy. observe, if set, sees every result.
func Until(ctx context.Context, checker Checker, cfg Config, observe func(Result, *Status)) error {
	status := NewStatus(false)
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		probeCtx := ctx
		cancel := context.CancelFunc(func() {})
		if cfg.Timeout > 0 {
			probeCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}
		result := checker.Check(probeCtx)
		cancel()

		status.Update(result, cfg)
		if observe != nil {
			observe(result, status)
		}
		if status.Healthy {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
