package provider

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/reconnect/pkg/events"
	"github.com/cuemby/reconnect/pkg/health"
	"github.com/cuemby/reconnect/pkg/log"
	"github.com/cuemby/reconnect/pkg/metrics"
	"github.com/cuemby/reconnect/pkg/queue"
)

// Pauser is the queue's backpressure valve. A pause is held per owner so
// that lifting one leaves the others in place.
type Pauser interface {
	PauseFor(owner string) error
	ResumeFor(owner string) error
}

// Monitor pauses the queue while the provider is unreachable. On a
// provider.unreachable event it takes the provider pause and probes the
// provider until it has answered SuccessThreshold times in a row, then
// drops that pause. Pauses held by other owners stay.
type Monitor struct {
	checker   health.Checker
	cfg       health.Config
	queue     Pauser
	publisher events.Publisher
	logger    zerolog.Logger

	mu      sync.Mutex
	probing bool
	wg      sync.WaitGroup
}

// NewMonitor creates a provider monitor
func NewMonitor(checker health.Checker, cfg health.Config, pauser Pauser, publisher events.Publisher) *Monitor {
	if publisher == nil {
		publisher = events.Discard
	}
	metrics.RegisterComponent(metrics.ComponentProvider, true, "reachable")
	return &Monitor{
		checker:   checker,
		cfg:       cfg,
		queue:     pauser,
		publisher: publisher,
		logger:    log.WithComponent("provider-monitor"),
	}
}

// Run consumes events until ctx is done or sub is closed
func (m *Monitor) Run(ctx context.Context, sub events.Subscriber) {
	defer m.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			if event.Type == events.EventProviderUnreachable {
				m.HandleUnreachable(ctx)
			}
		}
	}
}

// Probing reports whether a recovery probe is running
func (m *Monitor) Probing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.probing
}

// HandleUnreachable pauses the queue and starts probing. It is a no-op
// while a probe is already running.
func (m *Monitor) HandleUnreachable(ctx context.Context) {
	m.mu.Lock()
	if m.probing {
		m.mu.Unlock()
		return
	}
	m.probing = true
	m.mu.Unlock()

	metrics.UpdateComponent(metrics.ComponentProvider, false, "unreachable")

	if err := m.queue.PauseFor(queue.PauseProvider); err != nil {
		m.logger.Error().Err(err).Msg("failed to pause queue")
	}
	m.logger.Warn().Msg("provider unreachable, probing for recovery")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			m.probing = false
			m.mu.Unlock()
		}()

		err := health.Until(ctx, m.checker, m.cfg, func(result health.Result, status *health.Status) {
			m.logger.Debug().
				Bool("healthy", result.Healthy).
				Str("message", result.Message).
				Int("successes", status.ConsecutiveSuccesses).
				Msg("provider probe")
		})
		if err != nil {
			m.logger.Warn().Err(err).Msg("provider probe stopped")
			return
		}

		metrics.UpdateComponent(metrics.ComponentProvider, true, "reachable")
		if err := m.queue.ResumeFor(queue.PauseProvider); err != nil {
			m.logger.Error().Err(err).Msg("failed to resume queue")
		}
		m.publisher.Publish(&events.Event{Type: events.EventProviderRecovered})
		m.logger.Info().Msg("provider recovered")
	}()
}
