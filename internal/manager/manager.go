package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/callwatch/backend/internal/ami"
	"github.com/callwatch/backend/internal/cache"
	"github.com/callwatch/backend/internal/metrics"
	"github.com/callwatch/backend/internal/types"
)

// Transport is the slice of the management client the facade needs.
// Tests substitute a scripted implementation.
type Transport interface {
	Send(ctx context.Context, action ami.Action) (*ami.Response, error)
	Events() <-chan ami.Message
	Notify() <-chan ami.ConnEvent
}

// RegistrationSource reads the switch-owned registration table. The
// switch writes a row per registration, so the latest row per endpoint
// is the authoritative presence record.
type RegistrationSource interface {
	LatestRegistrations(ctx context.Context) ([]types.RegistrationRow, error)
}

// Manager sits between the raw management transport and the rest of
// the system: it translates wire events into the closed domain event
// set, answers presence queries through a short-lived cache and
// exposes call-control operations.
type Manager struct {
	transport     Transport
	registrations RegistrationSource
	cache         *cache.AvailabilityCache
	logger        zerolog.Logger

	dialContext string
	events      chan types.DomainEvent
}

// New creates a Manager bound to the given transport and registration
// table. dialContext is the dialplan context used for originated and
// transferred calls.
func New(transport Transport, registrations RegistrationSource, availCache *cache.AvailabilityCache, dialContext string, logger zerolog.Logger) *Manager {
	if dialContext == "" {
		dialContext = "from-internal"
	}
	return &Manager{
		transport:     transport,
		registrations: registrations,
		cache:         availCache,
		logger:        logger,
		dialContext:   dialContext,
		events:        make(chan types.DomainEvent, 256),
	}
}

// Events returns the stream of translated domain events
func (m *Manager) Events() <-chan types.DomainEvent { return m.events }

// Run pumps transport events through classification until ctx ends.
// Connection transitions are folded into the same domain stream so
// consumers have a single ordered view.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-m.transport.Events():
			if !ok {
				return
			}
			ev := m.classify(msg)
			if ev == nil {
				continue
			}
			metrics.Get().RecordEventProcessed()
			m.emit(ev)

		case conn, ok := <-m.transport.Notify():
			if !ok {
				return
			}
			switch conn {
			case ami.ConnUp:
				m.emit(types.ConnectionUp{})
				go m.prime(ctx)
			case ami.ConnRecovered:
				m.emit(types.ConnectionUp{Recovered: true})
				go m.prime(ctx)
			case ami.ConnDown:
				m.emit(types.ConnectionDown{})
			}
		}
	}
}

// prime warms the availability cache right after login, so the first
// snapshot has real presence instead of an empty agent list.
func (m *Manager) prime(ctx context.Context) {
	primeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := m.RefreshAvailability(primeCtx); err != nil {
		m.logger.Warn().Err(err).Msg("availability prime failed")
	}
}

func (m *Manager) emit(ev types.DomainEvent) {
	select {
	case m.events <- ev:
	default:
		metrics.Get().RecordEventDropped()
		m.logger.Warn().Msg("domain event channel full, dropping")
	}
}
