package connectivity

import (
	"sync"
	"sync/atomic"
	"time"

	"loopsync/internal/domain"
	"loopsync/internal/events"

	"github.com/rs/zerolog"
)

// Monitor tracks the binary online/offline state and schedules sync
// attempts on became-online transitions. It is injected into dependents
// rather than read as ambient global state, so tests can substitute a fake.
//
// A became-online transition does not fire the sync trigger immediately: a
// short debounce window absorbs connections that flap several times in a
// row. A became-offline transition cancels any pending scheduled attempt.
type Monitor struct {
	online   atomic.Bool
	debounce time.Duration
	trigger  func()

	mu    sync.Mutex
	timer *time.Timer

	bus    domain.EventPublisher
	logger *zerolog.Logger
}

// New builds a monitor seeded with the platform's current network status.
// trigger is invoked (on a timer goroutine) once a became-online transition
// survives the debounce window.
func New(initialOnline bool, debounce time.Duration, trigger func(), bus domain.EventPublisher, logger *zerolog.Logger) *Monitor {
	if debounce <= 0 {
		debounce = 3 * time.Second
	}
	m := &Monitor{
		debounce: debounce,
		trigger:  trigger,
		bus:      bus,
		logger:   logger,
	}
	m.online.Store(initialOnline)
	return m
}

// IsOnline reports the last observed network state.
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// SetOnline feeds a platform network-status event into the monitor.
// Repeated reports of the same state are no-ops.
func (m *Monitor) SetOnline(online bool) {
	if m.online.Swap(online) == online {
		return
	}

	if online {
		m.logger.Info().Msg("connectivity restored")
		if m.bus != nil {
			_ = m.bus.PublishJSON(events.EventWentOnline, nil)
		}
		m.schedule()
		return
	}

	m.logger.Info().Msg("connectivity lost")
	if m.bus != nil {
		_ = m.bus.PublishJSON(events.EventWentOffline, nil)
	}
	m.cancel()
}

// StartupCheck schedules an initial sync attempt when the process starts
// already online with a non-empty queue.
func (m *Monitor) StartupCheck(queueLen int) {
	if m.IsOnline() && queueLen > 0 {
		m.logger.Info().Int("pending", queueLen).Msg("pending offline actions at startup, scheduling sync")
		m.schedule()
	}
}

func (m *Monitor) schedule() {
	if m.trigger == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.debounce, func() {
		// Connectivity may have dropped again while the timer was pending.
		if m.IsOnline() {
			m.trigger()
		}
	})
}

func (m *Monitor) cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}
