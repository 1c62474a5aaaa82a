// Package connectivity is the single source of truth for whether the device
// can reach the system of record.
package connectivity

import (
	"context"
	"sync/atomic"
	"time"

	"example.com/smartpos/services/pos/internal/events"

	"github.com/rs/zerolog/log"
)

// Prober checks remote reachability. Satisfied by the remote client.
type Prober interface {
	Ping(ctx context.Context) error
}

// Monitor tracks online/offline state and publishes one event per actual
// transition. Repeated identical probe results never re-emit.
type Monitor struct {
	prober   Prober
	bus      *events.Bus
	interval time.Duration
	online   atomic.Bool
}

// NewMonitor creates a monitor that starts in the offline state; the first
// successful probe flips it online.
func NewMonitor(prober Prober, bus *events.Bus, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		prober:   prober,
		bus:      bus,
		interval: interval,
	}
}

// IsOnline returns the current connectivity state.
func (m *Monitor) IsOnline() bool {
	return m.online.Load()
}

// SetOnline records an externally observed state. A transition publishes the
// corresponding event; a repeated signal is dropped.
func (m *Monitor) SetOnline(online bool) {
	if !m.online.CompareAndSwap(!online, online) {
		return
	}
	if online {
		log.Info().Msg("Connection restored")
		m.bus.Publish(events.Online{})
	} else {
		log.Warn().Msg("Connection lost, entering offline mode")
		m.bus.Publish(events.Offline{})
	}
}

// Start probes the remote until ctx is done. It probes once immediately so
// the state is settled before the first sync decision.
func (m *Monitor) Start(ctx context.Context) {
	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	err := m.prober.Ping(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Reachability probe failed")
	}
	m.SetOnline(err == nil)
}
