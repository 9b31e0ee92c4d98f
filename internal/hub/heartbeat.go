package hub

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Monitor is the heartbeat supervisor. It periodically sweeps the session
// registry and removes peers that have been silent for longer than the client
// timeout. The supervisor never writes to a socket itself; eviction goes
// through RemoveSession, which fans out partner-offline notices and requests
// teardown from the I/O pumps.
type Monitor struct {
	hub           *Hub
	checkInterval time.Duration
	clientTimeout time.Duration
	log           zerolog.Logger
}

// NewMonitor creates a heartbeat supervisor for the hub.
func NewMonitor(h *Hub, checkInterval, clientTimeout time.Duration, logger zerolog.Logger) *Monitor {
	return &Monitor{
		hub:           h,
		checkInterval: checkInterval,
		clientTimeout: clientTimeout,
		log:           logger.With().Str("component", "heartbeat").Logger(),
	}
}

// Run sweeps on every tick until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info().Dur("check_interval", m.checkInterval).Dur("client_timeout", m.clientTimeout).
		Msg("Heartbeat supervisor started")

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep evicts every session whose last-seen clock is older than the client
// timeout. Any inbound frame refreshes the clock, so only genuinely silent
// peers are removed.
func (m *Monitor) sweep() {
	now := time.Now().UTC()
	for _, c := range m.hub.SnapshotSessions() {
		idle := now.Sub(c.LastSeen())
		if idle <= m.clientTimeout {
			continue
		}
		m.log.Warn().Stringer("client_id", c.ID()).Str("addr", c.Addr()).
			Dur("idle", idle).Msg("Client timed out, removing")
		m.hub.RemoveSession(c.ID())
	}
}
