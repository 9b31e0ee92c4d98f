package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/satlink/sathub/internal/protocol"
)

func TestSweepEvictsSilentClient(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	a := addClient(h)
	b := addClient(h)
	register(t, h, a, "G1", protocol.RoleControlCenter, "T1")
	register(t, h, b, "G1", protocol.RoleOnSiteMobile, "T1")
	recvMessage(t, a) // partner-online for B

	m := NewMonitor(h, time.Second, 30*time.Second, zerolog.Nop())

	// B has been silent past the timeout; A connected moments ago.
	b.lastSeen.Store(time.Now().Add(-time.Minute).UnixMilli())
	m.sweep()

	if h.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d, want 1", h.ClientCount())
	}
	if !b.closeRequested() {
		t.Error("evicted client was not asked to close")
	}

	notice := recvPayload[protocol.PartnerStatusPayload](t, a, protocol.TypePartnerStatusUpdate)
	if notice.IsOnline {
		t.Error("IsOnline = true, want false")
	}
	if notice.PartnerClientID != b.ID() {
		t.Errorf("PartnerClientID = %v, want %v", notice.PartnerClientID, b.ID())
	}
}

func TestSweepKeepsActiveClients(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	a := addClient(h)
	b := addClient(h)

	m := NewMonitor(h, time.Second, 30*time.Second, zerolog.Nop())
	m.sweep()

	if h.ClientCount() != 2 {
		t.Errorf("ClientCount = %d, want 2", h.ClientCount())
	}
	if a.closeRequested() || b.closeRequested() {
		t.Error("active client asked to close")
	}
}

func TestSweepCountsPingAsActivity(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	a := addClient(h)
	a.lastSeen.Store(time.Now().Add(-time.Minute).UnixMilli())

	// A Ping is data-plane: it refreshes last-seen like any other frame.
	h.route(a, mustFrame(t, protocol.TypePing, protocol.PingPayload{}))
	recvMessage(t, a) // Pong

	m := NewMonitor(h, time.Second, 30*time.Second, zerolog.Nop())
	m.sweep()

	if h.ClientCount() != 1 {
		t.Errorf("ClientCount = %d, want 1", h.ClientCount())
	}
}

func TestMonitorRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	m := NewMonitor(h, 10*time.Millisecond, time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}
