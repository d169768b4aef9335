package stream

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/rs/zerolog"
)

type fakePipeline struct {
	starts    int
	stops     int
	lastDests []netip.AddrPort
	startErr  error
}

func (p *fakePipeline) Start(dests []netip.AddrPort) error {
	if p.startErr != nil {
		return p.startErr
	}
	p.starts++
	p.lastDests = dests
	return nil
}

func (p *fakePipeline) Stop() error {
	p.stops++
	return nil
}

func newTestCoordinator(p Pipeline) *Coordinator {
	extra := []netip.AddrPort{netip.MustParseAddrPort("10.0.0.1:5003")}
	return NewCoordinator(p, 5600, extra, zerolog.Nop())
}

func TestStartOnceOnDiscovery(t *testing.T) {
	p := &fakePipeline{}
	c := newTestCoordinator(p)

	peer := netip.MustParseAddr("10.0.0.5")
	if err := c.OnPeerDiscovered(peer); err != nil {
		t.Fatalf("OnPeerDiscovered: %v", err)
	}
	if err := c.OnPeerDiscovered(peer); err != nil {
		t.Fatalf("second OnPeerDiscovered: %v", err)
	}
	if p.starts != 1 {
		t.Errorf("pipeline started %d times, want 1", p.starts)
	}
}

func TestFanOutDestinations(t *testing.T) {
	p := &fakePipeline{}
	c := newTestCoordinator(p)

	c.OnPeerDiscovered(netip.MustParseAddr("10.0.0.5"))

	want := []netip.AddrPort{
		netip.MustParseAddrPort("10.0.0.5:5600"),
		netip.MustParseAddrPort("10.0.0.1:5003"),
	}
	if len(p.lastDests) != len(want) {
		t.Fatalf("dests = %v, want %v", p.lastDests, want)
	}
	for i := range want {
		if p.lastDests[i] != want[i] {
			t.Errorf("dest %d = %v, want %v", i, p.lastDests[i], want[i])
		}
	}
}

func TestStopIdempotent(t *testing.T) {
	p := &fakePipeline{}
	c := newTestCoordinator(p)

	// Stop before any start must be safe.
	c.Stop()
	if p.stops != 0 {
		t.Errorf("stops = %d before start", p.stops)
	}

	c.OnPeerDiscovered(netip.MustParseAddr("10.0.0.5"))
	c.Stop()
	c.Stop()
	if p.stops != 1 {
		t.Errorf("pipeline stopped %d times, want 1", p.stops)
	}
}

func TestStartFailureRetriesOnNextDiscovery(t *testing.T) {
	p := &fakePipeline{startErr: errors.New("no camera")}
	c := newTestCoordinator(p)

	peer := netip.MustParseAddr("10.0.0.5")
	if err := c.OnPeerDiscovered(peer); err == nil {
		t.Fatal("expected start failure")
	}
	st := c.Status()
	if st.Running || st.LastErr == nil {
		t.Errorf("Status after failure = %+v", st)
	}

	// Failure is surfaced as status and retried on the next discovery
	// event, not looped internally.
	p.startErr = nil
	if err := c.OnPeerDiscovered(peer); err != nil {
		t.Fatalf("retry: %v", err)
	}
	st = c.Status()
	if !st.Running || st.LastErr != nil {
		t.Errorf("Status after retry = %+v", st)
	}
}

func TestRestartAfterStop(t *testing.T) {
	p := &fakePipeline{}
	c := newTestCoordinator(p)

	c.OnPeerDiscovered(netip.MustParseAddr("10.0.0.5"))
	c.Stop()
	c.OnPeerDiscovered(netip.MustParseAddr("10.0.0.7"))

	if p.starts != 2 {
		t.Errorf("starts = %d, want 2", p.starts)
	}
	if p.lastDests[0] != netip.MustParseAddrPort("10.0.0.7:5600") {
		t.Errorf("restart used stale peer: %v", p.lastDests)
	}
}
