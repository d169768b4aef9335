package link

import (
	"testing"
	"time"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker() (*Tracker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	tr := NewTracker()
	tr.now = clk.now
	return tr, clk
}

func TestTouchFirstContactIsEdge(t *testing.T) {
	tr, _ := newTestTracker()

	if !tr.Touch("controller") {
		t.Error("first Touch should report a connect edge")
	}
	if tr.Touch("controller") {
		t.Error("second Touch should not report an edge")
	}
	if !tr.Connected("controller") {
		t.Error("peer should be connected after Touch")
	}
}

func TestPollDisconnectEdgeFiresOnce(t *testing.T) {
	tr, clk := newTestTracker()
	tr.Touch("robot")

	clk.advance(11 * time.Second)

	dropped := tr.Poll(10 * time.Second)
	if len(dropped) != 1 || dropped[0] != "robot" {
		t.Fatalf("Poll = %v, want [robot]", dropped)
	}

	// Still dead: further polls must not re-report the same crossing.
	for i := 0; i < 5; i++ {
		clk.advance(time.Second)
		if dropped := tr.Poll(10 * time.Second); len(dropped) != 0 {
			t.Fatalf("poll %d re-reported disconnect: %v", i, dropped)
		}
	}
	if tr.Connected("robot") {
		t.Error("peer should remain disconnected")
	}
}

func TestPollWithinTimeoutIsNoop(t *testing.T) {
	tr, clk := newTestTracker()
	tr.Touch("robot")

	clk.advance(9 * time.Second)
	if dropped := tr.Poll(10 * time.Second); len(dropped) != 0 {
		t.Errorf("Poll = %v, want none", dropped)
	}
	if !tr.Connected("robot") {
		t.Error("peer should still be connected")
	}
}

func TestReconnectCycle(t *testing.T) {
	tr, clk := newTestTracker()
	tr.Touch("robot")

	clk.advance(11 * time.Second)
	tr.Poll(10 * time.Second)

	// Any received datagram flips the link back to connected.
	if !tr.Touch("robot") {
		t.Error("Touch after disconnect should report a reconnect edge")
	}

	// A fresh silence gap produces exactly one new disconnect edge.
	clk.advance(11 * time.Second)
	if dropped := tr.Poll(10 * time.Second); len(dropped) != 1 {
		t.Errorf("Poll after reconnect = %v, want one edge", dropped)
	}
}

func TestLinksAreIndependent(t *testing.T) {
	tr, clk := newTestTracker()
	tr.Touch("controller")
	clk.advance(8 * time.Second)
	tr.Touch("robot")
	clk.advance(3 * time.Second)

	dropped := tr.Poll(10 * time.Second)
	if len(dropped) != 1 || dropped[0] != "controller" {
		t.Errorf("Poll = %v, want [controller]", dropped)
	}
	if !tr.Connected("robot") {
		t.Error("robot link should be unaffected")
	}
}

func TestUnknownPeerNotConnected(t *testing.T) {
	tr, _ := newTestTracker()
	if tr.Connected("nobody") {
		t.Error("unknown peer should not be connected")
	}
	if _, ok := tr.LastSeen("nobody"); ok {
		t.Error("unknown peer should have no last-seen")
	}
}

func TestSnapshot(t *testing.T) {
	tr, _ := newTestTracker()
	tr.Touch("a")
	tr.Touch("b")

	snap := tr.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len(Snapshot) = %d, want 2", len(snap))
	}
	for _, s := range snap {
		if !s.Connected {
			t.Errorf("peer %s should be connected", s.Peer)
		}
	}
}
