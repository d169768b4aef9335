// Package link tracks per-peer liveness from traffic recency.
//
// A Tracker is fed by the receive path: every successfully decoded inbound
// datagram touches its peer, whatever the message type. A periodic poll
// flips peers to disconnected after a silence gap. Both transitions are
// edge-triggered and fire at most once per crossing, so callers can log or
// notify without flap suppression of their own.
package link

import (
	"sync"
	"time"
)

// Status is a snapshot of one tracked link.
type Status struct {
	Peer      string
	Connected bool
	LastSeen  time.Time
}

// Tracker watches the links from the local node to a set of remote peers.
// A node tracking several peers keys them independently; links are never
// conflated.
type Tracker struct {
	mu    sync.RWMutex
	now   func() time.Time
	peers map[string]*peerState
}

type peerState struct {
	lastSeen  time.Time
	connected bool
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		now:   time.Now,
		peers: make(map[string]*peerState),
	}
}

// Touch records traffic from peer and returns true when this receipt is a
// disconnected-to-connected edge. Peers are created lazily on first contact
// and never removed.
func (t *Tracker) Touch(peer string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.peers[peer]
	if !ok {
		ps = &peerState{}
		t.peers[peer] = ps
	}
	ps.lastSeen = t.now()
	if ps.connected {
		return false
	}
	ps.connected = true
	return true
}

// Poll flips peers silent for longer than timeout to disconnected and
// returns the peers that crossed on this call. Peers already disconnected
// are not reported again until they reconnect and time out anew.
func (t *Tracker) Poll(timeout time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var dropped []string
	for peer, ps := range t.peers {
		if ps.connected && now.Sub(ps.lastSeen) > timeout {
			ps.connected = false
			dropped = append(dropped, peer)
		}
	}
	return dropped
}

// Connected reports whether peer is currently considered alive. Unknown
// peers are not connected.
func (t *Tracker) Connected(peer string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ps, ok := t.peers[peer]
	return ok && ps.connected
}

// LastSeen returns the time of the most recent traffic from peer.
func (t *Tracker) LastSeen(peer string) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ps, ok := t.peers[peer]
	if !ok {
		return time.Time{}, false
	}
	return ps.lastSeen, true
}

// Snapshot returns the current status of every tracked link.
func (t *Tracker) Snapshot() []Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Status, 0, len(t.peers))
	for peer, ps := range t.peers {
		out = append(out, Status{Peer: peer, Connected: ps.connected, LastSeen: ps.lastSeen})
	}
	return out
}
