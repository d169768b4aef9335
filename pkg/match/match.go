// Package match models the referee's view of a match: the lifecycle state
// machine, per-node scores, and the transient disable windows produced by
// scoring events.
//
// The machine lives on the match controller; robots and consoles hold
// read-only mirrors fed by broadcasts. Transition listeners are notified
// outside the lock, in registration order.
package match

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opentag/taglink/pkg/protocol"
)

// Phase is the match lifecycle state.
type Phase string

const (
	PhaseIdle       Phase = "IDLE"
	PhaseReadyCheck Phase = "READY_CHECK"
	PhaseActive     Phase = "ACTIVE"
	PhaseEnded      Phase = "ENDED"
)

var (
	// ErrBadPhase rejects an operation invalid in the current phase.
	ErrBadPhase = errors.New("match: operation not valid in current phase")
	// ErrUnknownNode rejects a hit naming a node that never joined.
	ErrUnknownNode = errors.New("match: unknown node")
)

// Slot is one node's per-match state.
type Slot struct {
	NodeID        int
	DisplayName   string
	Ready         bool
	Score         int
	Kills         int
	Deaths        int
	DisabledUntil time.Time
}

// Hit is one confirmed scoring event.
type Hit struct {
	ByNodeID int
	NodeID   int
	Points   int
	At       time.Time
}

// Config holds the per-match rules.
type Config struct {
	Duration      time.Duration
	DisableWindow time.Duration
	PointsPerHit  int
}

// TransitionListener observes phase changes.
type TransitionListener func(from, to Phase)

// Machine is the authoritative match state machine.
type Machine struct {
	mu  sync.RWMutex
	now func() time.Time
	cfg Config

	phase     Phase
	startedAt time.Time
	slots     map[int]*Slot
	required  map[int]bool
	hits      []Hit

	lmu       sync.RWMutex
	listeners []TransitionListener
}

// New creates a Machine in the IDLE phase.
func New(cfg Config) *Machine {
	return &Machine{
		now:      time.Now,
		cfg:      cfg,
		phase:    PhaseIdle,
		slots:    make(map[int]*Slot),
		required: make(map[int]bool),
	}
}

// OnTransition registers a listener called for every phase change.
func (m *Machine) OnTransition(l TransitionListener) {
	m.lmu.Lock()
	m.listeners = append(m.listeners, l)
	m.lmu.Unlock()
}

func (m *Machine) notify(from, to Phase) {
	m.lmu.RLock()
	ls := make([]TransitionListener, len(m.listeners))
	copy(ls, m.listeners)
	m.lmu.RUnlock()

	for _, l := range ls {
		l(from, to)
	}
}

// AddNode joins (or re-joins) a node. The returned prompt is true when a
// ready check is in progress and this node still owes a response; the
// caller must ask it individually, since it missed the broadcast.
// Re-registration during an active match keeps the node's slot: score and
// disable window survive a reconnect.
func (m *Machine) AddNode(nodeID int, displayName string) (prompt bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.slots[nodeID]
	if !ok {
		slot = &Slot{NodeID: nodeID}
		m.slots[nodeID] = slot
	}
	if displayName != "" {
		slot.DisplayName = displayName
	}

	if m.phase == PhaseReadyCheck {
		m.required[nodeID] = true
		return !slot.Ready
	}
	return false
}

// RequestReadyCheck moves IDLE to READY_CHECK. The set of nodes that must
// report ready is snapshot now; later joiners are added to the set by
// AddNode.
func (m *Machine) RequestReadyCheck() error {
	m.mu.Lock()
	if m.phase != PhaseIdle {
		m.mu.Unlock()
		return fmt.Errorf("%w: ready check from %s", ErrBadPhase, m.phase)
	}
	m.phase = PhaseReadyCheck
	m.required = make(map[int]bool, len(m.slots))
	for id, slot := range m.slots {
		m.required[id] = true
		slot.Ready = false
	}
	m.mu.Unlock()

	m.notify(PhaseIdle, PhaseReadyCheck)
	return nil
}

// SetReady records a node's readiness. When every required node has
// reported ready the match starts: scores reset, disable windows clear,
// and the ACTIVE transition is emitted.
func (m *Machine) SetReady(nodeID int, ready bool) {
	m.mu.Lock()
	slot, ok := m.slots[nodeID]
	if !ok || m.phase != PhaseReadyCheck {
		m.mu.Unlock()
		return
	}
	slot.Ready = ready

	for id := range m.required {
		if s, ok := m.slots[id]; !ok || !s.Ready {
			m.mu.Unlock()
			return
		}
	}
	m.beginLocked()
	m.mu.Unlock()

	m.notify(PhaseReadyCheck, PhaseActive)
}

// beginLocked enters ACTIVE and resets all per-match transient state.
func (m *Machine) beginLocked() {
	m.phase = PhaseActive
	m.startedAt = m.now()
	m.hits = nil
	for _, slot := range m.slots {
		slot.Score = 0
		slot.Kills = 0
		slot.Deaths = 0
		slot.DisabledUntil = time.Time{}
	}
}

// Tick advances time-driven transitions. It returns true when this call
// ended the match by duration expiry.
func (m *Machine) Tick() bool {
	m.mu.Lock()
	if m.phase != PhaseActive || m.cfg.Duration <= 0 || m.now().Sub(m.startedAt) < m.cfg.Duration {
		m.mu.Unlock()
		return false
	}
	m.phase = PhaseEnded
	m.mu.Unlock()

	m.notify(PhaseActive, PhaseEnded)
	return true
}

// End moves ACTIVE to ENDED on request.
func (m *Machine) End() error {
	m.mu.Lock()
	if m.phase != PhaseActive {
		m.mu.Unlock()
		return fmt.Errorf("%w: end from %s", ErrBadPhase, m.phase)
	}
	m.phase = PhaseEnded
	m.mu.Unlock()

	m.notify(PhaseActive, PhaseEnded)
	return nil
}

// Reset moves ENDED back to IDLE. Slots persist; per-match fields reset on
// the next ACTIVE entry, not here.
func (m *Machine) Reset() error {
	m.mu.Lock()
	if m.phase != PhaseEnded {
		m.mu.Unlock()
		return fmt.Errorf("%w: reset from %s", ErrBadPhase, m.phase)
	}
	m.phase = PhaseIdle
	m.mu.Unlock()

	m.notify(PhaseEnded, PhaseIdle)
	return nil
}

// RecordHit scores a tag while the match is ACTIVE: the attacker gains
// points and a kill, the victim gains a death and a disable window. The
// caller mirrors the window out to the victim fire-and-forget; the window
// expires by time on the robot regardless of delivery.
func (m *Machine) RecordHit(byNodeID, nodeID int) (Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseActive {
		return Hit{}, fmt.Errorf("%w: hit outside active match", ErrBadPhase)
	}
	attacker, ok := m.slots[byNodeID]
	if !ok {
		return Hit{}, fmt.Errorf("%w: attacker %d", ErrUnknownNode, byNodeID)
	}
	victim, ok := m.slots[nodeID]
	if !ok {
		return Hit{}, fmt.Errorf("%w: victim %d", ErrUnknownNode, nodeID)
	}

	attacker.Score += m.cfg.PointsPerHit
	attacker.Kills++
	victim.Deaths++
	victim.DisabledUntil = m.now().Add(m.cfg.DisableWindow)

	hit := Hit{ByNodeID: byNodeID, NodeID: nodeID, Points: m.cfg.PointsPerHit, At: m.now()}
	m.hits = append(m.hits, hit)
	return hit, nil
}

// Phase returns the current lifecycle phase.
func (m *Machine) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Remaining returns the match time left while ACTIVE.
func (m *Machine) Remaining() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.phase != PhaseActive || m.cfg.Duration <= 0 {
		return 0
	}
	left := m.cfg.Duration - m.now().Sub(m.startedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Snapshot returns a copy of every slot.
func (m *Machine) Snapshot() []Slot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Slot, 0, len(m.slots))
	for _, slot := range m.slots {
		out = append(out, *slot)
	}
	return out
}

// FinalScores renders the score map the MATCH_END broadcast carries.
func (m *Machine) FinalScores() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scores := make(map[string]int, len(m.slots))
	for id, slot := range m.slots {
		scores[protocol.FormatNodeID(id)] = slot.Score
	}
	return scores
}

// HitLog returns the hits recorded since the match started.
func (m *Machine) HitLog() []Hit {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Hit, len(m.hits))
	copy(out, m.hits)
	return out
}
