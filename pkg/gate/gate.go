// Package gate enforces the robot's actuation rules: a fixed cooldown
// between confirmed shots and externally imposed disable windows.
//
// The gate is the sole authority on whether an actuation happened. Consoles
// may keep an advisory cooldown to avoid sending doomed intents, but only a
// confirmed result from the gate's owner moves user-visible counters.
package gate

import (
	"sync"
	"time"
)

// Reject reasons carried in intent results.
const (
	ReasonDisabled    = "disabled"
	ReasonCoolingDown = "cooling_down"
)

// Result is the decision for one actuation intent.
type Result struct {
	Accepted bool
	Reason   string // empty when accepted

	// DisabledFor is how much of the disable window remains when the
	// reason is ReasonDisabled.
	DisabledFor time.Duration
}

// Status is a read-only snapshot for display paths.
type Status struct {
	CoolingDown   bool
	CooldownLeft  time.Duration
	Disabled      bool
	DisabledByID  int
	DisabledLeft  time.Duration
	LastFire      time.Time
	AcceptedCount int
}

// Gate owns the robot's actuator state. All decisions happen under one
// mutex so no two concurrent intents can both be accepted inside a single
// cooldown window.
type Gate struct {
	mu       sync.Mutex
	now      func() time.Time
	cooldown time.Duration

	lastFire      time.Time
	disabledUntil time.Time
	disabledByID  int
	accepted      int
}

// New creates a Gate with the given cooldown. The gate starts ready: the
// first intent is evaluated against cooldown only.
func New(cooldown time.Duration) *Gate {
	return &Gate{
		now:      time.Now,
		cooldown: cooldown,
	}
}

// Fire evaluates one actuation intent. Disable windows are checked first,
// then cooldown. On accept, the fire time is recorded before the result is
// reported; this is the single write point.
func (g *Gate) Fire() Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Before(g.disabledUntil) {
		return Result{Reason: ReasonDisabled, DisabledFor: g.disabledUntil.Sub(now)}
	}
	if !g.lastFire.IsZero() && now.Sub(g.lastFire) < g.cooldown {
		return Result{Reason: ReasonCoolingDown}
	}

	g.lastFire = now
	g.accepted++
	return Result{Accepted: true}
}

// Disable opens (or extends) a disable window for d, attributed to byID.
// The window expires by time comparison alone; a lost Enable self-heals.
func (g *Gate) Disable(byID int, d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	until := g.now().Add(d)
	if until.After(g.disabledUntil) {
		g.disabledUntil = until
		g.disabledByID = byID
	}
}

// Enable closes any open disable window early.
func (g *Gate) Enable() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.disabledUntil = time.Time{}
	g.disabledByID = 0
}

// Disabled reports whether a disable window is currently open and how long
// it has left.
func (g *Gate) Disabled() (bool, int, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Before(g.disabledUntil) {
		return true, g.disabledByID, g.disabledUntil.Sub(now)
	}
	return false, 0, 0
}

// State returns a display snapshot.
func (g *Gate) State() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	s := Status{
		LastFire:      g.lastFire,
		AcceptedCount: g.accepted,
	}
	if !g.lastFire.IsZero() {
		if left := g.cooldown - now.Sub(g.lastFire); left > 0 {
			s.CoolingDown = true
			s.CooldownLeft = left
		}
	}
	if now.Before(g.disabledUntil) {
		s.Disabled = true
		s.DisabledByID = g.disabledByID
		s.DisabledLeft = g.disabledUntil.Sub(now)
	}
	return s
}
