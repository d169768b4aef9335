package gate

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newTestGate(cooldown time.Duration) (*Gate, *fakeClock) {
	clk := &fakeClock{t: time.Unix(5000, 0)}
	g := New(cooldown)
	g.now = clk.now
	return g, clk
}

func TestCooldownWindow(t *testing.T) {
	g, clk := newTestGate(2 * time.Second)
	t0 := clk.t

	// t=0.0 accept, t=0.5 reject, t=1.9 reject, t=2.0 accept.
	steps := []struct {
		offset time.Duration
		accept bool
	}{
		{0, true},
		{500 * time.Millisecond, false},
		{1900 * time.Millisecond, false},
		{2 * time.Second, true},
	}

	accepted := 0
	for _, step := range steps {
		clk.set(t0.Add(step.offset))
		res := g.Fire()
		if res.Accepted != step.accept {
			t.Errorf("at +%v: accepted = %v, want %v", step.offset, res.Accepted, step.accept)
		}
		if res.Accepted {
			accepted++
		} else if res.Reason != ReasonCoolingDown {
			t.Errorf("at +%v: reason = %q, want %q", step.offset, res.Reason, ReasonCoolingDown)
		}
	}
	if accepted != 2 {
		t.Errorf("accepted %d intents, want exactly 2", accepted)
	}
}

func TestFirstFireAccepted(t *testing.T) {
	g, _ := newTestGate(2 * time.Second)
	if res := g.Fire(); !res.Accepted {
		t.Errorf("first fire rejected: %+v", res)
	}
}

func TestDisableSelfHeals(t *testing.T) {
	g, clk := newTestGate(time.Second)
	t0 := clk.t

	g.Disable(7, 10*time.Second)

	clk.set(t0.Add(9 * time.Second))
	res := g.Fire()
	if res.Accepted || res.Reason != ReasonDisabled {
		t.Fatalf("inside window: %+v, want Disabled reject", res)
	}
	if res.DisabledFor != time.Second {
		t.Errorf("DisabledFor = %v, want 1s", res.DisabledFor)
	}

	// No Enable ever arrives; expiry alone re-opens the gate and the
	// intent is evaluated purely on cooldown state.
	clk.set(t0.Add(10*time.Second + time.Millisecond))
	if res := g.Fire(); !res.Accepted {
		t.Errorf("after expiry: %+v, want accept", res)
	}
}

func TestDisableCheckedBeforeCooldown(t *testing.T) {
	g, clk := newTestGate(time.Minute)
	g.Fire() // start a long cooldown
	g.Disable(3, 10*time.Second)

	clk.set(clk.t.Add(time.Second))
	res := g.Fire()
	if res.Reason != ReasonDisabled {
		t.Errorf("reason = %q, want disabled to shadow cooldown", res.Reason)
	}
}

func TestEnableClosesWindowEarly(t *testing.T) {
	g, _ := newTestGate(0)
	g.Disable(2, time.Hour)
	g.Enable()

	if disabled, _, _ := g.Disabled(); disabled {
		t.Error("window should be closed after Enable")
	}
	if res := g.Fire(); !res.Accepted {
		t.Errorf("fire after Enable: %+v", res)
	}
}

func TestDisableExtendsNotShrinks(t *testing.T) {
	g, _ := newTestGate(0)
	g.Disable(1, 10*time.Second)
	g.Disable(2, 2*time.Second) // shorter window must not shrink the open one

	_, byID, left := g.Disabled()
	if byID != 1 || left < 9*time.Second {
		t.Errorf("Disabled = by %d, left %v; want by 1, ~10s", byID, left)
	}
}

func TestConcurrentIntentsSingleAccept(t *testing.T) {
	g, _ := newTestGate(time.Hour)

	const n = 32
	results := make(chan Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- g.Fire()
		}()
	}
	wg.Wait()
	close(results)

	accepted := 0
	for res := range results {
		if res.Accepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("%d intents accepted inside one cooldown window, want 1", accepted)
	}
}

func TestStateSnapshot(t *testing.T) {
	g, clk := newTestGate(2 * time.Second)
	g.Fire()
	g.Disable(4, 10*time.Second)
	clk.set(clk.t.Add(time.Second))

	s := g.State()
	if !s.CoolingDown || s.CooldownLeft != time.Second {
		t.Errorf("cooldown snapshot: %+v", s)
	}
	if !s.Disabled || s.DisabledByID != 4 {
		t.Errorf("disable snapshot: %+v", s)
	}
	if s.AcceptedCount != 1 {
		t.Errorf("AcceptedCount = %d, want 1", s.AcceptedCount)
	}
}
