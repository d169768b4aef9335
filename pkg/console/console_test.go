package console

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/opentag/taglink/pkg/protocol"
)

type sent struct {
	msg protocol.Message
	to  netip.AddrPort
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
}

func (f *fakeSender) Send(m protocol.Message, to netip.AddrPort) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sent{m, to})
	return nil
}

func (f *fakeSender) byType(t protocol.Type) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, s := range f.msgs {
		if s.msg.MsgType() == t {
			out = append(out, s)
		}
	}
	return out
}

var robotAddr = netip.MustParseAddrPort("10.0.0.11:5201")
var controllerAddr = netip.MustParseAddrPort("10.0.0.1:6000")

func testConsole(t *testing.T, input InputProvider) (*Console, *fakeSender) {
	t.Helper()
	if input == nil {
		input = func() Intent { return Intent{} }
	}
	tx := &fakeSender{}
	c := New(Config{
		NodeID:           1,
		DisplayName:      "operator one",
		ListenPort:       6101,
		RobotAddr:        robotAddr,
		ControllerAddr:   controllerAddr,
		IntentHz:         50,
		AdvisoryCooldown: 2 * time.Second,
		LinkTimeout:      10 * time.Second,
		PollInterval:     time.Second,
		RegisterEvery:    5 * time.Second,
	}, input, zerolog.Nop())
	c.tx = tx
	return c, tx
}

func TestIntentForwardedToRobot(t *testing.T) {
	c, tx := testConsole(t, nil)

	c.sendIntent(Intent{VX: 0.3, Omega: -1, Speed: 0.5})

	intents := tx.byType(protocol.TypeControlIntent)
	if len(intents) != 1 {
		t.Fatalf("%d intents sent", len(intents))
	}
	if intents[0].to != robotAddr {
		t.Errorf("intent sent to %v", intents[0].to)
	}
	ci := intents[0].msg.(*protocol.ControlIntent)
	if ci.VX != 0.3 || ci.Omega != -1 || ci.NodeID != 1 {
		t.Errorf("intent = %+v", ci)
	}
}

func TestAdvisoryCooldownSuppressesFireLocally(t *testing.T) {
	c, tx := testConsole(t, nil)
	base := time.Unix(9000, 0)
	c.now = func() time.Time { return base }

	// Robot confirms a shot; the advisory window opens.
	c.handleMessage(&protocol.IntentResult{Fired: true}, robotAddr)

	c.sendIntent(Intent{Fire: true})
	base = base.Add(2100 * time.Millisecond)
	c.sendIntent(Intent{Fire: true})

	intents := tx.byType(protocol.TypeControlIntent)
	if len(intents) != 2 {
		t.Fatalf("%d intents", len(intents))
	}
	if intents[0].msg.(*protocol.ControlIntent).Fire {
		t.Error("fire flag should be suppressed inside the advisory window")
	}
	if !intents[1].msg.(*protocol.ControlIntent).Fire {
		t.Error("fire flag should pass once the advisory window expires")
	}
}

func TestConfirmedCountFollowsResultsOnly(t *testing.T) {
	c, _ := testConsole(t, nil)

	c.sendIntent(Intent{Fire: true})
	c.sendIntent(Intent{Fire: true})
	if got := c.Status().ConfirmedFires; got != 0 {
		t.Errorf("ConfirmedFires = %d before any result", got)
	}

	c.handleMessage(&protocol.IntentResult{Fired: true}, robotAddr)
	c.handleMessage(&protocol.IntentResult{Fired: false, RejectReason: "cooling_down"}, robotAddr)

	if got := c.Status().ConfirmedFires; got != 1 {
		t.Errorf("ConfirmedFires = %d, want 1", got)
	}
}

func TestReadyCheckWaitsForOperator(t *testing.T) {
	c, tx := testConsole(t, nil)

	c.handleMessage(&protocol.ReadyCheck{}, controllerAddr)
	if len(tx.byType(protocol.TypeReadyResponse)) != 0 {
		t.Fatal("console answered a ready check without the operator")
	}
	if !c.Status().AwaitingReady {
		t.Error("AwaitingReady should be set")
	}

	c.SetReady(true)

	resp := tx.byType(protocol.TypeReadyResponse)
	if len(resp) != 1 {
		t.Fatalf("%d ready responses", len(resp))
	}
	rr := resp[0].msg.(*protocol.ReadyResponse)
	if rr.NodeID != 1 || !rr.Ready {
		t.Errorf("ReadyResponse = %+v", rr)
	}
	if resp[0].to != controllerAddr {
		t.Errorf("response sent to %v", resp[0].to)
	}
	if c.Status().AwaitingReady {
		t.Error("AwaitingReady should clear after the answer")
	}
}

func TestReadyAnsweredImmediatelyWhenPreArmed(t *testing.T) {
	c, tx := testConsole(t, nil)

	c.SetReady(true)
	c.handleMessage(&protocol.ReadyCheck{}, controllerAddr)

	if len(tx.byType(protocol.TypeReadyResponse)) != 1 {
		t.Error("pre-armed console should answer the check on arrival")
	}
}

func TestMatchBroadcastMirror(t *testing.T) {
	c, _ := testConsole(t, nil)

	c.handleMessage(&protocol.MatchStart{DurationSec: 120}, controllerAddr)
	st := c.Status()
	if st.Match.Phase != "ACTIVE" || st.Match.DurationSec != 120 {
		t.Errorf("after start: %+v", st.Match)
	}

	c.handleMessage(&protocol.ScoreEvent{Points: 100, ByNodeID: 1, AffectedNodeID: 2}, controllerAddr)
	c.handleMessage(&protocol.MatchEnd{FinalScores: map[string]int{"1": 200, "2": 0}}, controllerAddr)

	st = c.Status()
	if st.Match.Phase != "ENDED" {
		t.Errorf("phase = %s", st.Match.Phase)
	}
	if st.Match.Score != 200 {
		t.Errorf("final score = %d, want the controller's figure", st.Match.Score)
	}
}

func TestDisabledStateMirroredFromResults(t *testing.T) {
	c, _ := testConsole(t, nil)

	c.handleMessage(&protocol.IntentResult{Disabled: true, DisabledByID: 2, DisabledSec: 7.5}, robotAddr)
	st := c.Status()
	if !st.RobotDisabled || st.DisabledByID != 2 {
		t.Errorf("status = %+v", st)
	}

	c.handleMessage(&protocol.IntentResult{}, robotAddr)
	if c.Status().RobotDisabled {
		t.Error("disabled flag should clear with the next result")
	}
}

func TestConfigResponseStored(t *testing.T) {
	c, _ := testConsole(t, nil)

	c.handleMessage(&protocol.ConfigResponse{Blob: []byte(`{"cooldown_sec":2}`)}, robotAddr)

	if string(c.Status().RobotConfig) != `{"cooldown_sec":2}` {
		t.Errorf("RobotConfig = %s", c.Status().RobotConfig)
	}
}
