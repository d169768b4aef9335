// Package robot provides the agent that runs on the actuated machine. It
// serves the console's control datagrams, enforces the actuation gate,
// registers with the match controller, mirrors match broadcasts, and gates
// the video pipeline on operator discovery.
package robot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opentag/taglink/pkg/gate"
	"github.com/opentag/taglink/pkg/link"
	"github.com/opentag/taglink/pkg/protocol"
	"github.com/opentag/taglink/pkg/stream"
	"github.com/opentag/taglink/pkg/transport"
)

// Link keys. The operator and controller links are tracked independently
// and never conflated.
const (
	peerOperator   = "operator"
	peerController = "controller"
)

// Actuator is the motor/emitter driver boundary. Implementations live
// outside the protocol core.
type Actuator interface {
	Drive(vx, vy, omega, speed float64)
	Stop()
	Fire(nodeID int)
}

// Config holds the agent's runtime configuration.
type Config struct {
	NodeID         int
	DisplayName    string
	ListenPort     int
	ControllerAddr netip.AddrPort

	Cooldown       time.Duration
	DisableWindow  time.Duration // local disable applied on a detected hit
	CommandTimeout time.Duration // motors stop when intents stop arriving
	LinkTimeout    time.Duration
	PollInterval   time.Duration
	RegisterEvery  time.Duration

	// ConfigBlob is served verbatim on CONFIG_REQUEST.
	ConfigBlob json.RawMessage
}

type sender interface {
	Send(m protocol.Message, to netip.AddrPort) error
}

// MatchView is the agent's read-only mirror of the controller's match
// state, fed by broadcasts.
type MatchView struct {
	Phase       string
	DurationSec int
	Score       int
	LastHitBy   int
}

// Status is the agent's display surface.
type Status struct {
	Links  []link.Status
	Gate   gate.Status
	Stream stream.Status
	Match  MatchView
}

// Agent is the robot-side protocol node.
type Agent struct {
	cfg      Config
	log      zerolog.Logger
	actuator Actuator
	gate     *gate.Gate
	links    *link.Tracker
	streams  *stream.Coordinator
	tx       sender
	now      func() time.Time

	mu         sync.Mutex
	lastIntent time.Time
	halted     bool
	match      MatchView
}

// New creates an Agent. The video coordinator is injected so the pipeline
// command stays outside the core.
func New(cfg Config, actuator Actuator, streams *stream.Coordinator, log zerolog.Logger) *Agent {
	return &Agent{
		cfg:      cfg,
		log:      log,
		actuator: actuator,
		gate:     gate.New(cfg.Cooldown),
		links:    link.NewTracker(),
		streams:  streams,
		now:      time.Now,
		match:    MatchView{Phase: "IDLE"},
	}
}

// Run binds the control socket and drives the agent's loops until ctx is
// cancelled: the receive/poll loop and the periodic registration handshake.
func (a *Agent) Run(ctx context.Context) error {
	ep, err := transport.Listen(fmt.Sprintf(":%d", a.cfg.ListenPort), a.log)
	if err != nil {
		return fmt.Errorf("robot agent: %w", err)
	}
	defer ep.Close()
	defer a.streams.Stop()
	a.tx = ep

	a.mu.Lock()
	a.lastIntent = a.now()
	a.mu.Unlock()

	a.log.Info().Int("node_id", a.cfg.NodeID).Stringer("listen", ep.LocalAddr()).Msg("robot agent up")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ep.Serve(ctx, a.handleMessage, a.cfg.PollInterval, a.poll)
	})
	g.Go(func() error {
		return a.registerLoop(ctx)
	})
	return g.Wait()
}

// ReportHit is called by the tag-sensor driver when this robot is tagged.
// The hit is reported upstream and the gate disabled locally right away;
// the controller's DISABLE broadcast mirrors the same window, and both
// expire by time if either message is lost.
func (a *Agent) ReportHit(byNodeID int) {
	a.gate.Disable(byNodeID, a.cfg.DisableWindow)
	a.actuator.Stop()
	a.mu.Lock()
	a.match.LastHitBy = byNodeID
	a.mu.Unlock()

	a.log.Info().Int("by", byNodeID).Msg("tag detected, actuator disabled")
	if a.tx != nil {
		_ = a.tx.Send(&protocol.HitReport{NodeID: a.cfg.NodeID, ByNodeID: byNodeID}, a.cfg.ControllerAddr)
	}
}

// Status returns a display snapshot.
func (a *Agent) Status() Status {
	a.mu.Lock()
	mv := a.match
	a.mu.Unlock()

	return Status{
		Links:  a.links.Snapshot(),
		Gate:   a.gate.State(),
		Stream: a.streams.Status(),
		Match:  mv,
	}
}

func (a *Agent) registerLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.RegisterEvery)
	defer ticker.Stop()

	for {
		reg := &protocol.Register{
			NodeID:      a.cfg.NodeID,
			Role:        protocol.RoleRobot,
			DisplayName: a.cfg.DisplayName,
			ListenPort:  a.cfg.ListenPort,
		}
		_ = a.tx.Send(reg, a.cfg.ControllerAddr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// poll runs on the receive loop's cadence even with no traffic.
func (a *Agent) poll() {
	for _, peer := range a.links.Poll(a.cfg.LinkTimeout) {
		a.log.Warn().Str("peer", peer).Msg("link lost")
	}

	a.mu.Lock()
	silent := a.now().Sub(a.lastIntent) > a.cfg.CommandTimeout
	stop := silent && !a.halted
	if stop {
		a.halted = true
	}
	a.mu.Unlock()

	if stop {
		a.actuator.Stop()
		a.log.Warn().Dur("timeout", a.cfg.CommandTimeout).Msg("no control intents, motors stopped")
	}
}

func (a *Agent) touch(peer string) {
	if a.links.Touch(peer) {
		a.log.Info().Str("peer", peer).Msg("link up")
	}
}

func (a *Agent) handleMessage(msg protocol.Message, from netip.AddrPort) {
	switch m := msg.(type) {
	case *protocol.ControlIntent:
		a.touch(peerOperator)
		// First datagram from the console reveals where video goes.
		_ = a.streams.OnPeerDiscovered(from.Addr())
		a.handleIntent(m, from)

	case *protocol.ConfigRequest:
		a.touch(peerOperator)
		_ = a.tx.Send(&protocol.ConfigResponse{Blob: a.cfg.ConfigBlob}, from)

	case *protocol.Heartbeat:
		a.touch(peerController)

	case *protocol.RegisterAck:
		a.touch(peerController)

	case *protocol.ReadyCheck:
		// Readiness is answered by the operator console, never here: the
		// match machine keys readiness on node id, and an instant robot
		// reply would start matches before the operator confirms.
		a.touch(peerController)

	case *protocol.MatchStart:
		a.touch(peerController)
		a.gate.Enable()
		a.mu.Lock()
		a.match = MatchView{Phase: "ACTIVE", DurationSec: m.DurationSec}
		a.mu.Unlock()

	case *protocol.MatchEnd:
		a.touch(peerController)
		a.mu.Lock()
		a.match.Phase = "ENDED"
		if s, ok := m.FinalScores[protocol.FormatNodeID(a.cfg.NodeID)]; ok {
			a.match.Score = s
		}
		a.mu.Unlock()

	case *protocol.ScoreEvent:
		a.touch(peerController)
		a.mu.Lock()
		if m.ByNodeID == a.cfg.NodeID {
			a.match.Score += m.Points
		}
		if m.AffectedNodeID == a.cfg.NodeID {
			a.match.LastHitBy = m.ByNodeID
		}
		a.mu.Unlock()

	case *protocol.Disable:
		a.touch(peerController)
		a.gate.Disable(m.DisabledByID, time.Duration(m.DurationSec*float64(time.Second)))
		a.actuator.Stop()

	case *protocol.Enable:
		a.touch(peerController)
		a.gate.Enable()

	default:
		a.log.Debug().Str("type", string(msg.MsgType())).Msg("unexpected message dropped")
	}
}

func (a *Agent) handleIntent(m *protocol.ControlIntent, from netip.AddrPort) {
	a.mu.Lock()
	a.lastIntent = a.now()
	a.halted = false
	a.mu.Unlock()

	disabled, byID, left := a.gate.Disabled()

	switch {
	case m.EStop, disabled:
		a.actuator.Stop()
	default:
		a.actuator.Drive(m.VX, m.VY, m.Omega, m.Speed)
	}

	res := protocol.IntentResult{
		Disabled:     disabled,
		DisabledByID: byID,
		DisabledSec:  left.Seconds(),
	}
	if m.Fire {
		r := a.gate.Fire()
		if r.Accepted {
			a.actuator.Fire(a.cfg.NodeID)
			res.Fired = true
		} else {
			res.RejectReason = r.Reason
		}
	}
	_ = a.tx.Send(&res, from)
}
