// Package console implements the operator-side protocol node. It streams
// control intents to its paired robot at a fixed rate, keeps an advisory
// fire cooldown for responsive feedback, registers with the match
// controller, and mirrors match broadcasts for display.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opentag/taglink/pkg/link"
	"github.com/opentag/taglink/pkg/protocol"
	"github.com/opentag/taglink/pkg/transport"
)

const (
	peerRobot      = "robot"
	peerController = "controller"
)

// Intent is one sample of operator input. The InputProvider produces it on
// the command loop's cadence.
type Intent struct {
	VX    float64
	VY    float64
	Omega float64
	Speed float64
	EStop bool
	Fire  bool
}

// InputProvider samples the operator's current input. It is called from
// the command loop and must not block.
type InputProvider func() Intent

// Config holds the console's runtime configuration.
type Config struct {
	NodeID         int
	DisplayName    string
	ListenPort     int
	RobotAddr      netip.AddrPort
	ControllerAddr netip.AddrPort

	IntentHz         float64
	AdvisoryCooldown time.Duration
	LinkTimeout      time.Duration
	PollInterval     time.Duration
	RegisterEvery    time.Duration
}

type sender interface {
	Send(m protocol.Message, to netip.AddrPort) error
}

// MatchView mirrors the controller's broadcasts for the operator display.
type MatchView struct {
	Phase       string
	DurationSec int
	Score       int
	LastHitBy   int
}

// Status is the console's display surface.
type Status struct {
	Links          []link.Status
	Match          MatchView
	ConfirmedFires int
	AdvisoryLeft   time.Duration
	AwaitingReady  bool
	RobotDisabled  bool
	DisabledByID   int
	RobotConfig    json.RawMessage
}

// Console is the operator-side protocol node.
type Console struct {
	cfg   Config
	log   zerolog.Logger
	input InputProvider
	links *link.Tracker
	tx    sender
	now   func() time.Time

	mu             sync.Mutex
	confirmedFires int
	advisoryUntil  time.Time
	ready          bool
	awaitingReady  bool
	robotDisabled  bool
	disabledByID   int
	robotConfig    json.RawMessage
	match          MatchView
}

func New(cfg Config, input InputProvider, log zerolog.Logger) *Console {
	return &Console{
		cfg:   cfg,
		log:   log,
		input: input,
		links: link.NewTracker(),
		now:   time.Now,
		match: MatchView{Phase: "IDLE"},
	}
}

// Run binds the feedback socket and drives the console's loops until ctx
// is cancelled: the receive/poll loop, the fixed-rate command loop, and
// the periodic registration handshake.
func (c *Console) Run(ctx context.Context) error {
	ep, err := transport.Listen(fmt.Sprintf(":%d", c.cfg.ListenPort), c.log)
	if err != nil {
		return fmt.Errorf("operator console: %w", err)
	}
	defer ep.Close()
	c.tx = ep

	c.log.Info().Int("node_id", c.cfg.NodeID).Stringer("listen", ep.LocalAddr()).Msg("operator console up")
	_ = c.tx.Send(&protocol.ConfigRequest{}, c.cfg.RobotAddr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ep.Serve(ctx, c.handleMessage, c.cfg.PollInterval, c.poll)
	})
	g.Go(func() error {
		return c.intentLoop(ctx)
	})
	g.Go(func() error {
		return c.registerLoop(ctx)
	})
	return g.Wait()
}

// SetReady records the operator's answer to a ready check and sends it
// upstream. It may be called before the check arrives; the answer is
// replayed when it does.
func (c *Console) SetReady(ready bool) {
	c.mu.Lock()
	c.ready = ready
	prompted := c.awaitingReady
	if ready {
		c.awaitingReady = false
	}
	c.mu.Unlock()

	if prompted && c.tx != nil {
		_ = c.tx.Send(&protocol.ReadyResponse{NodeID: c.cfg.NodeID, Ready: ready}, c.cfg.ControllerAddr)
	}
}

// Status returns a display snapshot.
func (c *Console) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	left := c.advisoryUntil.Sub(c.now())
	if left < 0 {
		left = 0
	}
	return Status{
		Links:          c.links.Snapshot(),
		Match:          c.match,
		ConfirmedFires: c.confirmedFires,
		AdvisoryLeft:   left,
		AwaitingReady:  c.awaitingReady,
		RobotDisabled:  c.robotDisabled,
		DisabledByID:   c.disabledByID,
		RobotConfig:    c.robotConfig,
	}
}

func (c *Console) intentLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / c.cfg.IntentHz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.sendIntent(c.input())
		}
	}
}

// sendIntent forwards one input sample to the robot. The advisory cooldown
// only suppresses the fire flag locally; the robot's gate remains the
// single authority on whether a shot lands.
func (c *Console) sendIntent(in Intent) {
	c.mu.Lock()
	fire := in.Fire && !c.now().Before(c.advisoryUntil)
	c.mu.Unlock()

	msg := &protocol.ControlIntent{
		NodeID: c.cfg.NodeID,
		VX:     in.VX,
		VY:     in.VY,
		Omega:  in.Omega,
		Speed:  in.Speed,
		EStop:  in.EStop,
		Fire:   fire,
	}
	_ = c.tx.Send(msg, c.cfg.RobotAddr)
}

func (c *Console) registerLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.RegisterEvery)
	defer ticker.Stop()

	for {
		reg := &protocol.Register{
			NodeID:      c.cfg.NodeID,
			Role:        protocol.RoleConsole,
			DisplayName: c.cfg.DisplayName,
			ListenPort:  c.cfg.ListenPort,
		}
		_ = c.tx.Send(reg, c.cfg.ControllerAddr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Console) poll() {
	for _, peer := range c.links.Poll(c.cfg.LinkTimeout) {
		c.log.Warn().Str("peer", peer).Msg("link lost")
	}
}

func (c *Console) touch(peer string) {
	if c.links.Touch(peer) {
		c.log.Info().Str("peer", peer).Msg("link up")
	}
}

func (c *Console) handleMessage(msg protocol.Message, from netip.AddrPort) {
	switch m := msg.(type) {
	case *protocol.IntentResult:
		c.touch(peerRobot)
		c.mu.Lock()
		c.robotDisabled = m.Disabled
		c.disabledByID = m.DisabledByID
		if m.Fired {
			c.confirmedFires++
			c.advisoryUntil = c.now().Add(c.cfg.AdvisoryCooldown)
		}
		c.mu.Unlock()

	case *protocol.ConfigResponse:
		c.touch(peerRobot)
		c.mu.Lock()
		c.robotConfig = m.Blob
		c.mu.Unlock()

	case *protocol.Heartbeat:
		c.touch(peerController)

	case *protocol.RegisterAck:
		c.touch(peerController)

	case *protocol.ReadyCheck:
		c.touch(peerController)
		c.mu.Lock()
		ready := c.ready
		c.awaitingReady = !ready
		c.mu.Unlock()
		if ready {
			_ = c.tx.Send(&protocol.ReadyResponse{NodeID: c.cfg.NodeID, Ready: true}, from)
		} else {
			c.log.Info().Msg("ready check received, waiting for operator")
		}

	case *protocol.MatchStart:
		c.touch(peerController)
		c.mu.Lock()
		c.match = MatchView{Phase: "ACTIVE", DurationSec: m.DurationSec}
		c.ready = false
		c.mu.Unlock()

	case *protocol.MatchEnd:
		c.touch(peerController)
		c.mu.Lock()
		c.match.Phase = "ENDED"
		if s, ok := m.FinalScores[protocol.FormatNodeID(c.cfg.NodeID)]; ok {
			c.match.Score = s
		}
		c.mu.Unlock()

	case *protocol.ScoreEvent:
		c.touch(peerController)
		c.mu.Lock()
		if m.ByNodeID == c.cfg.NodeID {
			c.match.Score += m.Points
		}
		if m.AffectedNodeID == c.cfg.NodeID {
			c.match.LastHitBy = m.ByNodeID
		}
		c.mu.Unlock()

	default:
		c.log.Debug().Str("type", string(msg.MsgType())).Msg("unexpected message dropped")
	}
}
