// Package controller implements the match controller: the single
// authoritative node for registration, liveness, match phase and scoring.
// It serves the arena's UDP datagrams, fans heartbeats out to every
// registered node, and optionally publishes arena telemetry over MQTT and
// a live scoreboard over WebSocket.
package controller

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opentag/taglink/pkg/link"
	"github.com/opentag/taglink/pkg/match"
	"github.com/opentag/taglink/pkg/protocol"
	"github.com/opentag/taglink/pkg/registry"
	"github.com/opentag/taglink/pkg/transport"
)

// Config holds the controller's runtime configuration.
type Config struct {
	Listen        string
	Heartbeat     time.Duration
	LinkTimeout   time.Duration
	PollInterval  time.Duration
	Match         match.Config
	BrokerURL     string // optional MQTT telemetry bridge
	BrokerClient  string // MQTT client id, defaults to "match-controller"
	ScoreboardAdr string // optional WebSocket scoreboard bind address
}

type sender interface {
	Send(m protocol.Message, to netip.AddrPort) error
}

// NodeStatus is one row of the arena snapshot.
type NodeStatus struct {
	NodeID      int     `json:"node_id"`
	DisplayName string  `json:"display_name"`
	Score       int     `json:"score"`
	Kills       int     `json:"kills"`
	Deaths      int     `json:"deaths"`
	Ready       bool    `json:"ready"`
	DisabledSec float64 `json:"disabled_sec,omitempty"`
	RobotUp     bool    `json:"robot_up"`
	ConsoleUp   bool    `json:"console_up"`
}

// Snapshot is the arena's display state, served to the scoreboard feed
// and the telemetry bridge.
type Snapshot struct {
	Phase        string       `json:"phase"`
	RemainingSec float64      `json:"remaining_sec"`
	Nodes        []NodeStatus `json:"nodes"`
}

// Server is the match controller node.
type Server struct {
	cfg       Config
	log       zerolog.Logger
	reg       *registry.Registry
	links     *link.Tracker
	match     *match.Machine
	telemetry *Telemetry
	tx        sender
	now       func() time.Time
}

// New creates a Server with a fresh registry and match machine. Broadcasts
// ride on phase transitions so every path into a phase change, operator
// command or duration expiry alike, announces it the same way.
func New(cfg Config, log zerolog.Logger) *Server {
	s := &Server{
		cfg:   cfg,
		log:   log,
		reg:   registry.New(),
		links: link.NewTracker(),
		match: match.New(cfg.Match),
		now:   time.Now,
	}
	s.match.OnTransition(s.onTransition)
	return s
}

// Match exposes the state machine (read access for feeds and tests).
func (s *Server) Match() *match.Machine { return s.match }

// Run binds the arena socket and drives the controller's loops until ctx
// is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ep, err := transport.Listen(s.cfg.Listen, s.log)
	if err != nil {
		return fmt.Errorf("match controller: %w", err)
	}
	defer ep.Close()
	s.tx = ep

	if s.cfg.BrokerURL != "" {
		clientID := s.cfg.BrokerClient
		if clientID == "" {
			clientID = "match-controller"
		}
		t, err := ConnectTelemetry(s.cfg.BrokerURL, clientID, s.log)
		if err != nil {
			// The arena runs without the bridge; only the socket is load-bearing.
			s.log.Warn().Err(err).Msg("telemetry bridge unavailable")
		} else {
			s.telemetry = t
			defer t.Close()
		}
	}

	s.log.Info().Stringer("listen", ep.LocalAddr()).Msg("match controller up")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ep.Serve(ctx, s.handleMessage, s.cfg.PollInterval, s.poll)
	})
	g.Go(func() error {
		return s.heartbeatLoop(ctx)
	})
	if s.cfg.ScoreboardAdr != "" {
		g.Go(func() error {
			return s.serveScoreboard(ctx, s.cfg.ScoreboardAdr)
		})
	}
	return g.Wait()
}

// StartReadyCheck begins the pre-match ready check. The broadcast rides
// on the phase transition.
func (s *Server) StartReadyCheck() error { return s.match.RequestReadyCheck() }

// EndMatch ends the active match early.
func (s *Server) EndMatch() error { return s.match.End() }

// ResetMatch returns an ended match to IDLE.
func (s *Server) ResetMatch() error { return s.match.Reset() }

// EnableRobot lifts a robot's disable window early, a referee override.
// The robot's own window still expires by time if this datagram is lost.
func (s *Server) EnableRobot(nodeID int) error {
	rec, err := s.reg.Lookup(nodeID, protocol.RoleRobot)
	if err != nil {
		return fmt.Errorf("enable robot %d: %w", nodeID, err)
	}
	return s.tx.Send(&protocol.Enable{}, rec.ReturnAddr())
}

// Snapshot assembles the arena display state from the registry, the link
// tracker and the match machine.
func (s *Server) Snapshot() Snapshot {
	snap := Snapshot{
		Phase:        string(s.match.Phase()),
		RemainingSec: s.match.Remaining().Seconds(),
	}
	now := s.now()
	for _, slot := range s.match.Snapshot() {
		ns := NodeStatus{
			NodeID:      slot.NodeID,
			DisplayName: slot.DisplayName,
			Score:       slot.Score,
			Kills:       slot.Kills,
			Deaths:      slot.Deaths,
			Ready:       slot.Ready,
			RobotUp:     s.links.Connected(peerKey(protocol.RoleRobot, slot.NodeID)),
			ConsoleUp:   s.links.Connected(peerKey(protocol.RoleConsole, slot.NodeID)),
		}
		if left := slot.DisabledUntil.Sub(now); left > 0 {
			ns.DisabledSec = left.Seconds()
		}
		snap.Nodes = append(snap.Nodes, ns)
	}
	return snap
}

func peerKey(role string, nodeID int) string {
	return fmt.Sprintf("%s/%d", role, nodeID)
}

func splitPeerKey(peer string) (role string, nodeID int, ok bool) {
	role, id, ok := strings.Cut(peer, "/")
	if !ok {
		return "", 0, false
	}
	nodeID, err := strconv.Atoi(id)
	return role, nodeID, err == nil
}

func (s *Server) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.broadcast(&protocol.Heartbeat{Timestamp: s.now().UnixMilli()})
		}
	}
}

// broadcast sends fire-and-forget to every registered node, stale ones
// included: a node whose link lapsed may still be listening, and extra
// datagrams to a dead address cost nothing.
func (s *Server) broadcast(m protocol.Message) {
	for _, rec := range s.reg.All() {
		_ = s.tx.Send(m, rec.ReturnAddr())
	}
}

// poll runs on the receive loop's cadence: link expiry and the match clock.
func (s *Server) poll() {
	for _, peer := range s.links.Poll(s.cfg.LinkTimeout) {
		role, nodeID, ok := splitPeerKey(peer)
		if ok {
			s.reg.MarkStale(nodeID, role, true)
		}
		s.log.Warn().Str("peer", peer).Msg("link lost")
		s.telemetry.PublishLink(peer, false)
	}
	s.match.Tick()
}

func (s *Server) touch(role string, nodeID int) {
	peer := peerKey(role, nodeID)
	if s.links.Touch(peer) {
		s.reg.MarkStale(nodeID, role, false)
		s.log.Info().Str("peer", peer).Msg("link up")
		s.telemetry.PublishLink(peer, true)
	}
}

// touchFrom credits traffic to whichever registered node owns the source
// address. Every node sends from its bound listen socket, so the source
// port matches the registered return port.
func (s *Server) touchFrom(from netip.AddrPort) {
	for _, rec := range s.reg.All() {
		if rec.ReturnAddr() == from {
			s.touch(rec.Role, rec.NodeID)
			return
		}
	}
}

func (s *Server) handleMessage(msg protocol.Message, from netip.AddrPort) {
	switch m := msg.(type) {
	case *protocol.Register:
		s.handleRegister(m, from)

	case *protocol.ReadyResponse:
		s.touchFrom(from)
		s.match.SetReady(m.NodeID, m.Ready)

	case *protocol.HitReport:
		s.touchFrom(from)
		s.handleHit(m)

	default:
		s.log.Debug().Str("type", string(msg.MsgType())).Stringer("from", from).Msg("unexpected message dropped")
	}
}

// handleRegister admits (or refreshes) a node. The record keys on the
// payload's node id and role; the return address takes its IP from the
// datagram's source and its port from the payload.
func (s *Server) handleRegister(m *protocol.Register, from netip.AddrPort) {
	rec, err := s.reg.Register(m.NodeID, m.Role, m.DisplayName, m.ListenPort, from)
	if err != nil {
		s.log.Warn().Err(err).Stringer("from", from).Msg("registration dropped")
		return
	}
	s.touch(rec.Role, rec.NodeID)

	prompt := s.match.AddNode(rec.NodeID, rec.DisplayName)
	_ = s.tx.Send(&protocol.RegisterAck{Status: "ok"}, rec.ReturnAddr())

	// A node that joins mid ready-check missed the broadcast and owes an
	// individual prompt.
	if prompt {
		_ = s.tx.Send(&protocol.ReadyCheck{}, rec.ReturnAddr())
	}
}

// handleHit scores a reported tag. Hits outside an active match or naming
// an unregistered node are dropped, never synthesized into slots.
func (s *Server) handleHit(m *protocol.HitReport) {
	hit, err := s.match.RecordHit(m.ByNodeID, m.NodeID)
	if err != nil {
		s.log.Warn().Err(err).Int("by", m.ByNodeID).Int("victim", m.NodeID).Msg("hit report dropped")
		return
	}
	s.log.Info().Int("by", hit.ByNodeID).Int("victim", hit.NodeID).Int("points", hit.Points).Msg("hit scored")

	s.broadcast(&protocol.ScoreEvent{
		Points:         hit.Points,
		AffectedNodeID: hit.NodeID,
		ByNodeID:       hit.ByNodeID,
	})

	dis := &protocol.Disable{
		DisabledByID:  hit.ByNodeID,
		DurationSec:   s.cfg.Match.DisableWindow.Seconds(),
		DisabledUntil: s.now().Add(s.cfg.Match.DisableWindow).UnixMilli(),
	}
	if rec, err := s.reg.Lookup(hit.NodeID, protocol.RoleRobot); err == nil {
		_ = s.tx.Send(dis, rec.ReturnAddr())
	} else {
		s.log.Warn().Int("victim", hit.NodeID).Msg("no robot record for disable")
	}
	s.telemetry.PublishHit(hit)
}

func (s *Server) onTransition(from, to match.Phase) {
	s.log.Info().Str("from", string(from)).Str("to", string(to)).Msg("match phase")
	s.telemetry.PublishPhase(string(to))

	switch to {
	case match.PhaseReadyCheck:
		s.broadcast(&protocol.ReadyCheck{})
	case match.PhaseActive:
		s.broadcast(&protocol.MatchStart{DurationSec: int(s.cfg.Match.Duration.Seconds())})
	case match.PhaseEnded:
		s.broadcast(&protocol.MatchEnd{FinalScores: s.match.FinalScores()})
		s.telemetry.PublishSnapshot(s.Snapshot())
	}
}
