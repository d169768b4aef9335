// Package stream gates the robot's video pipeline on peer discovery.
//
// The pipeline cannot start at boot: the operator's address is learned, not
// configured, so the coordinator waits for the first datagram from the
// console, then starts the pipeline once, fanned out to every destination
// (operator display plus the match controller's per-node video port).
package stream

import (
	"net/netip"
	"sync"

	"github.com/rs/zerolog"
)

// Pipeline is the external video process. The coordinator owns only its
// lifecycle; encoding and transport internals live behind this interface.
type Pipeline interface {
	Start(dests []netip.AddrPort) error
	Stop() error
}

// Status is the coordinator's display surface.
type Status struct {
	Running      bool
	Destinations []netip.AddrPort
	LastErr      error
}

// Coordinator starts the pipeline exactly once per discovery, fans it out,
// and stops it on teardown.
type Coordinator struct {
	mu       sync.Mutex
	log      zerolog.Logger
	pipeline Pipeline

	// peerPort is the port appended to the discovered peer's address;
	// extra destinations are fixed (derived from node identity).
	peerPort uint16
	extra    []netip.AddrPort

	running bool
	dests   []netip.AddrPort
	lastErr error
}

// NewCoordinator wires a Coordinator around pipeline. peerPort is the video
// port on the discovered peer; extra destinations are added to every
// fan-out.
func NewCoordinator(pipeline Pipeline, peerPort int, extra []netip.AddrPort, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		log:      log,
		pipeline: pipeline,
		peerPort: uint16(peerPort),
		extra:    extra,
	}
}

// OnPeerDiscovered starts the pipeline toward peer (plus the fixed extra
// destinations) if it is not already running. Calling it again, with the
// same or a different address, is a no-op while running. A failed start
// leaves the coordinator stopped; the next discovery event retries.
func (c *Coordinator) OnPeerDiscovered(peer netip.Addr) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	dests := make([]netip.AddrPort, 0, 1+len(c.extra))
	dests = append(dests, netip.AddrPortFrom(peer, c.peerPort))
	dests = append(dests, c.extra...)

	if err := c.pipeline.Start(dests); err != nil {
		c.lastErr = err
		c.log.Warn().Err(err).Msg("video pipeline start failed")
		return err
	}

	c.running = true
	c.dests = dests
	c.lastErr = nil
	c.log.Info().Any("destinations", dests).Msg("video pipeline started")
	return nil
}

// Stop tears the pipeline down unconditionally. Safe to call when never
// started, and safe to call twice.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	if err := c.pipeline.Stop(); err != nil {
		c.log.Warn().Err(err).Msg("video pipeline stop failed")
	}
	c.running = false
	c.dests = nil
}

// Status reports whether the pipeline is running, where it streams, and the
// last start failure if any.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	dests := make([]netip.AddrPort, len(c.dests))
	copy(dests, c.dests)
	return Status{Running: c.running, Destinations: dests, LastErr: c.lastErr}
}
