// Package registry maps logical node identities to learned network
// addresses.
//
// The IP of a record is always learned from the transport source address of
// the most recent registration; the return port is always taken from the
// payload the peer declared. The split matters: the peer's outbound source
// port is ephemeral and unrelated to the port it listens on.
package registry

import (
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/opentag/taglink/pkg/protocol"
)

var (
	// ErrNotFound is returned by Lookup when no record exists.
	ErrNotFound = errors.New("registry: peer not found")
	// ErrMalformedRegistration rejects a registration missing required
	// identity fields. Nothing is created or mutated.
	ErrMalformedRegistration = errors.New("registry: malformed registration")
)

// Record is what the registry knows about one registered peer. A record is
// created on first successful registration, overwritten whole on
// re-registration, and marked stale rather than deleted.
type Record struct {
	NodeID       int
	Role         string
	DisplayName  string
	Addr         netip.Addr // learned from transport
	ReturnPort   uint16     // declared in payload
	RegisteredAt time.Time
	Stale        bool
}

// ReturnAddr is where server-originated traffic for this peer goes.
func (r Record) ReturnAddr() netip.AddrPort {
	return netip.AddrPortFrom(r.Addr, r.ReturnPort)
}

type key struct {
	nodeID int
	role   string
}

// Registry is the controller-side peer directory. Written by the network
// receive path, read by heartbeat fan-out and display paths.
type Registry struct {
	mu      sync.RWMutex
	now     func() time.Time
	records map[key]Record
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		now:     time.Now,
		records: make(map[key]Record),
	}
}

// Register creates or overwrites the record for (nodeID, role). The IP
// comes from src, the return port from the payload-declared returnPort.
// Re-registration replaces the prior record atomically; a peer that moved
// or restarted is routed to its new address from this point on.
func (g *Registry) Register(nodeID int, role, displayName string, returnPort int, src netip.AddrPort) (Record, error) {
	if nodeID <= 0 || returnPort <= 0 || returnPort > 65535 {
		return Record{}, ErrMalformedRegistration
	}
	if role != protocol.RoleConsole && role != protocol.RoleRobot {
		return Record{}, ErrMalformedRegistration
	}
	if !src.IsValid() {
		return Record{}, ErrMalformedRegistration
	}

	rec := Record{
		NodeID:       nodeID,
		Role:         role,
		DisplayName:  displayName,
		Addr:         src.Addr(),
		ReturnPort:   uint16(returnPort),
		RegisteredAt: g.now(),
	}

	g.mu.Lock()
	g.records[key{nodeID, role}] = rec
	g.mu.Unlock()
	return rec, nil
}

// Lookup returns the record for (nodeID, role), or ErrNotFound.
func (g *Registry) Lookup(nodeID int, role string) (Record, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, ok := g.records[key{nodeID, role}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// MarkStale flags a record whose link has gone dead. The record keeps its
// learned address so a reply can still be attempted, but display paths can
// distinguish it.
func (g *Registry) MarkStale(nodeID int, role string, stale bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := key{nodeID, role}
	if rec, ok := g.records[k]; ok {
		rec.Stale = stale
		g.records[k] = rec
	}
}

// All returns a snapshot of every record.
func (g *Registry) All() []Record {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Record, 0, len(g.records))
	for _, rec := range g.records {
		out = append(out, rec)
	}
	return out
}

// NodeIDs returns the distinct node ids with at least one record.
func (g *Registry) NodeIDs() []int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[int]bool)
	var ids []int
	for k := range g.records {
		if !seen[k.nodeID] {
			seen[k.nodeID] = true
			ids = append(ids, k.nodeID)
		}
	}
	return ids
}
