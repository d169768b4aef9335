// Package transport provides the datagram endpoint every node runs its
// protocol loops on.
//
// One UDP socket per node carries all control traffic. The serve loop reads
// with a deadline so the same loop drives message handling and the periodic
// health poll; it never needs traffic to make progress, and it notices
// context cancellation within one deadline interval.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/opentag/taglink/pkg/protocol"
)

// Handler consumes one successfully decoded inbound message. from is the
// datagram's source address; for registrations only its IP may be trusted.
type Handler func(msg protocol.Message, from netip.AddrPort)

const readTimeout = 250 * time.Millisecond

// Endpoint is a bound UDP socket speaking protocol envelopes.
type Endpoint struct {
	conn *net.UDPConn
	log  zerolog.Logger
}

// Listen binds a UDP socket. A bind failure is the one fatal error class in
// the system; callers abort startup on it.
func Listen(addr string, log zerolog.Logger) (*Endpoint, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: bind %s: %w", addr, err)
	}
	return &Endpoint{conn: conn, log: log}, nil
}

// LocalAddr returns the bound address.
func (e *Endpoint) LocalAddr() netip.AddrPort {
	ap := e.conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// Close releases the socket. Serve returns once the socket is closed.
func (e *Endpoint) Close() error { return e.conn.Close() }

// Send encodes and transmits one envelope. Failures are logged and
// reported, never retried here; fixed-rate senders skip to the next tick.
func (e *Endpoint) Send(m protocol.Message, to netip.AddrPort) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", m.MsgType(), err)
	}
	if _, err := e.conn.WriteToUDPAddrPort(data, to); err != nil {
		e.log.Warn().Err(err).Str("to", to.String()).Str("type", string(m.MsgType())).Msg("send failed")
		return err
	}
	return nil
}

// Serve reads datagrams until ctx is cancelled or the socket is closed.
// Decoded messages go to handler; malformed datagrams are dropped with a
// debug log and never reach the handler or the health path. poll runs at
// least every pollEvery regardless of traffic.
func (e *Endpoint) Serve(ctx context.Context, handler Handler, pollEvery time.Duration, poll func()) error {
	buf := make([]byte, 65535)
	nextPoll := time.Now().Add(pollEvery)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		deadline := time.Now().Add(readTimeout)
		if poll != nil && nextPoll.Before(deadline) {
			deadline = nextPoll
		}
		if err := e.conn.SetReadDeadline(deadline); err != nil {
			return fmt.Errorf("transport: set deadline: %w", err)
		}

		n, from, err := e.conn.ReadFromUDPAddrPort(buf)

		if poll != nil && !time.Now().Before(nextPoll) {
			poll()
			nextPoll = time.Now().Add(pollEvery)
		}

		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			e.log.Warn().Err(err).Msg("read failed")
			continue
		}

		msg, err := protocol.Decode(buf[:n])
		if err != nil {
			e.log.Debug().Err(err).Str("from", from.String()).Msg("dropping malformed datagram")
			continue
		}
		handler(msg, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()))
	}
}

// ResolveAddrPort parses or resolves host:port into a netip.AddrPort.
func ResolveAddrPort(addr string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(addr); err == nil {
		return ap, nil
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("transport: resolve %s: %w", addr, err)
	}
	ap := udpAddr.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}
