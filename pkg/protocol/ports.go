package protocol

import (
	"fmt"
	"net/netip"
)

// Port conventions. The controller's control port is fixed and well-known;
// per-node ports are a base offset plus the numeric node id, so any
// component that knows a node id can derive where to reach it without extra
// configuration.
const (
	ControllerPort  = 6000
	ConsoleBasePort = 6100
	RobotBasePort   = 5200
	VideoBasePort   = 5000

	// MaxDatagramSize is the safe ceiling for a control envelope. Not
	// enforced by the codec; bulk payloads go over the video transport.
	MaxDatagramSize = 1200
)

// ConsolePort returns the console's listening port for controller-originated
// traffic.
//
//	node 1 -> 6101
func ConsolePort(nodeID int) int { return ConsoleBasePort + nodeID }

// RobotPort returns the robot agent's control listening port.
//
//	node 1 -> 5201
func RobotPort(nodeID int) int { return RobotBasePort + nodeID }

// VideoPort returns the destination port for a node's video stream.
//
//	node 1 -> 5001
func VideoPort(nodeID int) int { return VideoBasePort + nodeID }

// VideoDest builds the video fan-out destination on host for nodeID.
func VideoDest(host netip.Addr, nodeID int) netip.AddrPort {
	return netip.AddrPortFrom(host, uint16(VideoPort(nodeID)))
}

// FormatNodeID renders a node id the way score maps key it on the wire.
func FormatNodeID(nodeID int) string { return fmt.Sprintf("%d", nodeID) }
