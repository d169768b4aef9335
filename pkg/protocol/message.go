// Package protocol defines the wire messages and port-derivation helpers used
// across the taglink arena framework.
//
// Every datagram carries a single JSON envelope tagged with a "type"
// discriminator. Unknown fields are ignored and missing optional fields
// default to their zero value, so nodes running slightly different builds
// keep interoperating.
package protocol

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Type is the envelope discriminator present in every message.
type Type string

const (
	TypeRegister       Type = "REGISTER"
	TypeRegisterAck    Type = "REGISTER_ACK"
	TypeHeartbeat      Type = "HEARTBEAT"
	TypeReadyCheck     Type = "READY_CHECK"
	TypeReadyResponse  Type = "READY_RESPONSE"
	TypeMatchStart     Type = "MATCH_START"
	TypeMatchEnd       Type = "MATCH_END"
	TypeScoreEvent     Type = "SCORE_EVENT"
	TypeHitReport      Type = "HIT_REPORT"
	TypeDisable        Type = "DISABLE"
	TypeEnable         Type = "ENABLE"
	TypeControlIntent  Type = "CONTROL_INTENT"
	TypeIntentResult   Type = "INTENT_RESULT"
	TypeConfigRequest  Type = "CONFIG_REQUEST"
	TypeConfigResponse Type = "CONFIG_RESPONSE"
)

// Message is implemented by every envelope struct.
type Message interface {
	MsgType() Type
}

// DecodeError reports a malformed or truncated datagram. The receive loop
// drops the datagram; a DecodeError never crosses a process boundary.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Node roles as carried in Register envelopes.
const (
	RoleConsole = "console"
	RoleRobot   = "robot"
)

// Register is sent by a console or robot to announce itself to the match
// controller. ListenPort is the port the sender listens on for
// server-originated traffic; the sender's UDP source port is ephemeral and
// must not be used for return routing.
type Register struct {
	Type        Type   `json:"type"`
	NodeID      int    `json:"node_id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	ListenPort  int    `json:"listen_port"`
}

// RegisterAck confirms a registration. It carries no payload beyond the
// status flag; its purpose is to give the registrant's link tracker a first
// contact from the controller.
type RegisterAck struct {
	Type   Type   `json:"type"`
	Status string `json:"status"`
}

// Heartbeat is broadcast by the match controller to every registered peer.
type Heartbeat struct {
	Type      Type  `json:"type"`
	Timestamp int64 `json:"timestamp"` // Unix milliseconds
}

// ReadyCheck asks a node to report readiness.
type ReadyCheck struct {
	Type Type `json:"type"`
}

// ReadyResponse answers a ReadyCheck.
type ReadyResponse struct {
	Type   Type `json:"type"`
	NodeID int  `json:"node_id"`
	Ready  bool `json:"ready"`
}

// MatchStart announces the transition to an active match.
type MatchStart struct {
	Type        Type `json:"type"`
	DurationSec int  `json:"duration_sec"`
}

// MatchEnd announces the end of a match with the final per-node scores,
// keyed by decimal node id.
type MatchEnd struct {
	Type        Type           `json:"type"`
	FinalScores map[string]int `json:"final_scores"`
}

// ScoreEvent is broadcast when a hit is scored.
type ScoreEvent struct {
	Type           Type `json:"type"`
	Points         int  `json:"points"`
	AffectedNodeID int  `json:"affected_node_id"`
	ByNodeID       int  `json:"by_node_id"`
}

// HitReport is sent by a robot that detected a tag on one of its sensors.
type HitReport struct {
	Type     Type `json:"type"`
	NodeID   int  `json:"node_id"`    // the node that was hit
	ByNodeID int  `json:"by_node_id"` // the node whose emitter tagged it
}

// Disable tells a robot its actuator is disabled for a window.
// DisabledUntil is advisory (sender clock); receivers enforce the window
// from DurationSec on their own clock so it self-heals even when the
// closing Enable is lost.
type Disable struct {
	Type          Type    `json:"type"`
	DisabledByID  int     `json:"disabled_by_id"`
	DurationSec   float64 `json:"duration_sec"`
	DisabledUntil int64   `json:"disabled_until"` // Unix milliseconds
}

// Enable clears a disable window early.
type Enable struct {
	Type Type `json:"type"`
}

// ControlIntent is the console's fixed-rate command to its robot.
type ControlIntent struct {
	Type   Type    `json:"type"`
	NodeID int     `json:"node_id"`
	VX     float64 `json:"vx"`
	VY     float64 `json:"vy"`
	Omega  float64 `json:"omega"`
	Speed  float64 `json:"speed"`
	EStop  bool    `json:"estop"`
	Fire   bool    `json:"fire"`
}

// IntentResult is the robot's per-intent confirmation. Fired is the sole
// authority for whether an actuation happened; console-side counters update
// only from it.
type IntentResult struct {
	Type         Type    `json:"type"`
	Fired        bool    `json:"fired"`
	RejectReason string  `json:"reject_reason,omitempty"`
	Disabled     bool    `json:"disabled"`
	DisabledByID int     `json:"disabled_by_id,omitempty"`
	DisabledSec  float64 `json:"disabled_sec,omitempty"`
}

// ConfigRequest asks the robot for its configuration blob.
type ConfigRequest struct {
	Type Type `json:"type"`
}

// ConfigResponse carries an opaque configuration blob.
type ConfigResponse struct {
	Type Type            `json:"type"`
	Blob json.RawMessage `json:"blob"`
}

func (Register) MsgType() Type       { return TypeRegister }
func (RegisterAck) MsgType() Type    { return TypeRegisterAck }
func (Heartbeat) MsgType() Type      { return TypeHeartbeat }
func (ReadyCheck) MsgType() Type     { return TypeReadyCheck }
func (ReadyResponse) MsgType() Type  { return TypeReadyResponse }
func (MatchStart) MsgType() Type     { return TypeMatchStart }
func (MatchEnd) MsgType() Type       { return TypeMatchEnd }
func (ScoreEvent) MsgType() Type     { return TypeScoreEvent }
func (HitReport) MsgType() Type      { return TypeHitReport }
func (Disable) MsgType() Type        { return TypeDisable }
func (Enable) MsgType() Type         { return TypeEnable }
func (ControlIntent) MsgType() Type  { return TypeControlIntent }
func (IntentResult) MsgType() Type   { return TypeIntentResult }
func (ConfigRequest) MsgType() Type  { return TypeConfigRequest }
func (ConfigResponse) MsgType() Type { return TypeConfigResponse }

// Encode serialises a message to JSON bytes, stamping the discriminator
// into the struct's Type field when the caller left it empty. Messages are
// passed by pointer everywhere; a value passed here must carry its own
// discriminator. Payloads must stay under the transport's safe datagram
// size; control envelopes are far below it, and bulk payloads (video)
// never go through this codec.
func Encode(m Message) ([]byte, error) {
	if v := reflect.ValueOf(m); v.Kind() == reflect.Pointer && !v.IsNil() {
		if f := v.Elem().FieldByName("Type"); f.IsValid() && f.Kind() == reflect.String && f.String() == "" && f.CanSet() {
			f.SetString(string(m.MsgType()))
		}
	}
	return json.Marshal(m)
}

// Decode parses a datagram into its typed message. Truncated or malformed
// payloads return a *DecodeError and no partial state.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &DecodeError{Reason: "invalid envelope", Err: err}
	}
	if head.Type == "" {
		return nil, &DecodeError{Reason: "missing type discriminator"}
	}

	var m Message
	switch head.Type {
	case TypeRegister:
		m = &Register{}
	case TypeRegisterAck:
		m = &RegisterAck{}
	case TypeHeartbeat:
		m = &Heartbeat{}
	case TypeReadyCheck:
		m = &ReadyCheck{}
	case TypeReadyResponse:
		m = &ReadyResponse{}
	case TypeMatchStart:
		m = &MatchStart{}
	case TypeMatchEnd:
		m = &MatchEnd{}
	case TypeScoreEvent:
		m = &ScoreEvent{}
	case TypeHitReport:
		m = &HitReport{}
	case TypeDisable:
		m = &Disable{}
	case TypeEnable:
		m = &Enable{}
	case TypeControlIntent:
		m = &ControlIntent{}
	case TypeIntentResult:
		m = &IntentResult{}
	case TypeConfigRequest:
		m = &ConfigRequest{}
	case TypeConfigResponse:
		m = &ConfigResponse{}
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown message type %q", head.Type)}
	}

	if err := json.Unmarshal(data, m); err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid %s payload", head.Type), Err: err}
	}
	return m, nil
}
