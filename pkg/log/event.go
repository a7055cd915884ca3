package log

import (
	"time"
)

// Event represents a trace event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the stream connection (UUID). Empty for
	// tunnel events.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates frame flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Target is the stream URL or the probed tunnel URL.
	Target string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Log line frame
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection/tunnel state
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"` // Ping/pong/heartbeat/close
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
	Probe       *ProbeEvent       `cbor:"15,keyasint,omitempty"` // Reachability probe
	Reconnect   *ReconnectEvent   `cbor:"16,keyasint,omitempty"` // Reconnect scheduling
}

// Direction indicates the direction of frame flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming frame.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing frame.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which component captured the event.
type Layer uint8

const (
	// LayerTransport is the websocket frame layer.
	LayerTransport Layer = 0
	// LayerStream is the connection manager.
	LayerStream Layer = 1
	// LayerTunnel is the reachability prober and tunnel registry.
	LayerTunnel Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerStream:
		return "STREAM"
	case LayerTunnel:
		return "TUNNEL"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a log line frame.
	CategoryMessage Category = 0
	// CategoryControl indicates a control frame (ping/pong/heartbeat/close).
	CategoryControl Category = 1
	// CategoryState indicates a state change or reconnect scheduling.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
	// CategoryProbe indicates a reachability probe result.
	CategoryProbe Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	case CategoryProbe:
		return "PROBE"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures a log line frame.
type FrameEvent struct {
	// Size is the payload size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the payload (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`

	// Dropped indicates the frame was not forwarded because the stream was paused.
	Dropped bool `cbor:"4,keyasint,omitempty"`
}

// MaxFrameData bounds FrameEvent.Data.
const MaxFrameData = 256

// NewFrameEvent builds a FrameEvent, truncating the payload to MaxFrameData.
func NewFrameEvent(payload string, dropped bool) *FrameEvent {
	data := []byte(payload)
	fe := &FrameEvent{Size: len(data), Dropped: dropped}
	if len(data) > MaxFrameData {
		data = data[:MaxFrameData]
		fe.Truncated = true
	}
	fe.Data = data
	return fe
}

// StateChangeEvent captures connection and tunnel lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a stream connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityTunnel indicates a tunnel status change.
	StateEntityTunnel StateEntity = 1
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityTunnel:
		return "TUNNEL"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent captures liveness and close frames.
type ControlMsgEvent struct {
	// Type of control frame.
	Type ControlMsgType `cbor:"1,keyasint"`

	// CloseReason is the close reason for close frames.
	CloseReason string `cbor:"2,keyasint,omitempty"`
}

// ControlMsgType indicates the type of control frame.
type ControlMsgType uint8

const (
	// ControlMsgPing indicates a client ping.
	ControlMsgPing ControlMsgType = 0
	// ControlMsgPong indicates a pong reply.
	ControlMsgPong ControlMsgType = 1
	// ControlMsgClose indicates the connection closed.
	ControlMsgClose ControlMsgType = 2
	// ControlMsgHeartbeat indicates a server heartbeat.
	ControlMsgHeartbeat ControlMsgType = 3
)

// String returns the control frame type name.
func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgPing:
		return "PING"
	case ControlMsgPong:
		return "PONG"
	case ControlMsgClose:
		return "CLOSE"
	case ControlMsgHeartbeat:
		return "HEARTBEAT"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}

// ProbeEvent captures the outcome of one probe session.
type ProbeEvent struct {
	// Reachable is the session result.
	Reachable bool `cbor:"1,keyasint"`

	// Polls is the number of requests issued.
	Polls int `cbor:"2,keyasint"`

	// Duration is the time until the session settled, in nanoseconds.
	Duration time.Duration `cbor:"3,keyasint"`

	// TimedOut is set when the deadline settled the session.
	TimedOut bool `cbor:"4,keyasint,omitempty"`
}

// ReconnectEvent captures reconnect scheduling decisions.
type ReconnectEvent struct {
	// Attempt is the zero-based attempt number the delay was computed for.
	Attempt int `cbor:"1,keyasint"`

	// MaxAttempts is the configured budget.
	MaxAttempts int `cbor:"2,keyasint"`

	// Delay until the reconnect timer fires, in nanoseconds.
	Delay time.Duration `cbor:"3,keyasint,omitempty"`

	// GaveUp is set when the budget is exhausted and no timer was scheduled.
	GaveUp bool `cbor:"4,keyasint,omitempty"`
}
