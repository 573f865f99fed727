package session

import (
	"time"

	"github.com/mossy-p/callrelay/internal/controller"
	"github.com/mossy-p/callrelay/internal/models"
)

// State of a call session
type State string

const (
	StateIdle       State = "idle"
	StateCalling    State = "calling"
	StateIncoming   State = "incoming"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateEnded      State = "ended"
)

// active reports whether the session holds a call that can still be ended
func (s State) active() bool {
	switch s {
	case StateCalling, StateIncoming, StateConnecting, StateConnected:
		return true
	}
	return false
}

// Direction tells who placed the call
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Call is a snapshot of the session's current call
type Call struct {
	ID        string
	Peer      string
	Type      models.CallType
	Direction Direction
	State     State
	// Set while a connected call has lost its transport and may recover.
	Reconnecting bool
	StartedAt    time.Time
	ConnectedAt  time.Time
}

// Reason explains why a call left the active states
type Reason string

const (
	ReasonHangup     Reason = "hangup"
	ReasonPeerEnded  Reason = "peer-ended"
	ReasonRejected   Reason = "rejected"
	ReasonBusy       Reason = "busy"
	ReasonTimeout    Reason = "timeout"
	ReasonFailed     Reason = "failed"
	ReasonMediaError Reason = "media-error"
)

// NotificationKind tells UI layers what happened
type NotificationKind string

const (
	NotifyIncoming     NotificationKind = "incoming"
	NotifyStateChanged NotificationKind = "state-changed"
	NotifyEnded        NotificationKind = "ended"
)

// Notification is published on every visible change of the session
type Notification struct {
	Kind NotificationKind
	Call Call
	// Set for NotifyEnded.
	Reason Reason
	Err    error
	// Where an incoming call should be presented.
	Surface controller.Surface
}
