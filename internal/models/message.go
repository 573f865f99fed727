package models

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Event names the kind of a signaling envelope
type Event string

const (
	// client -> relay
	EventRegister    Event = "register"
	EventCallOffer   Event = "call-offer"
	EventCallAnswer  Event = "call-answer"
	EventCallEnd     Event = "call-end"
	EventCallReject  Event = "call-reject"
	EventCallBusy    Event = "call-busy"
	EventCallTimeout Event = "call-timeout"

	// client -> relay -> client, same name both ways
	EventICECandidate Event = "ice-candidate"

	// relay -> client
	EventRegistered   Event = "registered"
	EventIncomingCall Event = "incoming-call"
	EventCallAnswered Event = "call-answered"
	EventCallEnded    Event = "call-ended"
	EventCallRejected Event = "call-rejected"
	EventUserOnline   Event = "user-online"
	EventUserOffline  Event = "user-offline"
	EventError        Event = "error"
)

// forwarded maps an event a client sends to the event its peer receives
var forwarded = map[Event]Event{
	EventCallOffer:    EventIncomingCall,
	EventCallAnswer:   EventCallAnswered,
	EventICECandidate: EventICECandidate,
	EventCallEnd:      EventCallEnded,
	EventCallReject:   EventCallRejected,
	EventCallBusy:     EventCallBusy,
	EventCallTimeout:  EventCallTimeout,
}

// Forwarded returns the event the recipient sees when e is routed through the relay.
// ok is false for events that are not routed to a peer.
func (e Event) Forwarded() (Event, bool) {
	out, ok := forwarded[e]
	return out, ok
}

// CallType is the media kind of a call
type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is one of the known call types
func (t CallType) Valid() bool {
	return t == CallTypeVoice || t == CallTypeVideo
}

// ErrInvalidEnvelope is returned when an envelope is missing fields its event requires
var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope is the single wire shape shared by the relay and its clients.
// Which fields are set depends on Event; Validate enforces that for
// envelopes sent by clients.
type Envelope struct {
	Event     Event                      `json:"event"`
	Identity  string                     `json:"identity,omitempty"`
	From      string                     `json:"from,omitempty"`
	To        string                     `json:"to,omitempty"`
	CallID    string                     `json:"callId,omitempty"`
	CallType  CallType                   `json:"callType,omitempty"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

// Validate checks an envelope received from a client
func (e Envelope) Validate() error {
	switch e.Event {
	case EventRegister:
		if e.Identity == "" {
			return fmt.Errorf("%w: %s requires identity", ErrInvalidEnvelope, e.Event)
		}
		return nil
	case EventCallOffer:
		if !e.CallType.Valid() {
			return fmt.Errorf("%w: unknown call type %q", ErrInvalidEnvelope, e.CallType)
		}
		if e.SDP == nil || e.SDP.Type != webrtc.SDPTypeOffer || e.SDP.SDP == "" {
			return fmt.Errorf("%w: %s requires an offer", ErrInvalidEnvelope, e.Event)
		}
	case EventCallAnswer:
		if e.SDP == nil || e.SDP.Type != webrtc.SDPTypeAnswer || e.SDP.SDP == "" {
			return fmt.Errorf("%w: %s requires an answer", ErrInvalidEnvelope, e.Event)
		}
	case EventICECandidate:
		if e.Candidate == nil {
			return fmt.Errorf("%w: %s requires a candidate", ErrInvalidEnvelope, e.Event)
		}
	case EventCallEnd, EventCallReject, EventCallBusy, EventCallTimeout:
	default:
		return fmt.Errorf("%w: unknown event %q", ErrInvalidEnvelope, e.Event)
	}

	if e.To == "" {
		return fmt.Errorf("%w: %s requires a recipient", ErrInvalidEnvelope, e.Event)
	}
	return nil
}

// Offer builds a call-offer envelope
func Offer(to, callID string, callType CallType, sdp webrtc.SessionDescription) Envelope {
	return Envelope{Event: EventCallOffer, To: to, CallID: callID, CallType: callType, SDP: &sdp}
}

// Answer builds a call-answer envelope
func Answer(to, callID string, sdp webrtc.SessionDescription) Envelope {
	return Envelope{Event: EventCallAnswer, To: to, CallID: callID, SDP: &sdp}
}

// Candidate builds an ice-candidate envelope
func Candidate(to, callID string, candidate webrtc.ICECandidateInit) Envelope {
	return Envelope{Event: EventICECandidate, To: to, CallID: callID, Candidate: &candidate}
}

// Control builds one of the field-less call control envelopes (end, reject, busy, timeout)
func Control(event Event, to, callID string) Envelope {
	return Envelope{Event: event, To: to, CallID: callID}
}
