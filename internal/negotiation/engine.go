// Package negotiation drives the offer/answer and ICE exchange of one call.
package negotiation

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mossy-p/callrelay/internal/media"
	"github.com/mossy-p/callrelay/internal/models"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

var (
	ErrClosed                   = errors.New("negotiation engine is closed")
	ErrInvalidDescription       = errors.New("invalid session description")
	ErrNoRemoteDescription      = errors.New("remote description not set")
	ErrCantAttachTrack          = errors.New("can't attach local track")
	ErrCantCreateOffer          = errors.New("can't create offer")
	ErrCantCreateAnswer         = errors.New("can't create answer")
	ErrCantSetLocalDescription  = errors.New("can't set local description")
	ErrCantSetRemoteDescription = errors.New("can't set remote description")
	ErrCantAddCandidate         = errors.New("can't add ICE candidate")
	ErrCantReplaceTrack         = errors.New("can't replace video track")
)

// PeerConnection is the part of *webrtc.PeerConnection the engine uses
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	AddTransceiverFromKind(kind webrtc.RTPCodecType, init ...webrtc.RTPTransceiverInit) (*webrtc.RTPTransceiver, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	Close() error
}

// Handlers receive what the peer connection reports. They run on pion's
// goroutines and must not block.
type Handlers struct {
	OnLocalCandidate  func(webrtc.ICECandidateInit)
	OnConnectionState func(webrtc.PeerConnectionState)
}

type trackReplacer interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

// Engine owns one peer connection for the lifetime of one call.
// It borrows the local stream's tracks but never stops them.
type Engine struct {
	pc       PeerConnection
	callType models.CallType
	logger   *logrus.Entry

	closed atomic.Bool

	mu          sync.Mutex
	attached    bool
	videoSender trackReplacer
	remoteSet   bool
	pending     []webrtc.ICECandidateInit
}

// New wraps pc and subscribes to its candidate and state callbacks
func New(pc PeerConnection, callType models.CallType, handlers Handlers, logger *logrus.Entry) *Engine {
	e := &Engine{pc: pc, callType: callType, logger: logger}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			e.logger.Debug("ICE candidate gathering finished")
			return
		}
		if e.closed.Load() || handlers.OnLocalCandidate == nil {
			return
		}
		handlers.OnLocalCandidate(c.ToJSON())
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.logger.WithField("state", state).Debug("connection state changed")
		if e.closed.Load() || handlers.OnConnectionState == nil {
			return
		}
		handlers.OnConnectionState(state)
	})
	return e
}

// CreateOffer attaches the local tracks and returns an offer that has been
// set as the local description. Audio is always requested; video only for
// video calls.
func (e *Engine) CreateOffer(stream *media.Stream) (webrtc.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return webrtc.SessionDescription{}, ErrClosed
	}
	if err := e.attach(stream); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := e.requestRemoteMedia(stream); err != nil {
		return webrtc.SessionDescription{}, err
	}

	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", ErrCantCreateOffer, err)
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", ErrCantSetLocalDescription, err)
	}
	return offer, nil
}

// SetRemoteOffer stores the caller's offer. Candidates that arrived earlier
// stay buffered until CreateAnswer.
func (e *Engine) SetRemoteOffer(offer webrtc.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return ErrClosed
	}
	if offer.Type != webrtc.SDPTypeOffer {
		return fmt.Errorf("%w: expected offer, got %s", ErrInvalidDescription, offer.Type)
	}
	return e.setRemote(offer)
}

// CreateAnswer attaches local tracks if needed, answers the remote offer,
// sets the answer as local description and then applies buffered candidates.
func (e *Engine) CreateAnswer(stream *media.Stream) (webrtc.SessionDescription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return webrtc.SessionDescription{}, ErrClosed
	}
	if !e.remoteSet {
		return webrtc.SessionDescription{}, ErrNoRemoteDescription
	}
	if err := e.attach(stream); err != nil {
		return webrtc.SessionDescription{}, err
	}

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", ErrCantCreateAnswer, err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", ErrCantSetLocalDescription, err)
	}
	if err := e.drain(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

// ApplyRemoteAnswer sets the callee's answer and applies buffered candidates
func (e *Engine) ApplyRemoteAnswer(answer webrtc.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return ErrClosed
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("%w: expected answer, got %s", ErrInvalidDescription, answer.Type)
	}
	if err := e.setRemote(answer); err != nil {
		return err
	}
	return e.drain()
}

// AddRemoteICECandidate applies c once a remote description is set and
// everything received before it has been applied; until then c is queued.
// Candidates are always applied in the order they were received.
func (e *Engine) AddRemoteICECandidate(c webrtc.ICECandidateInit) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return ErrClosed
	}
	if !e.remoteSet || len(e.pending) > 0 {
		e.pending = append(e.pending, c)
		e.logger.WithField("pending", len(e.pending)).Debug("buffered remote ICE candidate")
		return nil
	}
	if err := e.pc.AddICECandidate(c); err != nil {
		return fmt.Errorf("%w: %v", ErrCantAddCandidate, err)
	}
	return nil
}

// ReplaceVideoTrack swaps the track the peer receives video from
func (e *Engine) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return ErrClosed
	}
	if e.videoSender == nil {
		return fmt.Errorf("%w: no video sender", ErrCantReplaceTrack)
	}
	if err := e.videoSender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("%w: %v", ErrCantReplaceTrack, err)
	}
	return nil
}

// Pending returns how many remote candidates are waiting to be applied
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Teardown closes the peer connection and drops buffered candidates.
// Safe to call more than once.
func (e *Engine) Teardown() {
	if e.closed.Swap(true) {
		return
	}

	e.mu.Lock()
	e.pending = nil
	e.mu.Unlock()

	if err := e.pc.Close(); err != nil {
		e.logger.WithError(err).Warn("failed to close peer connection")
	}
}

func (e *Engine) setRemote(desc webrtc.SessionDescription) error {
	kinds, err := MediaKinds(desc)
	if err != nil {
		return err
	}
	e.logger.WithFields(logrus.Fields{"type": desc.Type, "media": kinds}).Debug("setting remote description")

	if err := e.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("%w: %v", ErrCantSetRemoteDescription, err)
	}
	e.remoteSet = true
	return nil
}

// drain applies buffered candidates in receipt order
func (e *Engine) drain() error {
	for len(e.pending) > 0 {
		c := e.pending[0]
		e.pending = e.pending[1:]
		if err := e.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("%w: %v", ErrCantAddCandidate, err)
		}
	}
	e.pending = nil
	return nil
}

func (e *Engine) attach(stream *media.Stream) error {
	if e.attached || stream == nil {
		return nil
	}
	for _, track := range stream.Tracks() {
		sender, err := e.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCantAttachTrack, err)
		}
		if track.Kind() == webrtc.RTPCodecTypeVideo && sender != nil {
			e.videoSender = sender
		}
	}
	e.attached = true
	return nil
}

// requestRemoteMedia adds receive-only transceivers for kinds the local
// stream does not send, so the offer still asks the peer for them.
func (e *Engine) requestRemoteMedia(stream *media.Stream) error {
	var hasAudio, hasVideo bool
	if stream != nil {
		hasAudio = stream.Audio() != nil
		hasVideo = stream.Video() != nil
	}

	recvonly := webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}
	if !hasAudio {
		if _, err := e.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, recvonly); err != nil {
			return fmt.Errorf("%w: %v", ErrCantAttachTrack, err)
		}
	}
	if e.callType == models.CallTypeVideo && !hasVideo {
		if _, err := e.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, recvonly); err != nil {
			return fmt.Errorf("%w: %v", ErrCantAttachTrack, err)
		}
	}
	return nil
}
