// Package session implements the per-participant call state machine.
//
// Every input (API calls, relay envelopes, peer connection callbacks,
// timers and media results) is queued onto one worker goroutine and
// handled to completion before the next.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/callrelay/config"
	"github.com/mossy-p/callrelay/internal/controller"
	"github.com/mossy-p/callrelay/internal/media"
	"github.com/mossy-p/callrelay/internal/models"
	"github.com/mossy-p/callrelay/internal/negotiation"
	"github.com/mossy-p/callrelay/internal/worker"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

var (
	ErrClosed           = errors.New("session is closed")
	ErrOverloaded       = errors.New("session is overloaded")
	ErrNotIdle          = errors.New("a call is already in progress")
	ErrNoCall           = errors.New("no active call")
	ErrNoIncomingCall   = errors.New("no incoming call to answer")
	ErrSelfCall         = errors.New("cannot call yourself")
	ErrInvalidCallType  = errors.New("invalid call type")
	ErrNoMedia          = errors.New("call has no local media")
	ErrConnectionFailed = errors.New("peer connection failed")
	ErrInvalidAnswer    = errors.New("answer carries no session description")
)

// Transport sends envelopes to the relay
type Transport interface {
	Send(env models.Envelope) error
}

// Negotiator is the part of *negotiation.Engine the session drives
type Negotiator interface {
	CreateOffer(stream *media.Stream) (webrtc.SessionDescription, error)
	SetRemoteOffer(offer webrtc.SessionDescription) error
	CreateAnswer(stream *media.Stream) (webrtc.SessionDescription, error)
	ApplyRemoteAnswer(answer webrtc.SessionDescription) error
	AddRemoteICECandidate(c webrtc.ICECandidateInit) error
	ReplaceVideoTrack(track webrtc.TrackLocal) error
	Teardown()
}

// NegotiatorFactory creates the negotiator for one call
type NegotiatorFactory func(callType models.CallType, handlers negotiation.Handlers) (Negotiator, error)

// EngineFactory adapts a negotiation.Factory to a NegotiatorFactory
func EngineFactory(f *negotiation.Factory, logger *logrus.Entry) NegotiatorFactory {
	return func(callType models.CallType, handlers negotiation.Handlers) (Negotiator, error) {
		engine, err := f.New(callType, handlers, logger)
		if err != nil {
			return nil, err
		}
		return engine, nil
	}
}

// Config for a Machine
type Config struct {
	// Identity of the local participant.
	Identity    string
	Transport   Transport
	Media       media.Source
	Negotiators NegotiatorFactory
	Timings     config.CallConfig
	// Focus reports the UI focus used to route incoming calls. Optional.
	Focus  func() controller.Context
	Logger *logrus.Entry
}

const (
	queueSize         = 256
	notificationsSize = 64
)

// call is the live state behind a Call snapshot. Only the worker touches it.
type call struct {
	Call
	offer     *webrtc.SessionDescription
	stream    *media.Stream
	engine    Negotiator
	timer     *time.Timer
	contacted bool
}

// Machine is the call state machine of one participant
type Machine struct {
	cfg    Config
	logger *logrus.Entry
	worker *worker.Worker[func()]
	notify chan Notification

	// worker-owned
	call         *call
	lastIncoming struct {
		peer string
		at   time.Time
	}

	snapMu   sync.RWMutex
	snapshot Call

	closeOnce sync.Once
}

// New starts a machine in the idle state
func New(cfg Config) *Machine {
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	cfg.Timings = withDefaults(cfg.Timings)
	m := &Machine{
		cfg:      cfg,
		logger:   cfg.Logger.WithField("identity", cfg.Identity),
		notify:   make(chan Notification, notificationsSize),
		snapshot: Call{State: StateIdle},
	}
	m.worker = worker.Start(worker.Config[func()]{
		ChannelSize: queueSize,
		OnTask:      func(task func()) { task() },
	})
	return m
}

// Notifications delivers session changes. Slow readers miss notifications
// rather than stalling the session.
func (m *Machine) Notifications() <-chan Notification {
	return m.notify
}

// Snapshot returns the current call, or an idle Call
func (m *Machine) Snapshot() Call {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snapshot
}

// Duration returns how long the current call has been connected
func (m *Machine) Duration() time.Duration {
	c := m.Snapshot()
	if c.State != StateConnected || c.ConnectedAt.IsZero() {
		return 0
	}
	return time.Since(c.ConnectedAt)
}

// Close ends any active call and stops the machine
func (m *Machine) Close() {
	m.closeOnce.Do(func() {
		_ = m.EndCall()
		_ = m.worker.Send(func() {
			if m.call != nil {
				m.stopTimer(m.call)
				m.release(m.call)
			}
		})
		m.worker.Stop()
		<-m.worker.Done()
	})
}

// StartCall places a call to peer. Media is acquired in the background;
// the offer is sent once it is ready.
func (m *Machine) StartCall(peer string, callType models.CallType) (Call, error) {
	var out Call
	err := m.do(func() error {
		if m.call != nil {
			return ErrNotIdle
		}
		if peer == m.cfg.Identity {
			return ErrSelfCall
		}
		if !callType.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidCallType, callType)
		}

		c := &call{Call: Call{
			ID:        newCallID(),
			Peer:      peer,
			Type:      callType,
			Direction: DirectionOutgoing,
			State:     StateCalling,
			StartedAt: time.Now(),
		}}
		m.call = c
		m.callLogger(c).Info("starting call")
		m.changed(c)
		m.acquire(c, m.onOutgoingMedia)
		out = c.Call
		return nil
	})
	return out, err
}

// AcceptCall answers the ringing incoming call
func (m *Machine) AcceptCall() error {
	return m.do(func() error {
		c := m.call
		if c == nil || c.State != StateIncoming {
			return ErrNoIncomingCall
		}
		m.stopTimer(c)
		c.State = StateConnecting
		m.changed(c)
		m.acquire(c, m.onAnswerMedia)
		return nil
	})
}

// RejectCall declines the ringing incoming call
func (m *Machine) RejectCall() error {
	return m.do(func() error {
		c := m.call
		if c == nil || c.State != StateIncoming {
			return ErrNoIncomingCall
		}
		m.send(models.Control(models.EventCallReject, c.Peer, c.ID))
		m.reset(c, ReasonRejected, nil)
		return nil
	})
}

// EndCall hangs up. It is a no-op when there is nothing to end.
func (m *Machine) EndCall() error {
	return m.do(func() error {
		if c := m.call; c != nil && c.State.active() {
			m.end(c, ReasonHangup, nil, true)
		}
		return nil
	})
}

// ToggleAudio mutes or unmutes the microphone and returns the new state
func (m *Machine) ToggleAudio() (bool, error) {
	return m.toggle(media.ToggleAudioEnabled)
}

// ToggleVideo turns the camera track on or off and returns the new state
func (m *Machine) ToggleVideo() (bool, error) {
	return m.toggle(media.ToggleVideoEnabled)
}

func (m *Machine) toggle(fn func(*media.Stream) (bool, error)) (bool, error) {
	var enabled bool
	err := m.do(func() error {
		c := m.call
		if c == nil || !c.State.active() {
			return ErrNoCall
		}
		if c.stream == nil {
			return ErrNoMedia
		}
		var err error
		enabled, err = fn(c.stream)
		return err
	})
	return enabled, err
}

// SwitchCamera moves video capture to the camera facing the given way and
// hands the new track to the peer connection.
func (m *Machine) SwitchCamera(facing media.Facing) error {
	return m.do(func() error {
		c := m.call
		if c == nil || !c.State.active() {
			return ErrNoCall
		}
		if c.stream == nil {
			return ErrNoMedia
		}
		var attach func(*media.Track) error
		if c.engine != nil {
			engine := c.engine
			attach = func(t *media.Track) error { return engine.ReplaceVideoTrack(t) }
		}
		if _, err := media.ReplaceVideoTrack(c.stream, facing, attach); err != nil {
			return err
		}
		m.callLogger(c).WithField("facing", facing).Info("switched camera")
		return nil
	})
}

// HandleSignal feeds an envelope received from the relay into the machine
func (m *Machine) HandleSignal(env models.Envelope) {
	m.post(func() { m.onSignal(env) })
}

// withDefaults fills unset timings from config.DefaultCall
func withDefaults(t config.CallConfig) config.CallConfig {
	d := config.DefaultCall()
	if t.RingTimeout <= 0 {
		t.RingTimeout = d.RingTimeout
	}
	if t.EndedGrace <= 0 {
		t.EndedGrace = d.EndedGrace
	}
	if t.DuplicateWindow <= 0 {
		t.DuplicateWindow = d.DuplicateWindow
	}
	if t.MediaTimeout <= 0 {
		t.MediaTimeout = d.MediaTimeout
	}
	return t
}

func newCallID() string {
	return uuid.NewString()
}

// do runs fn on the worker and waits for its result
func (m *Machine) do(fn func() error) error {
	errc := make(chan error, 1)
	if err := m.worker.Send(func() { errc <- fn() }); err != nil {
		if errors.Is(err, worker.ErrWorkerClosed) {
			return ErrClosed
		}
		return ErrOverloaded
	}
	return <-errc
}

// post queues fn without waiting
func (m *Machine) post(fn func()) {
	if err := m.worker.Send(fn); err != nil {
		m.logger.WithError(err).Warn("dropping session event")
	}
}

// acquire gets local media off the worker and reports back through then
func (m *Machine) acquire(c *call, then func(id string, stream *media.Stream, err error)) {
	id, callType := c.ID, c.Type
	go func() {
		stream, err := media.Acquire(context.Background(), m.cfg.Media, callType, m.cfg.Timings.MediaTimeout)
		m.post(func() { then(id, stream, err) })
	}()
}

// current returns the live call if it still has the given id
func (m *Machine) current(id string) *call {
	if m.call == nil || m.call.ID != id {
		return nil
	}
	return m.call
}

func (m *Machine) onOutgoingMedia(id string, stream *media.Stream, err error) {
	c := m.current(id)
	if c == nil || c.State != StateCalling {
		if stream != nil {
			stream.Stop()
		}
		return
	}
	if err != nil {
		m.reset(c, ReasonMediaError, err)
		return
	}
	c.stream = stream

	if c.engine, err = m.newNegotiator(c); err != nil {
		m.end(c, ReasonFailed, err, false)
		return
	}
	offer, err := c.engine.CreateOffer(stream)
	if err != nil {
		m.end(c, ReasonFailed, err, false)
		return
	}
	if err := m.cfg.Transport.Send(models.Offer(c.Peer, c.ID, c.Type, offer)); err != nil {
		m.end(c, ReasonFailed, err, false)
		return
	}
	c.contacted = true
	m.armTimer(c, m.cfg.Timings.RingTimeout, m.ringTimeout)
	m.callLogger(c).Debug("offer sent")
}

func (m *Machine) onAnswerMedia(id string, stream *media.Stream, err error) {
	c := m.current(id)
	if c == nil || c.State != StateConnecting {
		if stream != nil {
			stream.Stop()
		}
		return
	}
	if err != nil {
		m.send(models.Control(models.EventCallReject, c.Peer, c.ID))
		m.reset(c, ReasonMediaError, err)
		return
	}
	c.stream = stream

	if err := c.engine.SetRemoteOffer(*c.offer); err != nil {
		m.end(c, ReasonFailed, err, true)
		return
	}
	answer, err := c.engine.CreateAnswer(stream)
	if err != nil {
		m.end(c, ReasonFailed, err, true)
		return
	}
	c.offer = nil
	if err := m.cfg.Transport.Send(models.Answer(c.Peer, c.ID, answer)); err != nil {
		m.end(c, ReasonFailed, err, true)
		return
	}
	m.callLogger(c).Debug("answer sent")
}

// newNegotiator builds the call's negotiator with callbacks routed back
// through the worker and guarded by the call id
func (m *Machine) newNegotiator(c *call) (Negotiator, error) {
	id, peer := c.ID, c.Peer
	return m.cfg.Negotiators(c.Type, negotiation.Handlers{
		OnLocalCandidate: func(candidate webrtc.ICECandidateInit) {
			m.post(func() {
				if m.current(id) != nil && m.call.State.active() {
					m.send(models.Candidate(peer, id, candidate))
				}
			})
		},
		OnConnectionState: func(state webrtc.PeerConnectionState) {
			m.post(func() { m.onConnectionState(id, state) })
		},
	})
}

func (m *Machine) onConnectionState(id string, state webrtc.PeerConnectionState) {
	c := m.current(id)
	if c == nil || !c.State.active() {
		return
	}
	m.callLogger(c).WithField("state", state).Debug("peer connection state")

	switch state {
	case webrtc.PeerConnectionStateConnected:
		switch {
		case c.State == StateConnecting:
			c.State = StateConnected
			c.ConnectedAt = time.Now()
			m.callLogger(c).Info("call connected")
			m.changed(c)
		case c.State == StateConnected && c.Reconnecting:
			c.Reconnecting = false
			m.changed(c)
		}
	case webrtc.PeerConnectionStateDisconnected:
		if c.State == StateConnected && !c.Reconnecting {
			c.Reconnecting = true
			m.callLogger(c).Warn("peer connection interrupted")
			m.changed(c)
		}
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		m.end(c, ReasonFailed, ErrConnectionFailed, true)
	}
}

// ringTimeout fires when an incoming or outgoing call went unanswered
func (m *Machine) ringTimeout(id string) {
	c := m.current(id)
	if c == nil {
		m.logger.WithField("callId", id).Debug("ignoring stale call timer")
		return
	}
	switch c.State {
	case StateIncoming:
		m.send(models.Control(models.EventCallTimeout, c.Peer, c.ID))
		m.reset(c, ReasonTimeout, nil)
	case StateCalling:
		m.send(models.Control(models.EventCallEnd, c.Peer, c.ID))
		m.reset(c, ReasonTimeout, nil)
	}
}

// end moves an active call to ended and schedules the return to idle
func (m *Machine) end(c *call, reason Reason, err error, notifyPeer bool) {
	if !c.State.active() {
		return
	}
	if notifyPeer && c.contacted {
		m.send(models.Control(models.EventCallEnd, c.Peer, c.ID))
	}
	m.stopTimer(c)
	m.release(c)

	c.State = StateEnded
	c.Reconnecting = false
	m.logEnd(c, reason, err)
	m.publish(c.Call)
	m.emit(Notification{Kind: NotifyEnded, Call: c.Call, Reason: reason, Err: err})

	m.armTimer(c, m.cfg.Timings.EndedGrace, func(id string) {
		if c := m.current(id); c != nil && c.State == StateEnded {
			m.toIdle()
		}
	})
}

// reset abandons a call that never connected and returns straight to idle
func (m *Machine) reset(c *call, reason Reason, err error) {
	m.stopTimer(c)
	m.release(c)

	c.State = StateIdle
	m.logEnd(c, reason, err)
	m.emit(Notification{Kind: NotifyEnded, Call: c.Call, Reason: reason, Err: err})
	m.toIdle()
}

func (m *Machine) toIdle() {
	m.call = nil
	m.publish(Call{State: StateIdle})
	m.emit(Notification{Kind: NotifyStateChanged, Call: Call{State: StateIdle}})
}

// release stops local media and closes the peer connection. Both are
// idempotent so every teardown path may call it.
func (m *Machine) release(c *call) {
	if c.engine != nil {
		c.engine.Teardown()
	}
	if c.stream != nil {
		c.stream.Stop()
	}
}

func (m *Machine) armTimer(c *call, d time.Duration, fire func(id string)) {
	m.stopTimer(c)
	id := c.ID
	c.timer = time.AfterFunc(d, func() {
		m.post(func() { fire(id) })
	})
}

func (m *Machine) stopTimer(c *call) {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (m *Machine) send(env models.Envelope) {
	if err := m.cfg.Transport.Send(env); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"event":  env.Event,
			"peer":   env.To,
			"callId": env.CallID,
		}).Warn("failed to send signal")
	}
}

func (m *Machine) changed(c *call) {
	m.publish(c.Call)
	m.emit(Notification{Kind: NotifyStateChanged, Call: c.Call})
}

func (m *Machine) publish(c Call) {
	m.snapMu.Lock()
	m.snapshot = c
	m.snapMu.Unlock()
}

func (m *Machine) emit(n Notification) {
	select {
	case m.notify <- n:
	default:
		m.logger.WithField("kind", n.Kind).Warn("notification dropped, nobody is listening")
	}
}

func (m *Machine) callLogger(c *call) *logrus.Entry {
	return m.logger.WithFields(logrus.Fields{"callId": c.ID, "peer": c.Peer})
}

func (m *Machine) logEnd(c *call, reason Reason, err error) {
	logger := m.callLogger(c).WithField("reason", reason)
	if err != nil {
		logger.WithError(err).Warn("call ended")
		return
	}
	logger.Info("call ended")
}
