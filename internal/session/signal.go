package session

import (
	"time"

	"github.com/mossy-p/callrelay/internal/controller"
	"github.com/mossy-p/callrelay/internal/models"
	"github.com/sirupsen/logrus"
)

// onSignal applies one envelope delivered by the relay
func (m *Machine) onSignal(env models.Envelope) {
	logger := m.logger.WithFields(logrus.Fields{
		"event":  env.Event,
		"peer":   env.From,
		"callId": env.CallID,
	})

	switch env.Event {
	case models.EventIncomingCall:
		m.onIncomingCall(env, logger)
	case models.EventCallAnswered:
		m.onCallAnswered(env, logger)
	case models.EventICECandidate:
		m.onRemoteCandidate(env, logger)
	case models.EventCallEnded:
		if c := m.matching(env); c != nil && c.State.active() {
			m.end(c, ReasonPeerEnded, nil, false)
		}
	case models.EventCallRejected:
		m.onCallerFailure(env, ReasonRejected)
	case models.EventCallBusy:
		m.onCallerFailure(env, ReasonBusy)
	case models.EventCallTimeout:
		m.onCallerFailure(env, ReasonTimeout)
	case models.EventError:
		logger.WithField("error", env.Error).Warn("relay reported an error")
	case models.EventRegistered, models.EventUserOnline, models.EventUserOffline:
		logger.WithField("identity", env.Identity).Debug("presence update")
	default:
		logger.Debug("ignoring unexpected signal")
	}
}

// matching returns the live call if env belongs to it. Envelopes without
// a call id are matched on the peer alone.
func (m *Machine) matching(env models.Envelope) *call {
	c := m.call
	if c == nil || c.Peer != env.From {
		return nil
	}
	if env.CallID != "" && env.CallID != c.ID {
		return nil
	}
	return c
}

func (m *Machine) onIncomingCall(env models.Envelope, logger *logrus.Entry) {
	if env.From == "" || env.From == m.cfg.Identity || env.SDP == nil || !env.CallType.Valid() {
		logger.Warn("ignoring malformed incoming call")
		return
	}

	now := time.Now()
	if c := m.call; c != nil && c.Peer == env.From && c.ID == env.CallID {
		logger.Debug("ignoring retransmitted incoming call")
		return
	}
	if m.lastIncoming.peer == env.From && now.Sub(m.lastIncoming.at) < m.cfg.Timings.DuplicateWindow {
		logger.Debug("ignoring duplicate incoming call")
		return
	}
	m.lastIncoming.peer, m.lastIncoming.at = env.From, now

	if m.call != nil {
		logger.Info("busy, declining incoming call")
		m.send(models.Control(models.EventCallBusy, env.From, env.CallID))
		return
	}

	callID := env.CallID
	if callID == "" {
		callID = newCallID()
	}
	offer := *env.SDP
	c := &call{
		Call: Call{
			ID:        callID,
			Peer:      env.From,
			Type:      env.CallType,
			Direction: DirectionIncoming,
			State:     StateIncoming,
			StartedAt: now,
		},
		offer:     &offer,
		contacted: true,
	}
	m.call = c

	// The engine exists from the first ring so candidates the caller
	// trickles before we answer are buffered rather than lost.
	engine, err := m.newNegotiator(c)
	if err != nil {
		m.send(models.Control(models.EventCallReject, c.Peer, c.ID))
		m.reset(c, ReasonFailed, err)
		return
	}
	c.engine = engine

	surface := controller.GlobalBanner
	if m.cfg.Focus != nil {
		surface = controller.Route(m.cfg.Focus(), c.Peer)
	}
	m.armTimer(c, m.cfg.Timings.RingTimeout, m.ringTimeout)
	m.publish(c.Call)
	m.emit(Notification{Kind: NotifyIncoming, Call: c.Call, Surface: surface})
	m.callLogger(c).WithFields(logrus.Fields{"type": c.Type, "surface": surface}).Info("incoming call")
}

func (m *Machine) onCallAnswered(env models.Envelope, logger *logrus.Entry) {
	c := m.matching(env)
	if c == nil || c.State != StateCalling || c.engine == nil {
		logger.Debug("ignoring answer for no outgoing call")
		return
	}
	if env.SDP == nil {
		m.end(c, ReasonFailed, ErrInvalidAnswer, true)
		return
	}

	m.stopTimer(c)
	c.State = StateConnecting
	if err := c.engine.ApplyRemoteAnswer(*env.SDP); err != nil {
		m.end(c, ReasonFailed, err, true)
		return
	}
	m.changed(c)
}

func (m *Machine) onRemoteCandidate(env models.Envelope, logger *logrus.Entry) {
	c := m.matching(env)
	if c == nil || !c.State.active() || c.engine == nil || env.Candidate == nil {
		logger.Debug("dropping ICE candidate for no live call")
		return
	}
	if err := c.engine.AddRemoteICECandidate(*env.Candidate); err != nil {
		m.end(c, ReasonFailed, err, true)
	}
}

// onCallerFailure handles the replies that end an unanswered outgoing call
func (m *Machine) onCallerFailure(env models.Envelope, reason Reason) {
	c := m.matching(env)
	if c == nil || c.State != StateCalling {
		return
	}
	m.reset(c, reason, nil)
}
