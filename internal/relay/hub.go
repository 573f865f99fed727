// Package relay routes call signaling between pairs of participants.
//
// The relay keeps two pieces of state: which identity is online on which
// connection, and which identities are currently in a call together. Each
// inbound message is processed to completion under a single lock, so a
// pairing is never observed half written.
package relay

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/mossy-p/callrelay/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotRegistered    = errors.New("connection has not registered an identity")
	ErrIdentityMismatch = errors.New("connection is already registered under another identity")
	ErrSelfCall         = errors.New("cannot call yourself")
)

// Conn is a client connection the hub can deliver encoded envelopes to.
// Deliver must not block; it reports false when the message was dropped.
type Conn interface {
	ID() string
	Deliver(data []byte) bool
}

// Hub is the relay server core
type Hub struct {
	mu     sync.Mutex
	store  *Store
	mirror *asyncMirror
	logger *logrus.Entry
}

// NewHub creates a hub. mirror may be nil.
func NewHub(mirror Mirror, logger *logrus.Entry) *Hub {
	h := &Hub{
		store:  newStore(),
		logger: logger,
	}
	h.mirror = newAsyncMirror(mirror, logger.WithField("component", "mirror"))
	return h
}

// Close stops the mirror worker after flushing pending updates
func (h *Hub) Close() {
	h.mirror.stop()
}

// Register associates conn with identity and announces it to everyone else.
// A later registration of the same identity on another connection wins and
// the displaced connection can no longer send as that identity.
func (h *Hub) Register(conn Conn, identity string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.store.identityOf(conn); ok && current != identity {
		return ErrIdentityMismatch
	}

	logger := h.logger.WithFields(logrus.Fields{"identity": identity, "conn": conn.ID()})
	if prev := h.store.register(conn, identity); prev != nil {
		logger.WithField("previous", prev.ID()).Info("identity re-registered on new connection")
	} else {
		logger.Info("identity registered")
	}

	h.deliver(conn, models.Envelope{Event: models.EventRegistered, Identity: identity})
	h.broadcast(models.Envelope{Event: models.EventUserOnline, Identity: identity}, identity)
	h.mirror.send(mirrorTask{op: opOnline, a: identity})
	return nil
}

// Handle routes one envelope sent by conn
func (h *Hub) Handle(conn Conn, env models.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sender, ok := h.store.identityOf(conn)
	if !ok {
		return ErrNotRegistered
	}
	if err := env.Validate(); err != nil {
		return err
	}
	if env.To == sender {
		return ErrSelfCall
	}

	logger := h.logger.WithFields(logrus.Fields{
		"event":  env.Event,
		"from":   sender,
		"to":     env.To,
		"callId": env.CallID,
	})

	switch env.Event {
	case models.EventCallOffer:
		if _, busy := h.store.partnerOf(env.To); busy {
			logger.Info("recipient busy, rejecting offer")
			h.deliver(conn, models.Envelope{
				Event:  models.EventCallBusy,
				From:   env.To,
				CallID: env.CallID,
			})
			return nil
		}
		if _, online := h.store.connOf(env.To); online {
			h.store.offer(sender, env.To, env.CallID)
		}

	case models.EventCallAnswer:
		if _, online := h.store.connOf(env.To); !online {
			logger.Debug("caller gone, answer dropped")
			return nil
		}
		if !h.store.takeOffer(env.To, sender, env.CallID) {
			logger.Info("no pending offer for answer, dropped")
			return nil
		}
		h.endPairing(sender, env.To)
		h.endPairing(env.To, sender)
		h.store.pair(sender, env.To)
		h.mirror.send(mirrorTask{op: opPair, a: sender, b: env.To})
		logger.Info("call paired")

	case models.EventCallEnd:
		h.store.dropOffers(sender, env.To)
		if partner, ok := h.store.unpair(sender); ok {
			h.mirror.send(mirrorTask{op: opUnpair, a: sender, b: partner})
			if partner != env.To {
				h.deliverTo(partner, models.Envelope{Event: models.EventCallEnded, From: sender})
			}
			logger.Info("call unpaired")
		}

	case models.EventCallReject, models.EventCallTimeout:
		h.store.dropOffers(sender, env.To)
		if partner, ok := h.store.partnerOf(sender); ok && partner == env.To {
			h.store.unpair(sender)
			h.mirror.send(mirrorTask{op: opUnpair, a: sender, b: partner})
		}
	}

	out, _ := env.Event.Forwarded()
	forward := models.Envelope{
		Event:     out,
		From:      sender,
		CallID:    env.CallID,
		CallType:  env.CallType,
		SDP:       env.SDP,
		Candidate: env.Candidate,
	}
	if !h.deliverTo(env.To, forward) {
		logger.Debug("recipient not online, message dropped")
	}
	return nil
}

// Unregister forgets conn. If it is still the live connection for its
// identity the identity goes offline and any call partner is told the call ended.
func (h *Hub) Unregister(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	identity, ok := h.store.unregister(conn)
	if !ok {
		h.logger.WithField("conn", conn.ID()).Debug("unknown or displaced connection closed")
		return
	}
	logger := h.logger.WithFields(logrus.Fields{"identity": identity, "conn": conn.ID()})
	h.store.dropOffersOf(identity)

	if partner, ok := h.store.unpair(identity); ok {
		h.mirror.send(mirrorTask{op: opUnpair, a: identity, b: partner})
		h.deliverTo(partner, models.Envelope{Event: models.EventCallEnded, From: identity})
		logger.WithField("partner", partner).Info("call ended by disconnect")
	}

	h.broadcast(models.Envelope{Event: models.EventUserOffline, Identity: identity}, identity)
	h.mirror.send(mirrorTask{op: opOffline, a: identity})
	logger.Info("identity offline")
}

// Online lists online identities in sorted order
func (h *Hub) Online() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store.online()
}

// Lookup reports presence and pairing for identity
func (h *Hub) Lookup(identity string) models.PresenceInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, online := h.store.connOf(identity)
	partner, inCall := h.store.partnerOf(identity)
	return models.PresenceInfo{
		Identity: identity,
		Online:   online,
		InCall:   inCall,
		Partner:  partner,
	}
}

// PairingOf returns the raw pairing record for identity, symmetric or not
func (h *Hub) PairingOf(identity string) (Pairing, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.store.pairings[identity]
	return p, ok
}

// endPairing clears identity's existing pairing unless it is with keep,
// telling the dropped partner the call ended. The notice carries no call
// id since it concerns the partner's call, not the one being answered.
func (h *Hub) endPairing(identity, keep string) {
	partner, ok := h.store.partnerOf(identity)
	if !ok || partner == keep {
		return
	}
	h.store.unpair(identity)
	h.mirror.send(mirrorTask{op: opUnpair, a: identity, b: partner})
	h.deliverTo(partner, models.Envelope{Event: models.EventCallEnded, From: identity})
}

func (h *Hub) deliverTo(identity string, env models.Envelope) bool {
	conn, ok := h.store.connOf(identity)
	if !ok {
		return false
	}
	return h.deliver(conn, env)
}

func (h *Hub) deliver(conn Conn, env models.Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.WithError(err).Error("failed to marshal envelope")
		return false
	}
	if !conn.Deliver(data) {
		h.logger.WithField("conn", conn.ID()).Warn("failed to deliver message, buffer full")
		return false
	}
	return true
}

func (h *Hub) broadcast(env models.Envelope, exclude string) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.WithError(err).Error("failed to marshal envelope")
		return
	}
	for identity, conn := range h.store.presence {
		if identity == exclude {
			continue
		}
		if !conn.Deliver(data) {
			h.logger.WithField("identity", identity).Warn("failed to broadcast, buffer full")
		}
	}
}
