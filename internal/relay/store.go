package relay

import "sort"

// Pairing is the relay's record that an identity is in a call
type Pairing struct {
	Partner string
	Busy    bool
}

// offerKey names an offer from caller to callee that has not been answered
type offerKey struct {
	caller, callee string
}

// Store holds presence, pending offers and call pairings. It is not safe for
// concurrent use; the Hub serializes access to it.
type Store struct {
	presence   map[string]Conn
	identities map[Conn]string
	pairings   map[string]Pairing
	offers     map[offerKey]string
}

func newStore() *Store {
	return &Store{
		presence:   make(map[string]Conn),
		identities: make(map[Conn]string),
		pairings:   make(map[string]Pairing),
		offers:     make(map[offerKey]string),
	}
}

// register binds conn to identity, replacing whatever connection held it before.
// It returns the displaced connection, if any.
func (s *Store) register(conn Conn, identity string) Conn {
	prev := s.presence[identity]
	s.presence[identity] = conn
	s.identities[conn] = identity
	if prev == nil || prev == conn {
		return nil
	}
	delete(s.identities, prev)
	return prev
}

// unregister forgets conn and takes its identity offline. A connection
// displaced by a later registration is already unknown.
func (s *Store) unregister(conn Conn) (string, bool) {
	identity, ok := s.identities[conn]
	if !ok {
		return "", false
	}
	delete(s.identities, conn)
	delete(s.presence, identity)
	return identity, true
}

func (s *Store) identityOf(conn Conn) (string, bool) {
	identity, ok := s.identities[conn]
	return identity, ok
}

func (s *Store) connOf(identity string) (Conn, bool) {
	conn, ok := s.presence[identity]
	return conn, ok
}

// pair writes both directions of a pairing
func (s *Store) pair(a, b string) {
	s.pairings[a] = Pairing{Partner: b, Busy: true}
	s.pairings[b] = Pairing{Partner: a, Busy: true}
}

// partnerOf returns the partner of identity if the pairing is symmetric.
// A one-sided record is stale and is dropped.
func (s *Store) partnerOf(identity string) (string, bool) {
	p, ok := s.pairings[identity]
	if !ok {
		return "", false
	}
	back, ok := s.pairings[p.Partner]
	if !ok || back.Partner != identity {
		delete(s.pairings, identity)
		return "", false
	}
	return p.Partner, p.Busy
}

// unpair removes identity's pairing and the reverse direction.
// It returns the former partner.
func (s *Store) unpair(identity string) (string, bool) {
	p, ok := s.pairings[identity]
	if !ok {
		return "", false
	}
	delete(s.pairings, identity)
	if back, ok := s.pairings[p.Partner]; ok && back.Partner == identity {
		delete(s.pairings, p.Partner)
	}
	return p.Partner, true
}

// offer records a call offer, replacing any earlier one between the same pair
func (s *Store) offer(caller, callee, callID string) {
	s.offers[offerKey{caller, callee}] = callID
}

// takeOffer consumes the offer from caller to callee if it is for callID
func (s *Store) takeOffer(caller, callee, callID string) bool {
	key := offerKey{caller, callee}
	pending, ok := s.offers[key]
	if !ok || pending != callID {
		return false
	}
	delete(s.offers, key)
	return true
}

// dropOffers forgets offers between a and b in either direction
func (s *Store) dropOffers(a, b string) {
	delete(s.offers, offerKey{a, b})
	delete(s.offers, offerKey{b, a})
}

// dropOffersOf forgets every offer identity made or received
func (s *Store) dropOffersOf(identity string) {
	for key := range s.offers {
		if key.caller == identity || key.callee == identity {
			delete(s.offers, key)
		}
	}
}

func (s *Store) online() []string {
	out := make([]string, 0, len(s.presence))
	for identity := range s.presence {
		out = append(out, identity)
	}
	sort.Strings(out)
	return out
}
