package models

// PresenceInfo is what the relay reports about a single identity
type PresenceInfo struct {
	Identity string `json:"identity"`
	Online   bool   `json:"online"`
	InCall   bool   `json:"inCall"`
	Partner  string `json:"partner,omitempty"`
}

// PresenceList is the response for listing online identities
type PresenceList struct {
	Online []string `json:"online"`
	Count  int      `json:"count"`
}

// LoginRequest is the body of POST /api/auth/login.
// Identity is the participant's wallet address.
type LoginRequest struct {
	Identity string `json:"identity" binding:"required"`
}

// LoginResponse carries the signed token bound to the identity
type LoginResponse struct {
	Token    string `json:"token"`
	Identity string `json:"identity"`
}

// CallSettings is what clients need to run their call state machine
// with the same timings as everyone else on the relay.
type CallSettings struct {
	RingTimeoutMs     int64    `json:"ringTimeoutMs"`
	EndedGraceMs      int64    `json:"endedGraceMs"`
	DuplicateWindowMs int64    `json:"duplicateWindowMs"`
	MediaTimeoutMs    int64    `json:"mediaTimeoutMs"`
	ICEServers        []string `json:"iceServers"`
}
