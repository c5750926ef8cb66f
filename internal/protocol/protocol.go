// Package protocol defines the JSON envelopes spoken on the relay sockets.
package protocol

import (
	"encoding/json"

	"github.com/dkeye/proximity/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Room socket message types.
const (
	TypeJoin          = "join"
	TypeInit          = "init"
	TypeUpdate        = "update"
	TypePeerLeft      = "peer_left"
	TypeCallIntention = "call_intention"
	TypeCallAllowed   = "call_allowed"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeError         = "error"
)

// Signal socket message types.
const (
	TypeOpen      = "open"
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"
	TypeClose     = "close"
)

// Error codes carried in Envelope.Error / Signal.Error.
const (
	ErrCodeBadPayload  = "bad_payload"
	ErrCodeNotInRoom   = "not_in_room"
	ErrCodeUnknownPeer = "unknown_peer"
	ErrCodeRateLimited = "rate_limited"
	// ErrCodeUnknownIdentity rejects a join whose id has no signalling socket.
	ErrCodeUnknownIdentity = "unknown_identity"
)

// Envelope is every message on the room socket. Only the fields relevant to
// Type are populated.
type Envelope struct {
	Type  string                      `json:"type"`
	Room  domain.RoomName             `json:"room,omitempty"`
	Node  *domain.NodeState           `json:"node,omitempty"`
	Nodes map[string]domain.NodeState `json:"nodes,omitempty"`
	ID    string                      `json:"id,omitempty"`
	From  string                      `json:"from,omitempty"`
	To    string                      `json:"to,omitempty"`
	Error string                      `json:"error,omitempty"`
}

// Signal is every message on the signalling socket. From is always stamped by
// the relay, never trusted from the sender.
type Signal struct {
	Type      string                   `json:"type"`
	ID        string                   `json:"id,omitempty"`
	From      string                   `json:"from,omitempty"`
	To        string                   `json:"to,omitempty"`
	Call      string                   `json:"call,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

// PeekType extracts the type field without decoding the rest.
func PeekType(data []byte) (string, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}
