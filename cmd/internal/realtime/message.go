package realtime

import "time"

// Message types on the session socket.
const (
	TypeReady   = "session.ready"
	TypeRevoked = "session.revoked"
	TypePing    = "ping"
	TypePong    = "pong"
	TypeError   = "error"
)

// Revocation reasons that are not event types.
const (
	ReasonTokenInvalid = "token_invalid"
)

// Message is the only frame shape in both directions.
type Message struct {
	Type   string    `json:"type"`
	Reason string    `json:"reason,omitempty"`
	UserID string    `json:"userId,omitempty"`
	TS     time.Time `json:"ts,omitzero"`
}
