package realtime

import (
	"time"

	"schooltower/cmd/identity"
)

// NewClientID returns a ULID used as websocket client id.
func NewClientID(now time.Time) (string, error) {
	return identity.NewULID(now)
}
