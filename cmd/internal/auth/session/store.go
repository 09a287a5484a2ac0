package session

import (
	"context"
	"time"
)

// Record is one issued refresh token, addressed by the hash of the raw token.
// A record with RevokedAt set is permanently inert.
type Record struct {
	ID           string
	UserID       string
	TokenHash    string
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	ReplacedByID *string
	UserAgent    string
	IP           string
	CreatedAt    time.Time
}

// Active reports whether the record is neither revoked nor expired at now.
func (r Record) Active(now time.Time) bool {
	return r.RevokedAt == nil && r.ExpiresAt.After(now)
}

// NewRecord describes a record to insert. TokenHash must already be hashed.
type NewRecord struct {
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UserAgent string
	IP        string
}

// Store persists refresh-token records. It never sees raw tokens.
type Store interface {
	// Create inserts a new active record.
	Create(ctx context.Context, now time.Time, in NewRecord) (Record, error)

	// Revoke sets revoked_at on one record. Unknown or already revoked hashes are not errors.
	Revoke(ctx context.Context, now time.Time, tokenHash string) error

	// RevokeAllForUser revokes every still active record of a user and returns how many changed.
	RevokeAllForUser(ctx context.Context, now time.Time, userID string) (int64, error)

	// CleanupExpired deletes records past expiry regardless of revocation state.
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)

	// Rotate is the atomic refresh step for the record matching oldHash:
	//   - missing (or owned by another user): ErrRecordNotFound
	//   - revoked: revoke all of the user's records, bump tokenVersion, ErrReplayDetected
	//   - expired: ErrRecordExpired
	//   - otherwise insert next, revoke the old record and link it to next.
	Rotate(ctx context.Context, now time.Time, oldHash string, next NewRecord) (Record, error)

	// InvalidateUser revokes every record of the user and then bumps tokenVersion,
	// returning the new version.
	InvalidateUser(ctx context.Context, now time.Time, userID string) (int, error)
}

// VersionBumper increments a user's tokenVersion. identity.Store satisfies it.
type VersionBumper interface {
	BumpTokenVersion(ctx context.Context, userID string, now time.Time) (int, error)
}
