package session

import (
	"fmt"
	"time"

	"schooltower/cmd/identity"
)

const (
	kindAccess  = "access"
	kindRefresh = "refresh"
)

// AccessClaims is what a verified access token proves about its bearer.
type AccessClaims struct {
	UserID       string
	Email        string
	Role         identity.Role
	TokenVersion int
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// RefreshClaims identifies one issuance of a refresh token. TokenID makes two tokens minted in
// the same instant for the same user hash differently.
type RefreshClaims struct {
	UserID       string
	TokenVersion int
	TokenID      string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// Codec signs and verifies the two token kinds. Implementations are stateless and safe for
// concurrent use. Every Verify failure is ErrInvalidToken.
type Codec interface {
	SignAccess(u identity.User, now time.Time) (token string, exp time.Time, err error)
	SignRefresh(u identity.User, now time.Time) (token string, claims RefreshClaims, err error)
	VerifyAccess(token string, now time.Time) (AccessClaims, error)
	VerifyRefresh(token string, now time.Time) (RefreshClaims, error)
}

// NewCodec builds the Codec selected by cfg.Format.
func NewCodec(cfg Config) (Codec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Format {
	case FormatJWT:
		return NewJWTCodec(cfg)
	case FormatPaseto:
		return NewPasetoCodec(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown token format %q", ErrConfig, cfg.Format)
	}
}
