package session

import (
	"crypto/sha256"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/google/uuid"

	"schooltower/cmd/identity"
)

// PasetoCodec issues PASETO v4.local tokens. Each kind has its own symmetric key derived from
// the corresponding secret, and the kind is bound as implicit assertion.
type PasetoCodec struct {
	issuer     string
	accessKey  paseto.V4SymmetricKey
	refreshKey paseto.V4SymmetricKey
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewPasetoCodec builds a PasetoCodec from the same secrets the JWT codec uses.
func NewPasetoCodec(cfg Config) (*PasetoCodec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	accessKey, err := deriveV4Key(cfg.AccessSecret)
	if err != nil {
		return nil, err
	}
	refreshKey, err := deriveV4Key(cfg.RefreshSecret)
	if err != nil {
		return nil, err
	}
	return &PasetoCodec{
		issuer:     cfg.Issuer,
		accessKey:  accessKey,
		refreshKey: refreshKey,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
	}, nil
}

func deriveV4Key(secret string) (paseto.V4SymmetricKey, error) {
	sum := sha256.Sum256([]byte(secret))
	key, err := paseto.V4SymmetricKeyFromBytes(sum[:])
	if err != nil {
		return paseto.V4SymmetricKey{}, ErrConfig
	}
	return key, nil
}

func implicitFor(kind string) []byte { return []byte("schooltower:" + kind) }

func (c *PasetoCodec) newToken(now, exp time.Time, userID string, kind string, tokenVersion int) (paseto.Token, error) {
	tok := paseto.NewToken()
	tok.SetIssuer(c.issuer)
	tok.SetSubject(userID)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	tok.SetString("userId", userID)
	tok.SetString("typ", kind)
	if err := tok.Set("tokenVersion", tokenVersion); err != nil {
		return paseto.Token{}, err
	}
	return tok, nil
}

func (c *PasetoCodec) SignAccess(u identity.User, now time.Time) (string, time.Time, error) {
	exp := now.Add(c.accessTTL)
	tok, err := c.newToken(now, exp, u.ID, kindAccess, u.TokenVersion)
	if err != nil {
		return "", time.Time{}, err
	}
	tok.SetString("email", u.Email)
	tok.SetString("role", string(u.Role))
	return tok.V4Encrypt(c.accessKey, implicitFor(kindAccess)), exp, nil
}

func (c *PasetoCodec) SignRefresh(u identity.User, now time.Time) (string, RefreshClaims, error) {
	exp := now.Add(c.refreshTTL)
	tok, err := c.newToken(now, exp, u.ID, kindRefresh, u.TokenVersion)
	if err != nil {
		return "", RefreshClaims{}, err
	}
	tokenID := uuid.NewString()
	tok.SetString("tokenId", tokenID)
	return tok.V4Encrypt(c.refreshKey, implicitFor(kindRefresh)), RefreshClaims{
		UserID:       u.ID,
		TokenVersion: u.TokenVersion,
		TokenID:      tokenID,
		IssuedAt:     now,
		ExpiresAt:    exp,
	}, nil
}

func (c *PasetoCodec) parse(token string, now time.Time, key paseto.V4SymmetricKey, kind string) (*paseto.Token, error) {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > 4096 {
		return nil, ErrInvalidToken
	}

	// Fresh parser per call; rules must not accumulate.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(c.issuer))
	p.AddRule(paseto.ValidAt(now))

	parsed, err := p.ParseV4Local(key, token, implicitFor(kind))
	if err != nil {
		return nil, ErrInvalidToken
	}
	if typ, err := parsed.GetString("typ"); err != nil || typ != kind {
		return nil, ErrInvalidToken
	}
	return parsed, nil
}

func (c *PasetoCodec) VerifyAccess(token string, now time.Time) (AccessClaims, error) {
	parsed, err := c.parse(token, now, c.accessKey, kindAccess)
	if err != nil {
		return AccessClaims{}, err
	}

	var out AccessClaims
	if out.UserID, err = parsed.GetString("userId"); err != nil || out.UserID == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	if err := parsed.Get("tokenVersion", &out.TokenVersion); err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	out.Email, _ = parsed.GetString("email")
	role, _ := parsed.GetString("role")
	out.Role = identity.Role(role)
	out.IssuedAt, _ = parsed.GetIssuedAt()
	out.ExpiresAt, _ = parsed.GetExpiration()
	return out, nil
}

func (c *PasetoCodec) VerifyRefresh(token string, now time.Time) (RefreshClaims, error) {
	parsed, err := c.parse(token, now, c.refreshKey, kindRefresh)
	if err != nil {
		return RefreshClaims{}, err
	}

	var out RefreshClaims
	if out.UserID, err = parsed.GetString("userId"); err != nil || out.UserID == "" {
		return RefreshClaims{}, ErrInvalidToken
	}
	if out.TokenID, err = parsed.GetString("tokenId"); err != nil || out.TokenID == "" {
		return RefreshClaims{}, ErrInvalidToken
	}
	if err := parsed.Get("tokenVersion", &out.TokenVersion); err != nil {
		return RefreshClaims{}, ErrInvalidToken
	}
	out.IssuedAt, _ = parsed.GetIssuedAt()
	out.ExpiresAt, _ = parsed.GetExpiration()
	return out, nil
}
