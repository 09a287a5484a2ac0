package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"schooltower/cmd/identity"
)

type accessJWT struct {
	UserID       string `json:"userId"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	TokenVersion int    `json:"tokenVersion"`
	Kind         string `json:"typ"`
	jwt.RegisteredClaims
}

type refreshJWT struct {
	UserID       string `json:"userId"`
	TokenVersion int    `json:"tokenVersion"`
	TokenID      string `json:"tokenId"`
	Kind         string `json:"typ"`
	jwt.RegisteredClaims
}

// JWTCodec signs HS256 JWTs with one secret per token kind.
type JWTCodec struct {
	issuer        string
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewJWTCodec builds a JWTCodec. Secrets must be distinct and at least MinSecretBytes long.
func NewJWTCodec(cfg Config) (*JWTCodec, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &JWTCodec{
		issuer:        cfg.Issuer,
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
	}, nil
}

func (c *JWTCodec) registered(now, exp time.Time, subject string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
}

func (c *JWTCodec) SignAccess(u identity.User, now time.Time) (string, time.Time, error) {
	exp := now.Add(c.accessTTL)
	claims := accessJWT{
		UserID:           u.ID,
		Email:            u.Email,
		Role:             string(u.Role),
		TokenVersion:     u.TokenVersion,
		Kind:             kindAccess,
		RegisteredClaims: c.registered(now, exp, u.ID),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (c *JWTCodec) SignRefresh(u identity.User, now time.Time) (string, RefreshClaims, error) {
	exp := now.Add(c.refreshTTL)
	tokenID := uuid.NewString()
	claims := refreshJWT{
		UserID:           u.ID,
		TokenVersion:     u.TokenVersion,
		TokenID:          tokenID,
		Kind:             kindRefresh,
		RegisteredClaims: c.registered(now, exp, u.ID),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshSecret)
	if err != nil {
		return "", RefreshClaims{}, err
	}
	return signed, RefreshClaims{
		UserID:       u.ID,
		TokenVersion: u.TokenVersion,
		TokenID:      tokenID,
		IssuedAt:     now,
		ExpiresAt:    exp,
	}, nil
}

func (c *JWTCodec) VerifyAccess(token string, now time.Time) (AccessClaims, error) {
	var claims accessJWT
	if err := c.parse(token, now, c.accessSecret, &claims); err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	if claims.Kind != kindAccess || claims.UserID == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	return AccessClaims{
		UserID:       claims.UserID,
		Email:        claims.Email,
		Role:         identity.Role(claims.Role),
		TokenVersion: claims.TokenVersion,
		IssuedAt:     numericTime(claims.IssuedAt),
		ExpiresAt:    numericTime(claims.ExpiresAt),
	}, nil
}

func (c *JWTCodec) VerifyRefresh(token string, now time.Time) (RefreshClaims, error) {
	var claims refreshJWT
	if err := c.parse(token, now, c.refreshSecret, &claims); err != nil {
		return RefreshClaims{}, ErrInvalidToken
	}
	if claims.Kind != kindRefresh || claims.UserID == "" || claims.TokenID == "" {
		return RefreshClaims{}, ErrInvalidToken
	}
	return RefreshClaims{
		UserID:       claims.UserID,
		TokenVersion: claims.TokenVersion,
		TokenID:      claims.TokenID,
		IssuedAt:     numericTime(claims.IssuedAt),
		ExpiresAt:    numericTime(claims.ExpiresAt),
	}, nil
}

func (c *JWTCodec) parse(token string, now time.Time, secret []byte, claims jwt.Claims) error {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > 4096 {
		return ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return errors.New("token not valid")
	}
	return nil
}

func numericTime(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time
}
