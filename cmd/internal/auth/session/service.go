package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"schooltower/cmd/identity"
	"schooltower/cmd/internal/auth/autherr"
	"schooltower/cmd/internal/events"
	"schooltower/cmd/internal/metrics"
	"schooltower/cmd/security/password"
	"schooltower/cmd/security/token"
)

// Service owns the token lifecycle state machine.
type Service struct {
	cfg       Config
	users     identity.Store
	tokens    Store
	codec     Codec
	hasher    token.Hasher
	passwords password.Config

	// dummyHash is verified when a login email is unknown so both failures cost one hash check.
	dummyHash string

	now     func() time.Time
	logger  *slog.Logger
	events  events.Publisher
	metrics *metrics.Auth
}

// Deps are the collaborators a Service cannot run without.
type Deps struct {
	Users     identity.Store
	Tokens    Store
	Codec     Codec
	Hasher    token.Hasher
	Passwords password.Config
}

// Option customizes a Service.
type Option func(*Service)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

func WithMetrics(m *metrics.Auth) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService wires a Service.
func NewService(cfg Config, deps Deps, opts ...Option) (*Service, error) {
	if deps.Users == nil || deps.Tokens == nil || deps.Codec == nil {
		return nil, fmt.Errorf("%w: session service needs users, tokens and codec", ErrConfig)
	}

	s := &Service{
		cfg:       cfg,
		users:     deps.Users,
		tokens:    deps.Tokens,
		codec:     deps.Codec,
		hasher:    deps.Hasher,
		passwords: deps.Passwords,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default(),
		events:    events.Nop{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	dummy, err := s.passwords.DummyHash()
	if err != nil {
		return nil, fmt.Errorf("session: dummy hash: %w", err)
	}
	s.dummyHash = dummy
	return s, nil
}

// Meta is request context recorded for audit only.
type Meta struct {
	UserAgent string
	IP        string
}

// Result is a freshly issued token pair. RefreshToken is the raw value for the cookie and must
// never be logged or stored.
type Result struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             identity.User
}

// RegisterInput is the registration request.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// LoginInput is the login request.
type LoginInput struct {
	Email    string
	Password string
}

// Register creates a PLAYER account with tokenVersion 0 and issues its first token pair.
func (s *Service) Register(ctx context.Context, in RegisterInput, meta Meta) (Result, error) {
	name := identity.NormalizeName(in.Name)
	email := identity.NormalizeEmail(in.Email)

	switch {
	case name == "":
		return Result{}, autherr.BadInput(MsgNameRequired, "name", nil)
	case email == "":
		return Result{}, autherr.BadInput(MsgEmailRequired, "email", nil)
	case in.Password == "":
		return Result{}, autherr.BadInput(MsgPasswordRequired, "password", nil)
	}

	_, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return Result{}, autherr.BadInput(MsgEmailTaken, "email", ErrEmailTaken)
	case !identity.IsNotFound(err):
		return Result{}, fmt.Errorf("session.Register: %w", err)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		if msg, ok := passwordPolicyMessage(err); ok {
			return Result{}, autherr.BadInput(msg, "password", err)
		}
		return Result{}, fmt.Errorf("session.Register: %w", err)
	}

	now := s.now()
	u, err := s.users.CreateUser(ctx, identity.CreateUserInput{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         identity.RolePlayer,
		Now:          now,
	})
	if err != nil {
		// Lost a race with a concurrent registration of the same email.
		if field, ok := identity.IsConflict(err); ok && field == "email" {
			return Result{}, autherr.BadInput(MsgEmailTaken, "email", ErrEmailTaken)
		}
		return Result{}, fmt.Errorf("session.Register: %w", err)
	}

	res, err := s.issue(ctx, u, now, meta)
	if err != nil {
		return Result{}, fmt.Errorf("session.Register: %w", err)
	}

	s.logger.Info("auth.register.ok", "user_id", u.ID)
	s.publish(ctx, events.Registered, u.ID, now, meta, nil)
	return res, nil
}

// Login verifies credentials and issues a new pair. Existing sessions stay valid.
func (s *Service) Login(ctx context.Context, in LoginInput, meta Meta) (Result, error) {
	email := identity.NormalizeEmail(in.Email)
	if email == "" {
		return Result{}, autherr.BadInput(MsgEmailRequired, "email", nil)
	}
	if in.Password == "" {
		return Result{}, autherr.BadInput(MsgPasswordRequired, "password", nil)
	}

	now := s.now()

	u, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if !identity.IsNotFound(err) {
			return Result{}, fmt.Errorf("session.Login: %w", err)
		}
		// Same cost as a real check so response time does not reveal the email exists.
		_, _ = s.passwords.Verify(s.dummyHash, in.Password)
		return Result{}, s.loginFailed(ctx, "", now, meta, "unknown_email")
	}

	ok, err := s.passwords.Verify(u.PasswordHash, in.Password)
	if err != nil {
		s.logger.Error("auth.login.bad_hash", "user_id", u.ID, "err", err)
		return Result{}, s.loginFailed(ctx, u.ID, now, meta, "bad_hash")
	}
	if !ok {
		return Result{}, s.loginFailed(ctx, u.ID, now, meta, "wrong_password")
	}

	res, err := s.issue(ctx, u, now, meta)
	if err != nil {
		return Result{}, fmt.Errorf("session.Login: %w", err)
	}

	s.metrics.Login("success")
	s.logger.Info("auth.login.ok", "user_id", u.ID)
	s.publish(ctx, events.LoginSucceeded, u.ID, now, meta, nil)
	return res, nil
}

func (s *Service) loginFailed(ctx context.Context, userID string, now time.Time, meta Meta, reason string) error {
	s.metrics.Login("invalid_credentials")
	s.logger.Warn("auth.login.fail", "reason", reason, "user_id", userID, "ip", meta.IP)
	s.publish(ctx, events.LoginFailed, userID, now, meta, map[string]string{"reason": reason})
	return autherr.Unauthenticated(MsgInvalidCredentials, ErrInvalidCredentials)
}

// RefreshTokens rotates a refresh token.
//
// The tokenVersion check runs before the store lookup so logout-all invalidates refresh tokens
// even while their records still exist. The record checks (missing, replayed, expired) and the
// rotation itself happen atomically in Store.Rotate.
func (s *Service) RefreshTokens(ctx context.Context, rawRefresh string, meta Meta) (Result, error) {
	// The stored hash must be of exactly the string the codec verified.
	rawRefresh = strings.TrimSpace(rawRefresh)
	now := s.now()

	claims, err := s.codec.VerifyRefresh(rawRefresh, now)
	if err != nil {
		s.metrics.Refresh("invalid_token")
		return Result{}, autherr.Unauthenticated(MsgInvalidOrExpired, ErrInvalidToken)
	}

	u, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			s.metrics.Refresh("user_not_found")
			return Result{}, autherr.Unauthenticated(MsgUserNotFound, ErrUserNotFound)
		}
		return Result{}, fmt.Errorf("session.RefreshTokens: %w", err)
	}

	if claims.TokenVersion != u.TokenVersion {
		s.metrics.Refresh("version_mismatch")
		return Result{}, autherr.Unauthenticated(MsgInvalidToken, ErrTokenVersionMismatch)
	}

	// Mint the replacement first; it only becomes valid if Rotate commits.
	access, accessExp, err := s.codec.SignAccess(u, now)
	if err != nil {
		return Result{}, fmt.Errorf("session.RefreshTokens: sign access: %w", err)
	}
	refresh, rc, err := s.codec.SignRefresh(u, now)
	if err != nil {
		return Result{}, fmt.Errorf("session.RefreshTokens: sign refresh: %w", err)
	}

	_, err = s.tokens.Rotate(ctx, now, s.hasher.HashHex(rawRefresh), NewRecord{
		UserID:    u.ID,
		TokenHash: s.hasher.HashHex(refresh),
		ExpiresAt: rc.ExpiresAt,
		UserAgent: meta.UserAgent,
		IP:        meta.IP,
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrRecordNotFound):
		s.metrics.Refresh("unknown_token")
		return Result{}, autherr.Unauthenticated(MsgInvalidToken, ErrRecordNotFound)
	case errors.Is(err, ErrReplayDetected):
		s.metrics.Refresh("replay")
		s.metrics.ReplayDetected()
		s.logger.Warn("auth.refresh.replay_detected", "user_id", u.ID, "ip", meta.IP)
		s.publish(ctx, events.ReplayDetected, u.ID, now, meta, nil)
		return Result{}, autherr.Unauthenticated(MsgCompromised, ErrReplayDetected)
	case errors.Is(err, ErrRecordExpired):
		s.metrics.Refresh("expired")
		return Result{}, autherr.Unauthenticated(MsgExpired, ErrRecordExpired)
	default:
		return Result{}, fmt.Errorf("session.RefreshTokens: %w", err)
	}

	s.metrics.Refresh("success")
	s.logger.Debug("auth.refresh.ok", "user_id", u.ID)
	s.publish(ctx, events.RefreshRotated, u.ID, now, meta, nil)

	return Result{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: rc.ExpiresAt,
		User:             u,
	}, nil
}

// Logout revokes the record of one refresh token. Unknown, expired or already revoked tokens
// succeed silently.
func (s *Service) Logout(ctx context.Context, rawRefresh string, meta Meta) error {
	rawRefresh = strings.TrimSpace(rawRefresh)
	if rawRefresh == "" {
		return nil
	}
	now := s.now()

	if err := s.tokens.Revoke(ctx, now, s.hasher.HashHex(rawRefresh)); err != nil {
		return fmt.Errorf("session.Logout: %w", err)
	}

	// The user id is only for the audit trail; a token that no longer verifies is logged anonymously.
	var userID string
	if c, err := s.codec.VerifyRefresh(rawRefresh, now); err == nil {
		userID = c.UserID
	}

	s.metrics.Logout("single")
	s.publish(ctx, events.LoggedOut, userID, now, meta, nil)
	return nil
}

// LogoutAll revokes every refresh record of the user and bumps tokenVersion, which also kills
// every access token already issued.
func (s *Service) LogoutAll(ctx context.Context, userID string, meta Meta) error {
	now := s.now()

	version, err := s.tokens.InvalidateUser(ctx, now, userID)
	if err != nil {
		if identity.IsNotFound(err) {
			return autherr.Unauthenticated(MsgUserNotFound, ErrUserNotFound)
		}
		return fmt.Errorf("session.LogoutAll: %w", err)
	}

	s.metrics.Logout("all")
	s.logger.Info("auth.logout_all.ok", "user_id", userID, "token_version", version)
	s.publish(ctx, events.LoggedOutAll, userID, now, meta, map[string]string{"tokenVersion": strconv.Itoa(version)})
	return nil
}

// GetUserFromAccessToken returns the token's user when the token verifies and its tokenVersion
// is still current.
func (s *Service) GetUserFromAccessToken(ctx context.Context, accessToken string) (identity.User, error) {
	claims, err := s.codec.VerifyAccess(accessToken, s.now())
	if err != nil {
		return identity.User{}, autherr.Unauthenticated(MsgInvalidOrExpired, ErrInvalidToken)
	}

	u, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.User{}, autherr.Unauthenticated(MsgUserNotFound, ErrUserNotFound)
		}
		return identity.User{}, fmt.Errorf("session.GetUserFromAccessToken: %w", err)
	}

	if claims.TokenVersion != u.TokenVersion {
		return identity.User{}, autherr.Unauthenticated(MsgInvalidToken, ErrTokenVersionMismatch)
	}
	return u, nil
}

// CleanupExpired deletes refresh records past their expiry.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	now := s.now()

	n, err := s.tokens.CleanupExpired(ctx, now)
	if err != nil {
		return n, fmt.Errorf("session.CleanupExpired: %w", err)
	}

	s.metrics.CleanupDeleted(n)
	s.logger.Info("auth.cleanup.ok", "deleted", n)
	if n > 0 {
		s.publish(ctx, events.ExpiredCleanedUp, "", now, Meta{}, map[string]string{"deleted": strconv.FormatInt(n, 10)})
	}
	return n, nil
}

func (s *Service) issue(ctx context.Context, u identity.User, now time.Time, meta Meta) (Result, error) {
	access, accessExp, err := s.codec.SignAccess(u, now)
	if err != nil {
		return Result{}, fmt.Errorf("sign access: %w", err)
	}
	refresh, rc, err := s.codec.SignRefresh(u, now)
	if err != nil {
		return Result{}, fmt.Errorf("sign refresh: %w", err)
	}

	if _, err := s.tokens.Create(ctx, now, NewRecord{
		UserID:    u.ID,
		TokenHash: s.hasher.HashHex(refresh),
		ExpiresAt: rc.ExpiresAt,
		UserAgent: meta.UserAgent,
		IP:        meta.IP,
	}); err != nil {
		return Result{}, err
	}

	return Result{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: rc.ExpiresAt,
		User:             u,
	}, nil
}

func (s *Service) publish(ctx context.Context, typ events.Type, userID string, now time.Time, meta Meta, extra map[string]string) {
	ev := events.Event{
		Type:       typ,
		UserID:     userID,
		OccurredAt: now,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
		Meta:       extra,
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn("auth.event.publish_fail", "type", string(typ), "err", err)
	}
}

func passwordPolicyMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, password.ErrPasswordTooShort):
		return MsgPasswordTooShort, true
	case errors.Is(err, password.ErrPasswordTooLong):
		return MsgPasswordTooLong, true
	case errors.Is(err, password.ErrWeakPassword):
		return MsgPasswordWeak, true
	}
	return "", false
}
