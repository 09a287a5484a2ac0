package session

import "errors"

var (
	// ErrInvalidToken covers every codec verification failure: malformed, forged, expired,
	// wrong kind or missing claims. Callers cannot tell which.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUserNotFound is returned when a token's subject no longer exists.
	ErrUserNotFound = errors.New("user not found")

	// ErrTokenVersionMismatch is returned when a token predates the user's current tokenVersion.
	ErrTokenVersionMismatch = errors.New("token version mismatch")

	// ErrRecordNotFound is returned when no refresh record matches the token hash.
	ErrRecordNotFound = errors.New("refresh record not found")

	// ErrReplayDetected is returned after an already revoked refresh token was presented.
	// By the time it is returned every refresh record of the user is revoked and the
	// tokenVersion has been bumped.
	ErrReplayDetected = errors.New("refresh token replay detected")

	// ErrRecordExpired is returned for an unrevoked record past its expiry.
	ErrRecordExpired = errors.New("refresh record expired")

	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrEmailTaken is returned by register for an existing email.
	ErrEmailTaken = errors.New("email already registered")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// User-visible messages.
const (
	MsgEmailTaken         = "Email já cadastrado"
	MsgInvalidCredentials = "Email ou senha inválidos"
	MsgInvalidOrExpired   = "Token inválido ou expirado"
	MsgUserNotFound       = "Usuário não encontrado"
	MsgInvalidToken       = "Token inválido"
	MsgCompromised        = "Token comprometido. Faça login novamente."
	MsgExpired            = "Token expirado"
	MsgNameRequired       = "Nome é obrigatório"
	MsgEmailRequired      = "Email é obrigatório"
	MsgPasswordRequired   = "Senha é obrigatória"
	MsgPasswordTooShort   = "Senha muito curta"
	MsgPasswordTooLong    = "Senha muito longa"
	MsgPasswordWeak       = "Senha muito fraca"
)
