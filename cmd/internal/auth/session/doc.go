// Package session implements the token lifecycle: register, login, refresh rotation with replay
// detection, logout and logout-all.
//
// Access tokens are short-lived and stateless. Refresh tokens are long-lived, signed with a
// different secret, and tracked server-side only by their hash (SHA-256 hex, or HMAC-SHA256 when
// TOKEN_HMAC_KEY is set). Each user carries a tokenVersion counter embedded in every token; bumping
// it kills every outstanding token of that user at once.
//
// Reuse of an already rotated refresh token revokes every refresh record of the user and bumps
// the version inside the same store transaction before the error is returned.
package session
