// Package token hashes refresh tokens for server-side storage.
//
// Only the 64-char hex digest produced here is ever persisted. Without a key the
// digest is plain SHA-256; with TOKEN_HMAC_KEY set it becomes HMAC-SHA256, which keeps
// a leaked table from being checked against guessed tokens offline.
package token
