// Package password hashes and verifies user passwords.
//
// New hashes use bcrypt by default (cost from BCRYPT_COST). Argon2id hashes in the
// $argon2id$v=19$... format are verified as well and can be selected for new hashes with
// PASSWORD_ALGORITHM=argon2id. Verification always goes through the primitive's own
// comparison; raw strings are never compared.
//
// Hash strings are treated as untrusted input: malformed hashes and argon2id parameters far
// beyond the configured ones are rejected with ErrInvalidHash.
package password
