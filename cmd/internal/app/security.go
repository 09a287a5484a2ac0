package app

import (
	"errors"

	"schooltower/cmd/security/token"
)

// tokenHasher enforces the refresh-token hashing policy at startup and returns the hasher to use.
//
// Fail-fast: under REQUIRE_TOKEN_HMAC a missing or short key stops the process instead of
// silently falling back to plain SHA-256.
func tokenHasher(cfg Config) (token.Hasher, error) {
	h, err := token.HasherFromEnv(cfg.RequireTokenHMAC)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return token.Hasher{}, errors.New("security policy: REQUIRE_TOKEN_HMAC=true but TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return token.Hasher{}, errors.New("security policy: REQUIRE_TOKEN_HMAC=true but TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return token.Hasher{}, err
		}
	}

	if cfg.RequireTokenHMAC && !h.HMAC() {
		return token.Hasher{}, errors.New("security policy: REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}
	return h, nil
}
