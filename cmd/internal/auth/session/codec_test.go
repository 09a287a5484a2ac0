package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"schooltower/cmd/identity"
)

var codecNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig(format TokenFormat) Config {
	cfg := DefaultConfig()
	cfg.AccessSecret = testAccessSecret
	cfg.RefreshSecret = testRefreshSecret
	cfg.Format = format
	return cfg
}

func testUser() identity.User {
	return identity.User{
		ID:           "01HZX3T0000000000000000000",
		Name:         "Ana",
		Email:        "ana@tower.dev",
		Role:         identity.RoleTeacher,
		IsActive:     true,
		TokenVersion: 3,
	}
}

func eachCodec(t *testing.T, fn func(t *testing.T, c Codec)) {
	t.Helper()
	for _, format := range []TokenFormat{FormatJWT, FormatPaseto} {
		t.Run(string(format), func(t *testing.T) {
			t.Parallel()
			c, err := NewCodec(testConfig(format))
			if err != nil {
				t.Fatalf("NewCodec(%s): %v", format, err)
			}
			fn(t, c)
		})
	}
}

func TestCodec_AccessRoundTrip(t *testing.T) {
	t.Parallel()
	eachCodec(t, func(t *testing.T, c Codec) {
		u := testUser()
		tok, exp, err := c.SignAccess(u, codecNow)
		if err != nil {
			t.Fatalf("SignAccess: %v", err)
		}
		if !exp.Equal(codecNow.Add(15 * time.Minute)) {
			t.Fatalf("exp = %s", exp)
		}

		claims, err := c.VerifyAccess(tok, codecNow.Add(time.Minute))
		if err != nil {
			t.Fatalf("VerifyAccess: %v", err)
		}
		if claims.UserID != u.ID || claims.Email != u.Email || claims.Role != u.Role || claims.TokenVersion != 3 {
			t.Fatalf("unexpected claims: %+v", claims)
		}
		if !claims.ExpiresAt.Equal(exp) {
			t.Fatalf("claims exp = %s, want %s", claims.ExpiresAt, exp)
		}
	})
}

func TestCodec_RefreshRoundTrip(t *testing.T) {
	t.Parallel()
	eachCodec(t, func(t *testing.T, c Codec) {
		u := testUser()
		tok1, rc1, err := c.SignRefresh(u, codecNow)
		if err != nil {
			t.Fatalf("SignRefresh: %v", err)
		}
		tok2, rc2, err := c.SignRefresh(u, codecNow)
		if err != nil {
			t.Fatalf("SignRefresh: %v", err)
		}
		if tok1 == tok2 || rc1.TokenID == rc2.TokenID {
			t.Fatalf("refresh tokens minted in the same instant must differ")
		}
		if !rc1.ExpiresAt.Equal(codecNow.Add(7 * 24 * time.Hour)) {
			t.Fatalf("refresh exp = %s", rc1.ExpiresAt)
		}

		got, err := c.VerifyRefresh(tok1, codecNow.Add(6*24*time.Hour))
		if err != nil {
			t.Fatalf("VerifyRefresh: %v", err)
		}
		if got.UserID != u.ID || got.TokenVersion != 3 || got.TokenID != rc1.TokenID {
			t.Fatalf("unexpected claims: %+v", got)
		}
	})
}

func TestCodec_RejectsWrongKind(t *testing.T) {
	t.Parallel()
	eachCodec(t, func(t *testing.T, c Codec) {
		u := testUser()
		access, _, _ := c.SignAccess(u, codecNow)
		refresh, _, _ := c.SignRefresh(u, codecNow)

		if _, err := c.VerifyRefresh(access, codecNow); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("access token accepted as refresh: %v", err)
		}
		if _, err := c.VerifyAccess(refresh, codecNow); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("refresh token accepted as access: %v", err)
		}
	})
}

func TestCodec_RejectsExpired(t *testing.T) {
	t.Parallel()
	eachCodec(t, func(t *testing.T, c Codec) {
		u := testUser()
		access, _, _ := c.SignAccess(u, codecNow)
		refresh, _, _ := c.SignRefresh(u, codecNow)

		if _, err := c.VerifyAccess(access, codecNow.Add(16*time.Minute)); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expired access accepted: %v", err)
		}
		if _, err := c.VerifyRefresh(refresh, codecNow.Add(8*24*time.Hour)); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expired refresh accepted: %v", err)
		}
	})
}

func TestCodec_RejectsOtherSecrets(t *testing.T) {
	t.Parallel()
	for _, format := range []TokenFormat{FormatJWT, FormatPaseto} {
		cfg := testConfig(format)
		signer, err := NewCodec(cfg)
		if err != nil {
			t.Fatalf("NewCodec: %v", err)
		}
		cfg.AccessSecret = "another-access-secret-0123456789abcdef"
		cfg.RefreshSecret = "another-refresh-secret-0123456789abcdef"
		verifier, err := NewCodec(cfg)
		if err != nil {
			t.Fatalf("NewCodec: %v", err)
		}

		access, _, _ := signer.SignAccess(testUser(), codecNow)
		if _, err := verifier.VerifyAccess(access, codecNow); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: forged access accepted: %v", format, err)
		}
		refresh, _, _ := signer.SignRefresh(testUser(), codecNow)
		if _, err := verifier.VerifyRefresh(refresh, codecNow); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: forged refresh accepted: %v", format, err)
		}
	}
}

func TestCodec_RejectsGarbage(t *testing.T) {
	t.Parallel()
	eachCodec(t, func(t *testing.T, c Codec) {
		for _, tok := range []string{"", "   ", "abc", "a.b.c", "v4.local.AAAA"} {
			if _, err := c.VerifyAccess(tok, codecNow); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("VerifyAccess(%q) = %v", tok, err)
			}
			if _, err := c.VerifyRefresh(tok, codecNow); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("VerifyRefresh(%q) = %v", tok, err)
			}
		}
	})
}

func TestJWTCodec_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	c, err := NewJWTCodec(testConfig(FormatJWT))
	if err != nil {
		t.Fatalf("NewJWTCodec: %v", err)
	}
	u := testUser()
	claims := accessJWT{
		UserID:           u.ID,
		Email:            u.Email,
		Role:             string(u.Role),
		TokenVersion:     u.TokenVersion,
		Kind:             kindAccess,
		RegisteredClaims: c.registered(codecNow, codecNow.Add(time.Minute), u.ID),
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := c.VerifyAccess(none, codecNow); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("alg none accepted: %v", err)
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testAccessSecret))
	if err != nil {
		t.Fatalf("sign hs512: %v", err)
	}
	if _, err := c.VerifyAccess(hs512, codecNow); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("HS512 accepted: %v", err)
	}
}

func TestJWTCodec_RejectsForeignIssuer(t *testing.T) {
	t.Parallel()

	cfg := testConfig(FormatJWT)
	cfg.Issuer = "someone-else"
	foreign, err := NewJWTCodec(cfg)
	if err != nil {
		t.Fatalf("NewJWTCodec: %v", err)
	}
	ours, err := NewJWTCodec(testConfig(FormatJWT))
	if err != nil {
		t.Fatalf("NewJWTCodec: %v", err)
	}

	tok, _, _ := foreign.SignAccess(testUser(), codecNow)
	if _, err := ours.VerifyAccess(tok, codecNow); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign issuer accepted: %v", err)
	}
}

func TestNewCodec_RejectsEqualSecrets(t *testing.T) {
	t.Parallel()

	cfg := testConfig(FormatJWT)
	cfg.RefreshSecret = cfg.AccessSecret
	if _, err := NewCodec(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

// flipPaddingBit toggles the lowest bit of the final base64url character. For a 32-byte HS256
// signature those bits carry no data, so a lax decoder maps both strings to the same bytes.
func flipPaddingBit(tok string) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"
	last := strings.IndexByte(alphabet, tok[len(tok)-1])
	return tok[:len(tok)-1] + string(alphabet[last^1])
}

func TestJWTCodec_RejectsNonCanonicalSignature(t *testing.T) {
	t.Parallel()

	c, err := NewJWTCodec(testConfig(FormatJWT))
	if err != nil {
		t.Fatalf("NewJWTCodec: %v", err)
	}
	refresh, _, err := c.SignRefresh(testUser(), codecNow)
	if err != nil {
		t.Fatalf("SignRefresh: %v", err)
	}

	altered := flipPaddingBit(refresh)
	if altered == refresh {
		t.Fatalf("alteration produced the same token")
	}
	if _, err := c.VerifyRefresh(altered, codecNow); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("non-canonical signature accepted: %v", err)
	}
	if _, err := c.VerifyRefresh(refresh, codecNow); err != nil {
		t.Fatalf("canonical token rejected: %v", err)
	}
}
