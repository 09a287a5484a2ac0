package session

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TokenFormat selects the Codec implementation.
type TokenFormat string

const (
	FormatJWT    TokenFormat = "jwt"
	FormatPaseto TokenFormat = "paseto"
)

// MinSecretBytes is the minimum length of each signing secret.
const MinSecretBytes = 32

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// Issuer is set as the "iss" claim and required on verification.
	Issuer string

	AccessSecret  string
	RefreshSecret string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	Format TokenFormat
}

// DefaultConfig returns everything except the secrets.
func DefaultConfig() Config {
	return Config{
		Issuer:     "schooltower",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Format:     FormatJWT,
	}
}

// Validate enforces secret separation and sane lifetimes.
func (c Config) Validate() error {
	if len(c.AccessSecret) < MinSecretBytes {
		return fmt.Errorf("%w: JWT_ACCESS_SECRET must be at least %d bytes", ErrConfig, MinSecretBytes)
	}
	if len(c.RefreshSecret) < MinSecretBytes {
		return fmt.Errorf("%w: JWT_REFRESH_SECRET must be at least %d bytes", ErrConfig, MinSecretBytes)
	}
	if c.AccessSecret == c.RefreshSecret {
		return fmt.Errorf("%w: access and refresh secrets must differ", ErrConfig)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("%w: token lifetimes must be positive", ErrConfig)
	}
	if c.AccessTTL >= c.RefreshTTL {
		return fmt.Errorf("%w: access lifetime must be shorter than refresh lifetime", ErrConfig)
	}
	switch c.Format {
	case FormatJWT, FormatPaseto:
	default:
		return fmt.Errorf("%w: unknown TOKEN_FORMAT %q", ErrConfig, c.Format)
	}
	return nil
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - JWT_ACCESS_SECRET
//   - JWT_REFRESH_SECRET
//
// Optional:
//   - JWT_ACCESS_EXPIRES_IN (default 15m)
//   - JWT_REFRESH_EXPIRES_IN (default 7d)
//   - TOKEN_FORMAT (jwt|paseto, default jwt)
//   - AUTH_ISSUER
//
// Returns an error wrapping ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.AccessSecret = os.Getenv("JWT_ACCESS_SECRET")
	cfg.RefreshSecret = os.Getenv("JWT_REFRESH_SECRET")

	if v := strings.TrimSpace(os.Getenv("AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := strings.TrimSpace(os.Getenv("JWT_ACCESS_EXPIRES_IN")); v != "" {
		d, err := ParseTTL(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: JWT_ACCESS_EXPIRES_IN: %v", ErrConfig, err)
		}
		cfg.AccessTTL = d
	}

	if v := strings.TrimSpace(os.Getenv("JWT_REFRESH_EXPIRES_IN")); v != "" {
		d, err := ParseTTL(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: JWT_REFRESH_EXPIRES_IN: %v", ErrConfig, err)
		}
		cfg.RefreshTTL = d
	}

	if v := strings.TrimSpace(os.Getenv("TOKEN_FORMAT")); v != "" {
		cfg.Format = TokenFormat(strings.ToLower(v))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseTTL parses a Go duration ("15m", "168h") or a whole number of days ("7d").
// A bare integer is read as seconds.
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}

	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("duration must be positive")
		}
		return time.Duration(n) * time.Second, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return d, nil
}
