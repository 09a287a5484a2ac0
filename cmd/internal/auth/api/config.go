package authapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RefreshCookieName is the cookie carrying the raw refresh token.
const RefreshCookieName = "refreshToken"

// Config controls the GraphQL transport and the refresh cookie.
type Config struct {
	TrustProxy    bool
	MaxBodyBytes  int64
	MaxQueryDepth int

	CookiePath   string
	CookieDomain string
	CookieSecure bool
	CookieMaxAge time.Duration
}

// LoadConfigFromEnv loads transport config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:    envBool("TRUST_PROXY", false),
		MaxBodyBytes:  envInt64("GRAPHQL_MAX_BODY_BYTES", 1<<20), // 1 MiB
		MaxQueryDepth: envInt("GRAPHQL_MAX_DEPTH", 10),
		CookiePath:    strings.TrimSpace(os.Getenv("COOKIE_PATH")),
		CookieDomain:  strings.TrimSpace(os.Getenv("COOKIE_DOMAIN")),
		CookieSecure:  strings.EqualFold(strings.TrimSpace(os.Getenv("APP_ENV")), "production"),
		CookieMaxAge:  7 * 24 * time.Hour,
	}

	if cfg.CookiePath == "" {
		cfg.CookiePath = "/graphql"
	}
	// An explicit override wins over the environment default.
	if v := strings.TrimSpace(os.Getenv("COOKIE_SECURE")); v != "" {
		cfg.CookieSecure = envBool("COOKIE_SECURE", cfg.CookieSecure)
	}
	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
