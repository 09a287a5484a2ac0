package authapi

import (
	"testing"
	"time"
)

func clearAPIEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"TRUST_PROXY", "GRAPHQL_MAX_BODY_BYTES", "GRAPHQL_MAX_DEPTH", "COOKIE_PATH", "COOKIE_DOMAIN", "COOKIE_SECURE", "APP_ENV"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	clearAPIEnv(t)

	cfg := LoadConfigFromEnv()
	if cfg.CookiePath != "/graphql" || cfg.CookieSecure || cfg.TrustProxy {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.CookieMaxAge != 7*24*time.Hour || cfg.MaxBodyBytes != 1<<20 || cfg.MaxQueryDepth != 10 {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_ProductionCookies(t *testing.T) {
	clearAPIEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("COOKIE_PATH", "/api/graphql")

	cfg := LoadConfigFromEnv()
	if !cfg.CookieSecure {
		t.Fatalf("production cookies must be secure")
	}
	if cfg.CookiePath != "/api/graphql" {
		t.Fatalf("cookie path = %q", cfg.CookiePath)
	}

	t.Setenv("COOKIE_SECURE", "false")
	if LoadConfigFromEnv().CookieSecure {
		t.Fatalf("explicit COOKIE_SECURE=false must win")
	}
}

func TestLoadConfigFromEnv_InvalidNumbersFallBack(t *testing.T) {
	clearAPIEnv(t)
	t.Setenv("GRAPHQL_MAX_BODY_BYTES", "-1")
	t.Setenv("GRAPHQL_MAX_DEPTH", "deep")

	cfg := LoadConfigFromEnv()
	if cfg.MaxBodyBytes != 1<<20 || cfg.MaxQueryDepth != 10 {
		t.Fatalf("invalid values must fall back: %+v", cfg)
	}
}
