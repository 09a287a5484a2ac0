package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:4000", want: "http://127.0.0.1:4000"},
		{name: "bind all v4", in: "0.0.0.0:4000", want: "http://127.0.0.1:4000"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
		{name: "port only", in: ":4000", want: "http://127.0.0.1:4000"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:4000", want: "ws://127.0.0.1:4000"},
		{in: "https://api.school.example", want: "wss://api.school.example"},
		{in: "127.0.0.1:4000", want: "ws://127.0.0.1:4000"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "PORT", "APP_ENV", "FRONTEND_URL", "CORS_ALLOWED_ORIGINS", "CLEANUP_INTERVAL", "RUN_MIGRATIONS"} {
		t.Setenv(k, "")
	}

	cfg := LoadConfig()
	if cfg.HTTPAddr != "0.0.0.0:4000" {
		t.Fatalf("addr = %q", cfg.HTTPAddr)
	}
	if cfg.Production() {
		t.Fatalf("default env must not be production")
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "http://localhost:3000" {
		t.Fatalf("cors origins = %v", cfg.CORSAllowedOrigins)
	}
	if cfg.CleanupInterval != time.Hour || !cfg.RunMigrations {
		t.Fatalf("cleanup=%s migrations=%v", cfg.CleanupInterval, cfg.RunMigrations)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("PORT", "8081")
	t.Setenv("APP_ENV", "Production")
	t.Setenv("FRONTEND_URL", "https://school.example")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	t.Setenv("CLEANUP_INTERVAL", "0")
	t.Setenv("REDIS_DB", "2")

	cfg := LoadConfig()
	if cfg.HTTPAddr != "0.0.0.0:8081" {
		t.Fatalf("addr = %q", cfg.HTTPAddr)
	}
	if !cfg.Production() {
		t.Fatalf("expected production")
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "https://school.example" {
		t.Fatalf("cors should follow FRONTEND_URL: %v", cfg.CORSAllowedOrigins)
	}
	if cfg.CleanupInterval != 0 {
		t.Fatalf("CLEANUP_INTERVAL=0 should disable the sweeper, got %s", cfg.CleanupInterval)
	}
	if cfg.RedisDB != 2 {
		t.Fatalf("redis db = %d", cfg.RedisDB)
	}
}

func TestGatewayConfigFromEnv(t *testing.T) {
	t.Setenv("WS_ALLOWED_ORIGINS", "")
	t.Setenv("WS_ORIGIN_REQUIRED", "false")
	t.Setenv("WS_HEARTBEAT_INTERVAL", "10s")
	t.Setenv("WS_RATE_EVENTS", "junk")

	cfg := gatewayConfigFromEnv("https://school.example")
	if cfg.OriginRequired {
		t.Fatalf("origin should not be required")
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://school.example" {
		t.Fatalf("allowed origins = %v", cfg.AllowedOrigins)
	}
	if cfg.HeartbeatEvery != 10*time.Second {
		t.Fatalf("heartbeat = %s", cfg.HeartbeatEvery)
	}
	if cfg.RateEvents != 30 {
		t.Fatalf("invalid WS_RATE_EVENTS should keep the default, got %d", cfg.RateEvents)
	}
}

func TestTokenHasherPolicy(t *testing.T) {
	t.Setenv("TOKEN_HMAC_KEY", "")
	if _, err := tokenHasher(Config{RequireTokenHMAC: true}); err == nil {
		t.Fatalf("missing key must fail under policy")
	}
	h, err := tokenHasher(Config{})
	if err != nil || h.HMAC() {
		t.Fatalf("without policy a missing key falls back to sha256: hmac=%v err=%v", h.HMAC(), err)
	}

	t.Setenv("TOKEN_HMAC_KEY", "short")
	if _, err := tokenHasher(Config{RequireTokenHMAC: true}); err == nil {
		t.Fatalf("short key must fail under policy")
	}

	t.Setenv("TOKEN_HMAC_KEY", strings.Repeat("k", 32))
	h, err = tokenHasher(Config{RequireTokenHMAC: true})
	if err != nil || !h.HMAC() {
		t.Fatalf("expected hmac hasher: hmac=%v err=%v", h.HMAC(), err)
	}
}

func newInMemoryApp(t *testing.T, cfg Config) *App {
	t.Helper()

	t.Setenv("JWT_ACCESS_SECRET", strings.Repeat("a", 40))
	t.Setenv("JWT_REFRESH_SECRET", strings.Repeat("r", 40))
	t.Setenv("TOKEN_HMAC_KEY", "")
	t.Setenv("BCRYPT_COST", "4")

	cfg.DatabaseURL = ""
	cfg.RedisAddr = ""
	cfg.RabbitMQURL = ""
	if cfg.CORSAllowedOrigins == nil {
		cfg.CORSAllowedOrigins = []string{"http://localhost:3000"}
	}

	a, err := New(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	a.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return a
}

func TestApp_HealthAndReadiness(t *testing.T) {
	a := newInMemoryApp(t, Config{})
	h := a.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["timestamp"] != "2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected health body: %v", body)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz without db requirement = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Fatalf("metrics endpoint broken: %d", rr.Code)
	}
}

func TestApp_ReadinessRequiresDB(t *testing.T) {
	a := newInMemoryApp(t, Config{ReadinessRequireDB: true})

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestApp_GraphQLPreflightAndRegister(t *testing.T) {
	a := newInMemoryApp(t, Config{CORSAllowCredentials: true})
	h := a.Handler()

	pre := httptest.NewRequest(http.MethodOptions, "/graphql", nil)
	pre.Header.Set("Origin", "http://localhost:3000")
	pre.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, pre)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rr.Code)
	}

	q := `{"query":"mutation { register(input:{name:\"Ana\", email:\"ana@school.example\", password:\"c0rrect-Horse\"}) { accessToken user { email role } } }"}`
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(q))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://localhost:3000")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("graphql status = %d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"role":"PLAYER"`) {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("cors header missing on actual request")
	}

	var refresh *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == "refreshToken" {
			refresh = c
		}
	}
	if refresh == nil || !refresh.HttpOnly {
		t.Fatalf("refresh cookie missing or not HttpOnly")
	}
}

func TestApp_CleanupEndpoint(t *testing.T) {
	hidden := newInMemoryApp(t, Config{})
	rr := httptest.NewRecorder()
	hidden.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/internal/cleanup", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("cleanup without CRON_SECRET should be hidden, got %d", rr.Code)
	}

	a := newInMemoryApp(t, Config{CronSecret: "cron-secret"})
	h := a.Handler()

	cases := []struct {
		name   string
		auth   string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "Basic cron-secret", http.StatusUnauthorized},
		{"ok", "bearer cron-secret", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/internal/cleanup", nil)
		if tc.auth != "" {
			req.Header.Set("Authorization", tc.auth)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != tc.status {
			t.Fatalf("%s: status = %d, want %d", tc.name, rr.Code, tc.status)
		}
		if tc.status == http.StatusOK && !strings.Contains(rr.Body.String(), `"deleted":0`) {
			t.Fatalf("unexpected body: %s", rr.Body.String())
		}
	}
}

func TestApp_SweeperStopsWithContext(t *testing.T) {
	a := newInMemoryApp(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.sweep(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("sweeper did not stop")
	}
}
