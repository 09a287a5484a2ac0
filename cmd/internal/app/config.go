package app

import (
	"net"
	"strings"
	"time"

	"schooltower/cmd/internal/realtime"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	AppEnv    string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseURL   string
	DBSchema      string
	DBMaxConns    int32
	DBMinConns    int32
	RunMigrations bool

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and refresh-token hashing is HMAC-based.
	RequireTokenHMAC bool

	FrontendURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	SentryDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	RabbitMQURL   string
	RabbitMQQueue string

	CleanupInterval time.Duration
	CronSecret      string

	WS realtime.GatewayConfig
}

// LoadConfig loads Config from environment variables with defaults. A .env file is read first
// when present.
func LoadConfig() Config {
	LoadDotEnv()

	frontend := EnvString("FRONTEND_URL", "http://localhost:3000")

	return Config{
		HTTPAddr:  httpAddrFromEnv(),
		AppEnv:    EnvString("APP_ENV", "development"),
		LogLevel:  EnvString("LOG_LEVEL", "info"),
		LogFormat: EnvString("LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),

		MaxHeaderBytes: EnvInt("HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:   EnvString("DATABASE_URL", ""),
		DBSchema:      EnvString("DB_SCHEMA", "public"),
		DBMaxConns:    EnvInt32("DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("DB_MIN_CONNS", 0),
		RunMigrations: EnvBool("RUN_MIGRATIONS", true),

		ReadinessRequireDB: EnvBool("READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   EnvBool("REQUIRE_TOKEN_HMAC", false),

		FrontendURL:          frontend,
		CORSAllowedOrigins:   EnvCSV("CORS_ALLOWED_ORIGINS", frontend),
		CORSAllowCredentials: EnvBool("CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("CORS_MAX_AGE_SECONDS", 600),

		SentryDSN: EnvString("SENTRY_DSN", ""),

		RedisAddr:     EnvString("REDIS_ADDR", ""),
		RedisPassword: EnvString("REDIS_PASSWORD", ""),
		RedisDB:       EnvIntAllowZero("REDIS_DB", 0),
		RedisChannel:  EnvString("REDIS_REVOCATION_CHANNEL", ""),

		RabbitMQURL:   EnvString("RABBITMQ_URL", ""),
		RabbitMQQueue: EnvString("RABBITMQ_QUEUE", ""),

		CleanupInterval: EnvDurationAllowZero("CLEANUP_INTERVAL", time.Hour),
		CronSecret:      EnvString("CRON_SECRET", ""),

		WS: gatewayConfigFromEnv(frontend),
	}
}

// gatewayConfigFromEnv reads WS_* overrides on top of the socket defaults. The origin allowlist
// follows FRONTEND_URL unless WS_ALLOWED_ORIGINS is set.
func gatewayConfigFromEnv(frontend string) realtime.GatewayConfig {
	c := realtime.DefaultGatewayConfig(EnvCSV("WS_ALLOWED_ORIGINS", frontend))
	c.OriginRequired = EnvBool("WS_ORIGIN_REQUIRED", c.OriginRequired)
	c.WriteTimeout = EnvDuration("WS_WRITE_TIMEOUT", c.WriteTimeout)
	c.ReadIdleTimeout = EnvDuration("WS_READ_IDLE_TIMEOUT", c.ReadIdleTimeout)
	c.SendQueueSize = EnvInt("WS_SEND_QUEUE", c.SendQueueSize)
	c.HeartbeatEvery = EnvDuration("WS_HEARTBEAT_INTERVAL", c.HeartbeatEvery)
	c.HeartbeatTimeout = EnvDuration("WS_HEARTBEAT_TIMEOUT", c.HeartbeatTimeout)
	c.RateEvents = EnvInt("WS_RATE_EVENTS", c.RateEvents)
	c.RateWindow = EnvDuration("WS_RATE_WINDOW", c.RateWindow)
	return c
}

// Production reports whether APP_ENV is production.
func (c Config) Production() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), "production")
}

// httpAddrFromEnv prefers HTTP_ADDR, then PORT on all interfaces.
func httpAddrFromEnv() string {
	if addr := EnvString("HTTP_ADDR", ""); addr != "" {
		return addr
	}
	return net.JoinHostPort("0.0.0.0", EnvString("PORT", "4000"))
}
