// Package app wires the School Tower server runtime: config, logging, stores, the auth core,
// HTTP routes and the session socket.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"schooltower/cmd/identity"
	authapi "schooltower/cmd/internal/auth/api"
	"schooltower/cmd/internal/auth/session"
	"schooltower/cmd/internal/events"
	"schooltower/cmd/internal/metrics"
	"schooltower/cmd/internal/realtime"
	"schooltower/cmd/security/password"
)

// App is the server runtime: it owns the stores, the session service and the HTTP server wiring.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	metrics  *metrics.Registry
	sessions *session.Service
	auth     *authapi.Handler
	hub      *realtime.Hub
	ws       *realtime.WSGateway

	redis       *redis.Client
	revocations *events.RedisBroadcaster

	// closers run after the HTTP server stopped, in order.
	closers []io.Closer

	now func() time.Time
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		metrics: metrics.New(),
		now:     time.Now,
	}

	hasher, err := tokenHasher(cfg)
	if err != nil {
		return nil, err
	}
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	passwords, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	codec, err := session.NewCodec(sessCfg)
	if err != nil {
		return nil, err
	}

	users, tokens, err := a.newStores(ctx)
	if err != nil {
		return nil, err
	}

	a.hub = realtime.NewHub(log)
	pub := a.newPublisher(ctx)

	a.sessions, err = session.NewService(sessCfg, session.Deps{
		Users:     users,
		Tokens:    tokens,
		Codec:     codec,
		Hasher:    hasher,
		Passwords: passwords,
	},
		session.WithLogger(log),
		session.WithPublisher(pub),
		session.WithMetrics(a.metrics.Auth),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	a.auth, err = authapi.NewHandler(log, authapi.LoadConfigFromEnv(), a.sessions, users, authapi.WithPublisher(pub))
	if err != nil {
		a.close()
		return nil, err
	}

	wsCfg := cfg.WS
	if len(wsCfg.AllowedOrigins) == 0 {
		wsCfg = realtime.DefaultGatewayConfig(cfg.CORSAllowedOrigins)
	}
	a.ws = realtime.NewWSGateway(log, a.hub, a.sessions, wsCfg)

	log.Info("app.ready",
		"env", cfg.AppEnv,
		"db_enabled", a.dbEnabled,
		"token_format", sessCfg.Format,
		"token_hmac", hasher.HMAC(),
		"redis", a.redis != nil,
		"amqp", cfg.RabbitMQURL != "",
	)
	return a, nil
}

// newStores decides between Postgres-backed persistence and in-memory dev stores.
func (a *App) newStores(ctx context.Context) (identity.Store, session.Store, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Warn("db.disabled.inmemory_store")
		users := identity.NewInMemoryStore()
		return users, session.NewInMemoryStore(users), nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	a.dbPool = pool
	a.dbEnabled = true

	if a.cfg.RunMigrations {
		if err := MigrateDB(ctx, pool, a.cfg, a.log); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("db migrate: %w", err)
		}
	}

	users, err := identity.NewPostgresStore(pool, identity.WithSchema(a.cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	tokens, err := session.NewPostgresStore(pool, session.WithSchema(a.cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema)
	return users, tokens, nil
}

// newPublisher fans security events out to the log, the broker when configured and the
// revocation path. With redis, revocations travel through the channel so every instance (this
// one included) kicks the user's sockets. Without it the local hub is notified directly.
func (a *App) newPublisher(ctx context.Context) events.Publisher {
	pubs := events.Multi{events.LogPublisher{Logger: a.log}}

	if a.cfg.RabbitMQURL != "" {
		amqpPub := events.NewAMQPPublisher(a.cfg.RabbitMQURL, a.cfg.RabbitMQQueue)
		a.closers = append(a.closers, amqpPub)
		pubs = append(pubs, amqpPub)
	}

	if a.cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			a.redis = client
			a.revocations = events.NewRedisBroadcaster(client, a.cfg.RedisChannel, a.log)
			a.closers = append(a.closers, client)
			return append(pubs, a.revocations)
		}
		a.log.Warn("redis.unavailable", "addr", a.cfg.RedisAddr, "err", err)
		_ = client.Close()
	}

	return append(pubs, a.hub)
}

// Handler builds the full HTTP handler: server-level middleware around the router.
func (a *App) Handler() http.Handler {
	rt := routes{
		log:       a.log,
		cfg:       a.cfg,
		dbPool:    a.dbPool,
		dbEnabled: a.dbEnabled,
		metrics:   a.metrics,
		auth:      a.auth,
		ws:        a.ws,
		cleaner:   a.sessions,
		now:       a.now,
	}

	var h http.Handler = rt.router()
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithRecover(h, a.log)
	return WithRequestLogging(h, a.log)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"graphql", base+"/graphql",
		"ws", wsBaseURL(base)+"/ws",
		"db_enabled", a.dbEnabled,
	)

	bgCtx, stopBackground := context.WithCancel(ctx)
	var bg sync.WaitGroup

	if a.cfg.CleanupInterval > 0 {
		bg.Add(1)
		go func() {
			defer bg.Done()
			a.sweep(bgCtx, a.cfg.CleanupInterval)
		}()
	}

	if a.revocations != nil {
		bg.Add(1)
		go func() {
			defer bg.Done()
			err := a.revocations.Subscribe(bgCtx, func(ev events.Event) {
				_ = a.hub.Publish(bgCtx, ev)
			})
			if err != nil {
				a.log.Error("redis.subscribe.fail", "err", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if runErr == nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			runErr = err
		}
	}

	stopBackground()
	bg.Wait()
	a.close()

	a.log.Info("server.stopped")
	return runErr
}

// sweep deletes expired refresh records every interval until ctx is done.
func (a *App) sweep(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := a.sessions.CleanupExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					a.log.Error("cleanup.fail", "trigger", "sweeper", "err", err)
				}
				continue
			}
			a.log.Debug("cleanup.done", "trigger", "sweeper", "deleted", n)
		}
	}
}

func (a *App) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.log.Error("close.fail", "err", err)
		}
	}
	a.closers = nil
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
