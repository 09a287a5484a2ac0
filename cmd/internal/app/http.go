package app

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"

	authapi "schooltower/cmd/internal/auth/api"
	"schooltower/cmd/internal/metrics"
	"schooltower/cmd/internal/realtime"
)

// Cleaner deletes expired refresh records. The session service implements it.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

type routes struct {
	log       Logger
	cfg       Config
	dbPool    *pgxpool.Pool
	dbEnabled bool
	metrics   *metrics.Registry
	auth      *authapi.Handler
	ws        *realtime.WSGateway
	cleaner   Cleaner
	now       func() time.Time
}

func (rt routes) router() *mux.Router {
	r := mux.NewRouter()
	if rt.metrics != nil {
		r.Use(metricsMiddleware(rt.metrics.HTTP))
	}

	r.HandleFunc("/health", rt.health).Methods(http.MethodGet)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/readyz", rt.ready).Methods(http.MethodGet)

	if rt.metrics != nil {
		r.Handle("/metrics", rt.metrics.Handler()).Methods(http.MethodGet)
	}

	if rt.auth != nil {
		rt.auth.Register(r)
	}

	if rt.ws != nil {
		r.Handle("/ws", rt.ws).Methods(http.MethodGet)
	}

	r.HandleFunc("/internal/cleanup", rt.cleanup).Methods(http.MethodPost)

	return r
}

func (rt routes) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": rt.now().UTC().Format(time.RFC3339Nano),
	})
}

func (rt routes) ready(w http.ResponseWriter, r *http.Request) {
	if rt.cfg.ReadinessRequireDB && !rt.dbEnabled {
		http.Error(w, "db not configured", http.StatusServiceUnavailable)
		return
	}

	if rt.dbEnabled && rt.dbPool != nil {
		if err := PingDB(r.Context(), rt.dbPool, 2*time.Second); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			rt.log.Info("readyz.db.not_ready", "err", err)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}

// cleanup lets an external scheduler trigger the expired-record sweep. It is hidden (404) unless
// CRON_SECRET is configured.
func (rt routes) cleanup(w http.ResponseWriter, r *http.Request) {
	secret := strings.TrimSpace(rt.cfg.CronSecret)
	if secret == "" || rt.cleaner == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	scheme, given, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(given)), []byte(secret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	n, err := rt.cleaner.CleanupExpired(r.Context())
	if err != nil {
		rt.log.Error("cleanup.fail", "trigger", "http", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	rt.log.Info("cleanup.done", "trigger", "http", "deleted", n)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
