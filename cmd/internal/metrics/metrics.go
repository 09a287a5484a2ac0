// Package metrics owns the process prometheus registry and the auth counters.
//
// All recording methods are nil-safe so packages can run without metrics in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "schooltower"

// Registry bundles the registry with the collectors the app records into.
type Registry struct {
	reg  *prometheus.Registry
	Auth *Auth
	HTTP *HTTP
}

// New builds a registry with go/process collectors plus the app collectors.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{
		reg:  reg,
		Auth: NewAuth(reg),
		HTTP: NewHTTP(reg),
	}
}

// Handler serves the registry in the prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Auth counts token lifecycle outcomes.
type Auth struct {
	logins   *prometheus.CounterVec
	refresh  *prometheus.CounterVec
	replays  prometheus.Counter
	logouts  *prometheus.CounterVec
	cleanups prometheus.Counter
}

func NewAuth(reg prometheus.Registerer) *Auth {
	a := &Auth{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "refresh_total",
			Help: "Refresh attempts by result.",
		}, []string{"result"}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "replay_detected_total",
			Help: "Reuse of already rotated refresh tokens.",
		}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "logout_total",
			Help: "Logouts by scope (single, all).",
		}, []string{"scope"}),
		cleanups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "cleanup_deleted_total",
			Help: "Expired refresh records deleted by cleanup.",
		}),
	}
	reg.MustRegister(a.logins, a.refresh, a.replays, a.logouts, a.cleanups)
	return a
}

func (a *Auth) Login(result string) {
	if a == nil {
		return
	}
	a.logins.WithLabelValues(result).Inc()
}

func (a *Auth) Refresh(result string) {
	if a == nil {
		return
	}
	a.refresh.WithLabelValues(result).Inc()
}

func (a *Auth) ReplayDetected() {
	if a == nil {
		return
	}
	a.replays.Inc()
}

func (a *Auth) Logout(scope string) {
	if a == nil {
		return
	}
	a.logouts.WithLabelValues(scope).Inc()
}

func (a *Auth) CleanupDeleted(n int64) {
	if a == nil || n <= 0 {
		return
	}
	a.cleanups.Add(float64(n))
}

// HTTP records request latency.
type HTTP struct {
	duration *prometheus.HistogramVec
}

func NewHTTP(reg prometheus.Registerer) *HTTP {
	h := &HTTP{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route template.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(h.duration)
	return h
}

func (h *HTTP) Observe(method, route string, status int, d time.Duration) {
	if h == nil {
		return
	}
	h.duration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
