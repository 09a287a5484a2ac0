// Package authapi serves the GraphQL auth surface.
package authapi

import (
	"context"
	_ "embed"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"
	graphql "github.com/graph-gophers/graphql-go"

	"schooltower/cmd/identity"
	"schooltower/cmd/internal/auth/authctx"
	"schooltower/cmd/internal/auth/autherr"
	"schooltower/cmd/internal/auth/session"
	"schooltower/cmd/internal/events"
)

//go:embed schema.graphql
var schemaSDL string

// Sessions is the part of the session service the transport calls.
type Sessions interface {
	authctx.Resolver
	Register(ctx context.Context, in session.RegisterInput, meta session.Meta) (session.Result, error)
	Login(ctx context.Context, in session.LoginInput, meta session.Meta) (session.Result, error)
	RefreshTokens(ctx context.Context, rawRefresh string, meta session.Meta) (session.Result, error)
	Logout(ctx context.Context, rawRefresh string, meta session.Meta) error
	LogoutAll(ctx context.Context, userID string, meta session.Meta) error
}

// Handler executes GraphQL requests against the auth schema.
type Handler struct {
	log *slog.Logger
	cfg Config

	schema   *graphql.Schema
	sessions Sessions
	users    identity.Store
	events   events.Publisher
	now      func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithPublisher sets where admin user changes are announced.
func WithPublisher(p events.Publisher) HandlerOption {
	return func(h *Handler) {
		if h == nil || p == nil {
			return
		}
		h.events = p
	}
}

// WithClock overrides the time source used for admin updates.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if h == nil || now == nil {
			return
		}
		h.now = now
	}
}

// NewHandler parses the schema and binds it to sessions and users.
func NewHandler(log *slog.Logger, cfg Config, sessions Sessions, users identity.Store, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if sessions == nil || users == nil {
		return nil, errors.New("authapi: sessions and users are required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = "/graphql"
	}
	if cfg.CookieMaxAge <= 0 {
		cfg.CookieMaxAge = 7 * 24 * time.Hour
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		users:    users,
		events:   events.Nop{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}

	schemaOpts := []graphql.SchemaOpt{}
	if cfg.MaxQueryDepth > 0 {
		schemaOpts = append(schemaOpts, graphql.MaxDepth(cfg.MaxQueryDepth))
	}
	schema, err := graphql.ParseSchema(schemaSDL, &rootResolver{h: h}, schemaOpts...)
	if err != nil {
		return nil, err
	}
	h.schema = schema
	return h, nil
}

// Register wires the GraphQL endpoint onto r.
func (h *Handler) Register(r *mux.Router) {
	if h == nil || r == nil {
		return
	}
	r.Handle("/graphql", h.Handler()).Methods(http.MethodPost)
}

// Handler returns the endpoint with the request auth context attached.
func (h *Handler) Handler() http.Handler {
	return authctx.Middleware(h.sessions, h.cfg.TrustProxy, h.log)(http.HandlerFunc(h.serveGraphQL))
}

func (h *Handler) serveGraphQL(w http.ResponseWriter, r *http.Request) {
	var req graphqlRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "missing query")
		return
	}

	resp := h.schema.Exec(r.Context(), req.Query, req.OperationName, req.Variables)
	writeJSON(w, http.StatusOK, resp)
}

// fail maps err to what the client may see. Anything that is not already an *autherr.Error is
// reported and replaced by a generic internal error.
func (h *Handler) fail(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ae, ok := autherr.As(err); ok && ae.Code != autherr.CodeInternal {
		return ae
	}

	h.log.ErrorContext(ctx, "graphql.resolver.fail", "op", op, "err", err)
	sentry.CaptureException(err)
	return autherr.Internal(err)
}

func metaFrom(ctx context.Context) session.Meta {
	rc := authctx.FromContext(ctx)
	if rc == nil {
		return session.Meta{}
	}
	return session.Meta{UserAgent: rc.UserAgent, IP: rc.IP}
}
