// Package authctx attaches the authenticated caller to each request.
//
// A missing, malformed or rejected access token never fails the request here; the user is simply
// absent so public operations keep working. Protected operations go through the guard package.
package authctx

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"schooltower/cmd/identity"
)

// Resolver turns an access token into its current user. The session service implements it.
type Resolver interface {
	GetUserFromAccessToken(ctx context.Context, accessToken string) (identity.User, error)
}

// RequestContext is what downstream resolvers see about the caller.
type RequestContext struct {
	AccessToken string
	User        *identity.User
	UserAgent   string
	IP          string

	// Writer and Request let transport code set or read cookies.
	Writer  http.ResponseWriter
	Request *http.Request
}

type ctxKey struct{}

// With returns a copy of ctx carrying rc.
func With(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// FromContext returns the request context, or nil outside an HTTP request.
func FromContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(ctxKey{}).(*RequestContext)
	return rc
}

// UserFrom returns the authenticated user, if any.
func UserFrom(ctx context.Context) (identity.User, bool) {
	rc := FromContext(ctx)
	if rc == nil || rc.User == nil {
		return identity.User{}, false
	}
	return *rc.User, true
}

// Middleware populates a RequestContext for every request.
func Middleware(resolver Resolver, trustProxy bool, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rc := &RequestContext{
				AccessToken: BearerToken(r),
				UserAgent:   strings.TrimSpace(r.UserAgent()),
				Writer:      w,
				Request:     r,
			}
			if ip := ClientIP(r, trustProxy); ip != nil {
				rc.IP = ip.String()
			}

			if rc.AccessToken != "" && resolver != nil {
				u, err := resolver.GetUserFromAccessToken(r.Context(), rc.AccessToken)
				if err == nil {
					rc.User = &u
				} else {
					log.Debug("auth.context.rejected", "err", err, "ip", rc.IP)
				}
			}

			next.ServeHTTP(w, r.WithContext(With(r.Context(), rc)))
		})
	}
}

// BearerToken extracts the token of an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// ClientIP returns the caller address. Forwarding headers are only honored behind a trusted proxy.
func ClientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
