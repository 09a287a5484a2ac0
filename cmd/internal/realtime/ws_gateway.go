package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"schooltower/cmd/internal/auth/authctx"
)

const (
	wsSubprotocolV1 = "schooltower.session.v1"

	wsDefaultSendQueueSize = 16

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	wsDefaultOriginRequired = true
)

// GatewayConfig holds the socket policy.
type GatewayConfig struct {
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultGatewayConfig is the socket policy for the given origin allowlist.
func DefaultGatewayConfig(allowedOrigins []string) GatewayConfig {
	return GatewayConfig{
		OriginRequired:   wsDefaultOriginRequired,
		AllowedOrigins:   allowedOrigins,
		WriteTimeout:     wsDefaultWriteTimeout,
		ReadIdleTimeout:  wsDefaultReadIdle,
		SendQueueSize:    wsDefaultSendQueueSize,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
	}
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = wsDefaultWriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = wsDefaultReadIdle
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = wsDefaultSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = heartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	return c
}

// WSGateway is the session socket: it authenticates the caller with an access token, registers
// the connection in the Hub and closes it when the user's sessions are revoked.
type WSGateway struct {
	log      *slog.Logger
	hub      *Hub
	resolver authctx.Resolver
	cfg      GatewayConfig

	// Derived for websocket.Accept origin checks.
	originPatterns []string
}

// NewWSGateway constructs a gateway. resolver validates access tokens, normally the session service.
func NewWSGateway(log *slog.Logger, hub *Hub, resolver authctx.Resolver, cfg GatewayConfig) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	cfg = cfg.withDefaults()
	return &WSGateway{
		log:            log,
		hub:            hub,
		resolver:       resolver,
		cfg:            cfg,
		originPatterns: deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins),
	}
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates, upgrades and runs the connection until it ends or is revoked.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	token := accessTokenFrom(r)
	if token == "" || g.resolver == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	user, err := g.resolver.GetUserFromAccessToken(r.Context(), token)
	if err != nil || !user.IsActive {
		g.log.Info("ws.reject.auth", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{wsSubprotocolV1},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	now := time.Now().UTC()
	clientID, err := NewClientID(now)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "id")
		return
	}
	client := NewClient(user.ID, clientID, g.cfg.SendQueueSize)
	g.hub.Join(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	// shutdown is idempotent. It does NOT close client.Send.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Leave(client)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	g.enqueue(ctx, client, Message{Type: TypeReady, UserID: user.ID, TS: now})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-client.Revoked():
				// Best effort: tell the client why before closing.
				_ = writeMessage(ctx, conn, Message{Type: TypeRevoked, Reason: client.Reason(), TS: time.Now().UTC()}, g.cfg.WriteTimeout)
				shutdown(websocket.StatusPolicyViolation, "session revoked")
				return
			case msg := <-client.Send:
				if err := writeMessage(ctx, conn, msg, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "client_id", client.ID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client, token, shutdown)
	}()

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		msg, err := readMessage(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.enqueue(ctx, client, Message{Type: TypeError, Reason: "bad_json"})
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "client_id", client.ID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(time.Now().UTC()) {
			g.enqueue(ctx, client, Message{Type: TypeError, Reason: "rate_limited"})
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		switch msg.Type {
		case TypePing:
			g.enqueue(ctx, client, Message{Type: TypePong, TS: time.Now().UTC()})
		default:
			g.enqueue(ctx, client, Message{Type: TypeError, Reason: "unsupported"})
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// heartbeat pings the peer and re-checks the access token, so an expired or invalidated token
// ends the socket even when no revocation event reached this instance.
func (g *WSGateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client, token string, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			if _, err := g.resolver.GetUserFromAccessToken(ctx, token); err != nil {
				client.Revoke(ReasonTokenInvalid)
				return
			}

			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "client_id", client.ID, "failures", failures, "err", err)
				if failures >= wsMaxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, msg Message) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- msg:
		return true
	default:
		return false
	}
}

// accessTokenFrom reads the bearer header, falling back to the access_token query parameter
// because browsers cannot set headers on a websocket handshake.
func accessTokenFrom(r *http.Request) string {
	if t := authctx.BearerToken(r); t != "" {
		return t
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// ---- message IO ----

func readMessage(ctx context.Context, conn *websocket.Conn) (Message, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return Message{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return Message{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func writeMessage(parent context.Context, conn *websocket.Conn, msg Message, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatternsFromAllowedOrigins keeps websocket.Accept's own origin check in agreement
// with the allowlist.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	out := make([]string, 0, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}
