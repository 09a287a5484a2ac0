// Package main is a CI-friendly smoke test for the session lifecycle against a running server.
//
// It validates:
//   - register over GraphQL sets the refresh cookie
//   - two session sockets open with the access token and receive session.ready
//   - refreshToken rotates the cookie
//   - replaying the old refresh token is refused and revokes both sockets
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "schooltower.session.v1"
	refreshCookieName  = "refreshToken"
	maxReadBytes       = 64 << 10
)

type frame struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
	UserID string `json:"userId,omitempty"`
}

type gqlResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []struct {
		Message    string         `json:"message"`
		Extensions map[string]any `json:"extensions"`
	} `json:"errors"`
}

type authPayload struct {
	AccessToken string `json:"accessToken"`
	User        struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

type smokeClient struct {
	name  string
	conn  *websocket.Conn
	inbox chan frame
	errCh chan error
}

func main() {
	var (
		base    = flag.String("base", "http://127.0.0.1:4000", "Server base URL")
		origin  = flag.String("origin", "http://localhost:3000", "Origin header to send (browser-like requests)")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateBaseURL(*base); err != nil {
		fatalf("invalid -base: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	jar, _ := cookiejar.New(nil)
	httpc := &http.Client{Jar: jar, Timeout: *timeout}
	gqlURL := strings.TrimRight(*base, "/") + "/graphql"

	email := fmt.Sprintf("smoke-%d@schooltower.test", time.Now().UnixNano())
	reg := mustAuth(root, httpc, gqlURL, *origin, "register", fmt.Sprintf(
		`mutation { register(input:{name:"Smoke", email:%q, password:"Sm0ke-Test-Pass"}) { accessToken user { id email } } }`, email))
	oldRefresh := mustRefreshCookie(jar, gqlURL)

	wsURL := wsURLFor(*base, reg.AccessToken)
	a := mustConnect(root, "A", wsURL, *origin, *timeout)
	defer closeWS(a.conn)
	b := mustConnect(root, "B", wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("registered user=%s sockets=2\n", reg.User.ID)
	}

	mustAuth(root, httpc, gqlURL, *origin, "refreshToken", `mutation { refreshToken { accessToken user { id email } } }`)
	if mustRefreshCookie(jar, gqlURL) == oldRefresh {
		fatalf("refresh cookie was not rotated")
	}

	// Put the consumed token back and present it again.
	u, _ := url.Parse(gqlURL)
	jar.SetCookies(u, []*http.Cookie{{Name: refreshCookieName, Value: oldRefresh, Path: u.Path}})
	resp := postGraphQL(root, httpc, gqlURL, *origin, `mutation { refreshToken { accessToken } }`)
	if len(resp.Errors) == 0 {
		fatalf("replayed refresh token was accepted")
	}
	if code, _ := resp.Errors[0].Extensions["code"].(string); code != "UNAUTHENTICATED" {
		fatalf("replay: unexpected error code %q (%s)", code, resp.Errors[0].Message)
	}

	for _, c := range []*smokeClient{a, b} {
		f := c.mustReadUntilType(root, "session.revoked", *timeout)
		if *verbose {
			fmt.Printf("socket %s revoked reason=%s\n", c.name, f.Reason)
		}
	}

	fmt.Printf("OK: user=%s email=%s replay_detected sockets_revoked=2\n", reg.User.ID, email)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func wsURLFor(base, accessToken string) string {
	b := strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(b, "https://"):
		b = "wss://" + strings.TrimPrefix(b, "https://")
	default:
		b = "ws://" + strings.TrimPrefix(b, "http://")
	}
	return b + "/ws?access_token=" + url.QueryEscape(accessToken)
}

func postGraphQL(parent context.Context, c *http.Client, gqlURL, origin, query string) gqlResponse {
	body, _ := json.Marshal(map[string]string{"query": query})
	req, err := http.NewRequestWithContext(parent, http.MethodPost, gqlURL, bytes.NewReader(body))
	if err != nil {
		fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}

	resp, err := c.Do(req)
	if err != nil {
		fatalf("graphql request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatalf("graphql status %d", resp.StatusCode)
	}
	var out gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("decode graphql response: %v", err)
	}
	return out
}

func mustAuth(parent context.Context, c *http.Client, gqlURL, origin, field, query string) authPayload {
	resp := postGraphQL(parent, c, gqlURL, origin, query)
	if len(resp.Errors) > 0 {
		fatalf("%s: %s (%v)", field, resp.Errors[0].Message, resp.Errors[0].Extensions["code"])
	}
	var p authPayload
	if err := json.Unmarshal(resp.Data[field], &p); err != nil {
		fatalf("%s: decode payload: %v", field, err)
	}
	if p.AccessToken == "" {
		fatalf("%s: empty access token", field)
	}
	return p
}

func mustRefreshCookie(jar http.CookieJar, gqlURL string) string {
	u, _ := url.Parse(gqlURL)
	for _, ck := range jar.Cookies(u) {
		if ck.Name == refreshCookieName && ck.Value != "" {
			return ck.Value
		}
	}
	fatalf("refresh cookie %q not set", refreshCookieName)
	return ""
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	if got := conn.Subprotocol(); got != defaultSubprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, defaultSubprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan frame, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	c.mustReadUntilType(parent, "session.ready", stepTimeout)
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- f:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) frame {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if f.Type == wantType {
				return f
			}
			if f.Type == "error" {
				fatalf("server error (%s): reason=%q", c.name, f.Reason)
			}
		}
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
