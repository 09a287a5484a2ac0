package authapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSetRefreshCookie(t *testing.T) {
	h := &Handler{cfg: Config{
		CookiePath:   "/graphql",
		CookieSecure: true,
		CookieMaxAge: 7 * 24 * time.Hour,
	}}

	rr := httptest.NewRecorder()
	h.setRefreshCookie(rr, "refresh-token-123", time.Now().UTC().Add(time.Hour))

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != RefreshCookieName || c.Value != "refresh-token-123" {
		t.Fatalf("unexpected cookie: %+v", c)
	}
	if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode || c.Path != "/graphql" {
		t.Fatalf("unexpected cookie attributes: %+v", c)
	}
	if c.MaxAge != 7*24*60*60 {
		t.Fatalf("max-age = %d", c.MaxAge)
	}
}

func TestClearRefreshCookie(t *testing.T) {
	h := &Handler{cfg: Config{CookiePath: "/graphql"}}

	rr := httptest.NewRecorder()
	h.clearRefreshCookie(rr)

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 || cookies[0].Value != "" {
		t.Fatalf("expected an expiring cookie, got %+v", cookies)
	}
}

func TestRefreshTokenFromCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/graphql", nil)
	if _, ok := refreshTokenFromCookie(req); ok {
		t.Fatalf("expected no token without cookie")
	}

	req.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: " tok-123 "})
	token, ok := refreshTokenFromCookie(req)
	if !ok {
		t.Fatalf("expected cookie token to be found")
	}
	if token != "tok-123" {
		t.Fatalf("unexpected cookie token: %q", token)
	}
}
