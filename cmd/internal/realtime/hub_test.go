package realtime

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"schooltower/cmd/internal/events"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHub_KickUserRevokesEverySocket(t *testing.T) {
	t.Parallel()

	h := NewHub(quietLogger())
	a := NewClient("u1", "c1", 1)
	b := NewClient("u1", "c2", 1)
	other := NewClient("u2", "c3", 1)
	h.Join(a)
	h.Join(b)
	h.Join(other)

	if got := h.Connected("u1"); got != 2 {
		t.Fatalf("connected = %d, want 2", got)
	}

	if n := h.KickUser("u1", "auth.logout_all"); n != 2 {
		t.Fatalf("kicked = %d, want 2", n)
	}
	for _, c := range []*Client{a, b} {
		select {
		case <-c.Revoked():
		default:
			t.Fatalf("client %s not revoked", c.ID)
		}
		if c.Reason() != "auth.logout_all" {
			t.Fatalf("reason = %q", c.Reason())
		}
	}

	select {
	case <-other.Revoked():
		t.Fatalf("other user's socket must stay open")
	default:
	}
	if h.Connected("u1") != 0 || h.Connected("u2") != 1 {
		t.Fatalf("unexpected index after kick: u1=%d u2=%d", h.Connected("u1"), h.Connected("u2"))
	}
}

func TestHub_LeaveClosesClient(t *testing.T) {
	t.Parallel()

	h := NewHub(quietLogger())
	c := NewClient("u1", "c1", 1)
	h.Join(c)
	h.Leave(c)
	h.Leave(c)

	select {
	case <-c.Done():
	default:
		t.Fatalf("client should be closed after Leave")
	}
	if h.KickUser("u1", "x") != 0 {
		t.Fatalf("left client must not be kicked")
	}
}

func TestHub_PublishKicksOnlyForRevokingEvents(t *testing.T) {
	t.Parallel()

	h := NewHub(quietLogger())
	c := NewClient("u1", "c1", 1)
	h.Join(c)
	ctx := context.Background()

	_ = h.Publish(ctx, events.Event{Type: events.RefreshRotated, UserID: "u1", OccurredAt: time.Now()})
	if h.Connected("u1") != 1 {
		t.Fatalf("rotation must not drop the socket")
	}

	_ = h.Publish(ctx, events.Event{Type: events.ReplayDetected, UserID: "u1", OccurredAt: time.Now()})
	select {
	case <-c.Revoked():
	default:
		t.Fatalf("replay detection should revoke the socket")
	}
	if c.Reason() != string(events.ReplayDetected) {
		t.Fatalf("reason = %q", c.Reason())
	}
}

func TestClient_FirstRevokeReasonWins(t *testing.T) {
	t.Parallel()

	c := NewClient("u1", "c1", 0)
	if c.Reason() != "" {
		t.Fatalf("reason before revoke should be empty")
	}
	c.Revoke("first")
	c.Revoke("second")
	if c.Reason() != "first" {
		t.Fatalf("reason = %q, want first", c.Reason())
	}
	if cap(c.Send) != 16 {
		t.Fatalf("default queue = %d", cap(c.Send))
	}
}
