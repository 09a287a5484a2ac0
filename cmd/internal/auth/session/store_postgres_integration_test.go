package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"schooltower/cmd/identity"
	"schooltower/cmd/internal/auth/session"
	"schooltower/cmd/internal/pgtest"
	"schooltower/cmd/security/token"
)

type pgFixture struct {
	users  *identity.PostgresStore
	tokens *session.PostgresStore
	user   identity.User
}

func newPostgresFixture(t *testing.T) pgFixture {
	t.Helper()

	pool := pgtest.OpenPool(t)
	schema := pgtest.Schema(t, pool)

	users, err := identity.NewPostgresStore(pool, identity.WithSchema(schema))
	if err != nil {
		t.Fatalf("identity store: %v", err)
	}
	tokens, err := session.NewPostgresStore(pool, session.WithSchema(schema), session.WithCleanupBatch(2))
	if err != nil {
		t.Fatalf("session store: %v", err)
	}

	u, err := users.CreateUser(context.Background(), identity.CreateUserInput{
		Name:         "Ana",
		Email:        "ana@x.com",
		PasswordHash: "hash",
		Now:          time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return pgFixture{users: users, tokens: tokens, user: u}
}

func (f pgFixture) record(raw string, exp time.Time) session.NewRecord {
	return session.NewRecord{
		UserID:    f.user.ID,
		TokenHash: token.HashSHA256Hex(raw),
		ExpiresAt: exp,
		UserAgent: "integration",
		IP:        "203.0.113.7",
	}
}

func TestPostgresStore_RotateAndReplay(t *testing.T) {
	t.Parallel()

	f := newPostgresFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Microsecond)
	if _, err := f.tokens.Create(ctx, now, f.record("t1", now.Add(time.Hour))); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.tokens.Create(ctx, now, f.record("side", now.Add(time.Hour))); err != nil {
		t.Fatalf("create side: %v", err)
	}

	next, err := f.tokens.Rotate(ctx, now, token.HashSHA256Hex("t1"), f.record("t2", now.Add(2*time.Hour)))
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	old, err := f.tokens.GetByHash(ctx, token.HashSHA256Hex("t1"))
	if err != nil {
		t.Fatalf("get old: %v", err)
	}
	if old.RevokedAt == nil || old.ReplacedByID == nil || *old.ReplacedByID != next.ID {
		t.Fatalf("old record not linked: %+v", old)
	}

	_, err = f.tokens.Rotate(ctx, now, token.HashSHA256Hex("t1"), f.record("t3", now.Add(2*time.Hour)))
	if !errors.Is(err, session.ErrReplayDetected) {
		t.Fatalf("expected ErrReplayDetected, got %v", err)
	}

	// The replay path commits before reporting.
	recs, err := f.tokens.ListForUser(ctx, f.user.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("records = %d, want 3", len(recs))
	}
	for _, r := range recs {
		if r.RevokedAt == nil {
			t.Fatalf("record %s survived replay", r.ID)
		}
	}
	u, err := f.users.GetUserByID(ctx, f.user.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.TokenVersion != 1 {
		t.Fatalf("token version = %d, want 1", u.TokenVersion)
	}
}

func TestPostgresStore_RotateRejections(t *testing.T) {
	t.Parallel()

	f := newPostgresFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	now := time.Now().UTC()
	if _, err := f.tokens.Create(ctx, now, f.record("stale", now.Add(-time.Minute))); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := f.tokens.Rotate(ctx, now, token.HashSHA256Hex("stale"), f.record("n1", now.Add(time.Hour))); !errors.Is(err, session.ErrRecordExpired) {
		t.Fatalf("expected ErrRecordExpired, got %v", err)
	}
	if _, err := f.tokens.Rotate(ctx, now, token.HashSHA256Hex("missing"), f.record("n2", now.Add(time.Hour))); !errors.Is(err, session.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if _, err := f.tokens.GetByHash(ctx, token.HashSHA256Hex("n1")); !errors.Is(err, session.ErrRecordNotFound) {
		t.Fatalf("rejected rotation left a record behind: %v", err)
	}
}

func TestPostgresStore_ConcurrentRotateOneWinner(t *testing.T) {
	t.Parallel()

	f := newPostgresFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	now := time.Now().UTC()
	if _, err := f.tokens.Create(ctx, now, f.record("race", now.Add(time.Hour))); err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.tokens.Rotate(ctx, now, token.HashSHA256Hex("race"), f.record("next-"+string(rune('a'+i)), now.Add(time.Hour)))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, session.ErrReplayDetected):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("winners = %d, want 1", wins)
	}
}

func TestPostgresStore_RevokeAndInvalidate(t *testing.T) {
	t.Parallel()

	f := newPostgresFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	now := time.Now().UTC()
	for _, raw := range []string{"a", "b", "c"} {
		if _, err := f.tokens.Create(ctx, now, f.record(raw, now.Add(time.Hour))); err != nil {
			t.Fatalf("create %s: %v", raw, err)
		}
	}

	if err := f.tokens.Revoke(ctx, now, token.HashSHA256Hex("a")); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := f.tokens.Revoke(ctx, now.Add(time.Minute), token.HashSHA256Hex("a")); err != nil {
		t.Fatalf("revoke again: %v", err)
	}
	if err := f.tokens.Revoke(ctx, now, token.HashSHA256Hex("unknown")); err != nil {
		t.Fatalf("revoke unknown: %v", err)
	}

	n, err := f.tokens.RevokeAllForUser(ctx, now, f.user.ID)
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 2 {
		t.Fatalf("revoked = %d, want 2", n)
	}

	v, err := f.tokens.InvalidateUser(ctx, now, f.user.ID)
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if v != 1 {
		t.Fatalf("version = %d, want 1", v)
	}
}

func TestPostgresStore_CleanupExpiredInBatches(t *testing.T) {
	t.Parallel()

	f := newPostgresFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	now := time.Now().UTC()
	for _, raw := range []string{"x1", "x2", "x3", "x4", "x5"} {
		if _, err := f.tokens.Create(ctx, now, f.record(raw, now.Add(-time.Hour))); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := f.tokens.Create(ctx, now, f.record("live", now.Add(time.Hour))); err != nil {
		t.Fatalf("create live: %v", err)
	}

	n, err := f.tokens.CleanupExpired(ctx, now)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 5 {
		t.Fatalf("deleted = %d, want 5", n)
	}
	if _, err := f.tokens.GetByHash(ctx, token.HashSHA256Hex("live")); err != nil {
		t.Fatalf("live record removed: %v", err)
	}
}
