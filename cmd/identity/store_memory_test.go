package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func mustCreate(t *testing.T, s Store, name, email string, role Role, now time.Time) User {
	t.Helper()

	u, err := s.CreateUser(context.Background(), CreateUserInput{
		Name:         name,
		Email:        email,
		PasswordHash: "$2a$04$placeholderplaceholderplaceholderplaceholderplacehold",
		Role:         role,
		Now:          now,
	})
	if err != nil {
		t.Fatalf("create %s: %v", email, err)
	}
	return u
}

func TestInMemoryStore_CreateUser_Defaults(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	u := mustCreate(t, s, "  Ana ", " ana@x.com ", "", now)

	if u.Name != "Ana" || u.Email != "ana@x.com" {
		t.Fatalf("input not trimmed: %+v", u)
	}
	if u.Role != RolePlayer {
		t.Fatalf("role = %q, want PLAYER", u.Role)
	}
	if !u.IsActive || u.TokenVersion != 0 {
		t.Fatalf("unexpected defaults: active=%v version=%d", u.IsActive, u.TokenVersion)
	}
	if len(u.ID) != 26 {
		t.Fatalf("expected ULID id, got %q", u.ID)
	}
	if !u.CreatedAt.Equal(now) {
		t.Fatalf("created_at = %v", u.CreatedAt)
	}
}

func TestInMemoryStore_EmailIsCaseSensitive(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	now := time.Now().UTC()
	mustCreate(t, s, "Ana", "ana@x.com", RolePlayer, now)

	_, err := s.CreateUser(context.Background(), CreateUserInput{
		Name: "Ana 2", Email: "ana@x.com", PasswordHash: "h", Now: now,
	})
	field, ok := IsConflict(err)
	if !ok || field != "email" {
		t.Fatalf("expected email conflict, got %v", err)
	}

	// Different case is a different account.
	mustCreate(t, s, "Ana 3", "Ana@x.com", RolePlayer, now)

	if _, err := s.GetUserByEmail(context.Background(), "ANA@X.COM"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInMemoryStore_CreateUser_InvalidInput(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	cases := []CreateUserInput{
		{Name: " ", Email: "a@x.com", PasswordHash: "h"},
		{Name: "A", Email: "", PasswordHash: "h"},
		{Name: "A", Email: "a@x.com"},
		{Name: "A", Email: "a@x.com", PasswordHash: "h", Role: "ROOT"},
	}
	for i, in := range cases {
		if _, err := s.CreateUser(context.Background(), in); !IsInvalidInput(err) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestInMemoryStore_GetUser_NotFound(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	if _, err := s.GetUserByID(context.Background(), "missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	var nf NotFoundError
	_, err := s.GetUserByEmail(context.Background(), "nobody@x.com")
	if !errors.As(err, &nf) || nf.Resource != "user" {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestInMemoryStore_ListAndCount(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mustCreate(t, s, "P1", "p1@x.com", RolePlayer, base)
	mustCreate(t, s, "P2", "p2@x.com", RolePlayer, base.Add(time.Minute))
	mustCreate(t, s, "T", "t@x.com", RoleTeacher, base.Add(2*time.Minute))
	mustCreate(t, s, "A", "a@x.com", RoleAdmin, base.Add(3*time.Minute))

	users, err := s.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 4 || users[0].Email != "a@x.com" || users[3].Email != "p1@x.com" {
		t.Fatalf("expected newest first, got %+v", users)
	}

	c, err := s.CountByRole(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	want := RoleCounts{Total: 4, Players: 2, Teachers: 1, Admins: 1}
	if c != want {
		t.Fatalf("counts = %+v, want %+v", c, want)
	}
}

func TestInMemoryStore_UpdateUser_Patch(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	u := mustCreate(t, s, "Ana", "ana@x.com", RolePlayer, time.Now().UTC())

	teacher := RoleTeacher
	inactive := false
	later := time.Now().UTC().Add(time.Hour)

	got, err := s.UpdateUser(context.Background(), u.ID, UserPatch{Role: &teacher, IsActive: &inactive}, later)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Name != "Ana" || got.Role != RoleTeacher || got.IsActive {
		t.Fatalf("patch not applied: %+v", got)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Fatalf("updated_at not set")
	}

	empty := "  "
	if _, err := s.UpdateUser(context.Background(), u.ID, UserPatch{Name: &empty}, later); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := s.UpdateUser(context.Background(), "nope", UserPatch{}, later); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInMemoryStore_BumpTokenVersion_Concurrent(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	u := mustCreate(t, s, "Ana", "ana@x.com", RolePlayer, time.Now().UTC())

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.BumpTokenVersion(context.Background(), u.ID, time.Now().UTC()); err != nil {
				t.Errorf("bump: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.GetUserByID(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TokenVersion != n {
		t.Fatalf("token version = %d, want %d", got.TokenVersion, n)
	}
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	s := NewInMemoryStore()
	u := mustCreate(t, s, "Ana", "ana@x.com", RolePlayer, time.Now().UTC())
	u.Role = RoleAdmin

	got, _ := s.GetUserByID(context.Background(), u.ID)
	if got.Role != RolePlayer {
		t.Fatalf("store state leaked through returned value")
	}
}
