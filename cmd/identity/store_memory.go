package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a Store for development and tests. Safe for concurrent use.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (s *InMemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	in, err := in.normalized(op)
	if err != nil {
		return User{}, err
	}

	id, err := NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[in.Email]; taken {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	u := &User{
		ID:           id,
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		Role:         in.Role,
		IsActive:     true,
		CreatedAt:    in.Now,
		UpdatedAt:    in.Now,
	}
	s.byID[id] = u
	s.byEmail[in.Email] = id
	return *u, nil
}

func (s *InMemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return User{}, NotFoundError{Op: "identity.GetUserByID", Resource: "user"}
	}
	return *u, nil
}

func (s *InMemoryStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, NotFoundError{Op: "identity.GetUserByEmail", Resource: "user"}
	}
	return *s.byID[id], nil
}

func (s *InMemoryStore) ListUsers(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]User, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, *u)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *InMemoryStore) CountByRole(ctx context.Context) (RoleCounts, error) {
	if err := ctx.Err(); err != nil {
		return RoleCounts{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out RoleCounts
	for _, u := range s.byID {
		out.add(u.Role, 1)
	}
	return out, nil
}

func (s *InMemoryStore) UpdateUser(ctx context.Context, id string, patch UserPatch, now time.Time) (User, error) {
	const op = "identity.UpdateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if err := patch.validate(op); err != nil {
		return User{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	patch.apply(u, now)
	return *u, nil
}

func (s *InMemoryStore) BumpTokenVersion(ctx context.Context, id string, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return 0, NotFoundError{Op: "identity.BumpTokenVersion", Resource: "user"}
	}
	u.TokenVersion++
	u.UpdatedAt = now
	return u.TokenVersion, nil
}
