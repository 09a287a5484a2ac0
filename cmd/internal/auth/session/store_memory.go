package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"schooltower/cmd/identity"
)

// InMemoryStore is a Store kept in process memory, for development and tests.
// Version bumps are delegated to users, normally the identity in-memory store.
type InMemoryStore struct {
	mu     sync.Mutex
	byHash map[string]*Record
	byUser map[string][]*Record
	users  VersionBumper
}

func NewInMemoryStore(users VersionBumper) *InMemoryStore {
	return &InMemoryStore{
		byHash: make(map[string]*Record),
		byUser: make(map[string][]*Record),
		users:  users,
	}
}

func (s *InMemoryStore) Create(ctx context.Context, now time.Time, in NewRecord) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.insertLocked(now, in)
	if err != nil {
		return Record{}, err
	}
	return *r, nil
}

func (s *InMemoryStore) insertLocked(now time.Time, in NewRecord) (*Record, error) {
	if in.UserID == "" || len(in.TokenHash) != 64 {
		return nil, fmt.Errorf("session.Create: invalid record")
	}
	if _, dup := s.byHash[in.TokenHash]; dup {
		return nil, identity.ConflictError{Op: "session.Create", Field: "token_hash"}
	}

	id, err := identity.NewULID(now)
	if err != nil {
		return nil, err
	}
	r := &Record{
		ID:        id,
		UserID:    in.UserID,
		TokenHash: in.TokenHash,
		ExpiresAt: in.ExpiresAt,
		UserAgent: in.UserAgent,
		IP:        in.IP,
		CreatedAt: now,
	}
	s.byHash[r.TokenHash] = r
	s.byUser[r.UserID] = append(s.byUser[r.UserID], r)
	return r, nil
}

func (s *InMemoryStore) Revoke(ctx context.Context, now time.Time, tokenHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.byHash[tokenHash]; ok && r.RevokedAt == nil {
		t := now
		r.RevokedAt = &t
	}
	return nil
}

func (s *InMemoryStore) RevokeAllForUser(ctx context.Context, now time.Time, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.revokeAllLocked(now, userID), nil
}

func (s *InMemoryStore) revokeAllLocked(now time.Time, userID string) int64 {
	var n int64
	for _, r := range s.byUser[userID] {
		if r.RevokedAt == nil {
			t := now
			r.RevokedAt = &t
			n++
		}
	}
	return n
}

func (s *InMemoryStore) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for userID, records := range s.byUser {
		kept := records[:0]
		for _, r := range records {
			if r.ExpiresAt.Before(now) {
				delete(s.byHash, r.TokenHash)
				n++
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(s.byUser, userID)
		} else {
			s.byUser[userID] = kept
		}
	}
	return n, nil
}

func (s *InMemoryStore) Rotate(ctx context.Context, now time.Time, oldHash string, next NewRecord) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byHash[oldHash]
	if !ok || old.UserID != next.UserID {
		return Record{}, ErrRecordNotFound
	}

	if old.RevokedAt != nil {
		s.revokeAllLocked(now, old.UserID)
		if _, err := s.users.BumpTokenVersion(ctx, old.UserID, now); err != nil {
			return Record{}, fmt.Errorf("session.Rotate: bump version: %w", err)
		}
		return Record{}, ErrReplayDetected
	}

	if !old.ExpiresAt.After(now) {
		return Record{}, ErrRecordExpired
	}

	r, err := s.insertLocked(now, next)
	if err != nil {
		return Record{}, err
	}
	t := now
	old.RevokedAt = &t
	replacedBy := r.ID
	old.ReplacedByID = &replacedBy
	return *r, nil
}

func (s *InMemoryStore) InvalidateUser(ctx context.Context, now time.Time, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.revokeAllLocked(now, userID)
	v, err := s.users.BumpTokenVersion(ctx, userID, now)
	if err != nil {
		return 0, fmt.Errorf("session.InvalidateUser: bump version: %w", err)
	}
	return v, nil
}

func copyRecord(r *Record) Record {
	out := *r
	if r.RevokedAt != nil {
		t := *r.RevokedAt
		out.RevokedAt = &t
	}
	if r.ReplacedByID != nil {
		id := *r.ReplacedByID
		out.ReplacedByID = &id
	}
	return out
}
