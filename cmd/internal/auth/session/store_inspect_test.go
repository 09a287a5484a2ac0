package session

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
)

// Read helpers the stores do not need at runtime; tests use them to inspect persisted state.

func (s *InMemoryStore) GetByHash(ctx context.Context, tokenHash string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byHash[tokenHash]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return copyRecord(r), nil
}

func (s *InMemoryStore) ListForUser(ctx context.Context, userID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	out := make([]Record, 0, len(s.byUser[userID]))
	for _, r := range s.byUser[userID] {
		out = append(out, copyRecord(r))
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}


func (s *PostgresStore) GetByHash(ctx context.Context, tokenHash string) (Record, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM `+s.table()+` WHERE token_hash = $1`, tokenHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("session.GetByHash: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM `+s.table()+` WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("session.ListForUser: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("session.ListForUser: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session.ListForUser: %w", err)
	}
	return out, nil
}
