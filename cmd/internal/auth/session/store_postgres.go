package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"schooltower/cmd/identity"
)

// DefaultCleanupBatch bounds how many rows one CleanupExpired statement deletes.
const DefaultCleanupBatch = 500

// PostgresStore implements Store over the refresh_tokens table.
//
// Rotation and mass revocation run in one transaction each and lock the affected row with
// SELECT ... FOR UPDATE, so two concurrent refreshes of the same token serialize and the second
// one takes the replay path.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	batch  int
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the schema holding refresh_tokens and users (default "public").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !identity.ValidSchemaName(schema) {
			return fmt.Errorf("session: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithCleanupBatch sets the per-statement delete limit used by CleanupExpired.
func WithCleanupBatch(n int) PostgresOption {
	return func(s *PostgresStore) error {
		if n <= 0 {
			return fmt.Errorf("session: cleanup batch must be positive")
		}
		s.batch = n
		return nil
	}
}

// NewPostgresStore creates a Postgres-backed refresh-token store. The pool is owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool, schema: "public", batch: DefaultCleanupBatch}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	return s, nil
}

func (s *PostgresStore) table() string { return identity.PgIdent(s.schema, "refresh_tokens") }

func (s *PostgresStore) Create(ctx context.Context, now time.Time, in NewRecord) (Record, error) {
	r, err := insertTx(ctx, s.pool, s.table(), now, in)
	if err != nil {
		return Record{}, fmt.Errorf("session.Create: %w", err)
	}
	return r, nil
}

// Revoke revokes a single record (idempotent).
func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, tokenHash string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.table()+`
		SET revoked_at = COALESCE(revoked_at, $2)
		WHERE token_hash = $1
	`, tokenHash, now)
	if err != nil {
		return fmt.Errorf("session.Revoke: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAllForUser(ctx context.Context, now time.Time, userID string) (int64, error) {
	n, err := revokeAllTx(ctx, s.pool, s.table(), now, userID)
	if err != nil {
		return 0, fmt.Errorf("session.RevokeAllForUser: %w", err)
	}
	return n, nil
}

// CleanupExpired deletes expired rows in batches until a batch comes back short.
func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for {
		tag, err := s.pool.Exec(ctx, `
			WITH stale AS (
				SELECT id FROM `+s.table()+`
				WHERE expires_at < $1
				ORDER BY expires_at
				LIMIT $2
			)
			DELETE FROM `+s.table()+` rt
			USING stale
			WHERE rt.id = stale.id
		`, now, s.batch)
		if err != nil {
			return total, fmt.Errorf("session.CleanupExpired: %w", err)
		}
		n := tag.RowsAffected()
		total += n
		if n < int64(s.batch) {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, oldHash string, next NewRecord) (Record, error) {
	var out Record
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		old, err := getByHashForUpdateTx(ctx, tx, s.table(), oldHash)
		if err != nil {
			return err
		}
		if old.UserID != next.UserID {
			return ErrRecordNotFound
		}

		if old.RevokedAt != nil {
			if _, err := revokeAllTx(ctx, tx, s.table(), now, old.UserID); err != nil {
				return err
			}
			if _, err := identity.BumpTokenVersionTx(ctx, tx, s.schema, old.UserID, now); err != nil {
				return err
			}
			return errCommitThen{ErrReplayDetected}
		}

		if !old.ExpiresAt.After(now) {
			return ErrRecordExpired
		}

		created, err := insertTx(ctx, tx, s.table(), now, next)
		if err != nil {
			return err
		}
		if err := markRotatedTx(ctx, tx, s.table(), now, old.ID, created.ID); err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

func (s *PostgresStore) InvalidateUser(ctx context.Context, now time.Time, userID string) (int, error) {
	var version int
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := revokeAllTx(ctx, tx, s.table(), now, userID); err != nil {
			return err
		}
		v, err := identity.BumpTokenVersionTx(ctx, tx, s.schema, userID, now)
		if err != nil {
			return err
		}
		version = v
		return nil
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}
