package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"schooltower/cmd/identity"
)

const recordColumns = `id, user_id, token_hash, expires_at, revoked_at, replaced_by_id,
	COALESCE(user_agent, ''), COALESCE(ip_address, ''), created_at`

// execQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// errCommitThen asks inTx to commit and still return err.
type errCommitThen struct{ err error }

func (e errCommitThen) Error() string { return e.err.Error() }

// inTx runs fn in a read-committed transaction. Any error rolls back, except errCommitThen which
// commits the work done so far and returns the wrapped error.
func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("session: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		var ct errCommitThen
		if !errors.As(err, &ct) {
			return err
		}
		if cerr := tx.Commit(ctx); cerr != nil {
			return fmt.Errorf("session: commit: %w", cerr)
		}
		return ct.err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("session: commit: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var r Record
	err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.TokenHash,
		&r.ExpiresAt,
		&r.RevokedAt,
		&r.ReplacedByID,
		&r.UserAgent,
		&r.IP,
		&r.CreatedAt,
	)
	return r, err
}

func getByHashForUpdateTx(ctx context.Context, tx pgx.Tx, table, tokenHash string) (Record, error) {
	r, err := scanRecord(tx.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM `+table+` WHERE token_hash = $1 FOR UPDATE`, tokenHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return r, nil
}

func insertTx(ctx context.Context, q execQuerier, table string, now time.Time, in NewRecord) (Record, error) {
	id, err := identity.NewULID(now)
	if err != nil {
		return Record{}, err
	}

	r, err := scanRecord(q.QueryRow(ctx, `
		INSERT INTO `+table+` (
			id, user_id, token_hash, expires_at, revoked_at, replaced_by_id,
			user_agent, ip_address, created_at
		) VALUES (
			$1, $2, $3, $4, NULL, NULL,
			$5, $6, $7
		)
		RETURNING `+recordColumns,
		id, in.UserID, in.TokenHash, in.ExpiresAt, nullIfEmpty(in.UserAgent), nullIfEmpty(in.IP), now,
	))
	if err != nil {
		if field, ok := identity.PgClassifyUniqueViolation(err); ok {
			return Record{}, identity.ConflictError{Op: "session.Create", Field: field}
		}
		return Record{}, err
	}
	return r, nil
}

func markRotatedTx(ctx context.Context, tx pgx.Tx, table string, now time.Time, oldID, newID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE `+table+`
		SET revoked_at = COALESCE(revoked_at, $2),
		    replaced_by_id = $3
		WHERE id = $1
	`, oldID, now, newID)
	return err
}

func revokeAllTx(ctx context.Context, q execQuerier, table string, now time.Time, userID string) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE `+table+`
		SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
