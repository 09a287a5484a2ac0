package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Table identifiers are schema-qualified and quoted.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema holding the users table (default "public").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !ValidSchemaName(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "public"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const userColumns = `id, name, email, password_hash, role, is_active, token_version, created_at, updated_at`

func (s *PostgresStore) users() string { return PgIdent(s.schema, "users") }

func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	in, err := in.normalized(op)
	if err != nil {
		return User{}, err
	}

	id, err := NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.users()+` (id, name, email, password_hash, role, is_active, token_version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, TRUE, 0, $6, $6)
		 RETURNING `+userColumns,
		id, in.Name, in.Email, in.PasswordHash, string(in.Role), in.Now,
	)
	u, err := scanUser(row)
	if err != nil {
		if field, ok := PgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return s.getOne(ctx, op, `SELECT `+userColumns+` FROM `+s.users()+` WHERE id = $1`, id)
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.GetUserByEmail"

	email = NormalizeEmail(email)
	if email == "" {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return s.getOne(ctx, op, `SELECT `+userColumns+` FROM `+s.users()+` WHERE email = $1`, email)
}

func (s *PostgresStore) getOne(ctx context.Context, op, sql string, arg any) (User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, sql, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	const op = "identity.ListUsers"

	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM `+s.users()+` ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := make([]User, 0, 16)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *PostgresStore) CountByRole(ctx context.Context) (RoleCounts, error) {
	const op = "identity.CountByRole"

	rows, err := s.pool.Query(ctx, `SELECT role, count(*) FROM `+s.users()+` GROUP BY role`)
	if err != nil {
		return RoleCounts{}, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out RoleCounts
	for rows.Next() {
		var (
			role string
			n    int64
		)
		if err := rows.Scan(&role, &n); err != nil {
			return RoleCounts{}, fmt.Errorf("%s: %w", op, err)
		}
		out.add(Role(role), int(n))
	}
	if err := rows.Err(); err != nil {
		return RoleCounts{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, id string, patch UserPatch, now time.Time) (User, error) {
	const op = "identity.UpdateUser"

	if err := patch.validate(op); err != nil {
		return User{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var (
		name *string
		role *string
	)
	if patch.Name != nil {
		n := NormalizeName(*patch.Name)
		name = &n
	}
	if patch.Role != nil {
		r := string(*patch.Role)
		role = &r
	}

	u, err := scanUser(s.pool.QueryRow(ctx,
		`UPDATE `+s.users()+`
		    SET name = COALESCE($2, name),
		        role = COALESCE($3, role),
		        is_active = COALESCE($4, is_active),
		        updated_at = $5
		  WHERE id = $1
		  RETURNING `+userColumns,
		id, name, role, patch.IsActive, now,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *PostgresStore) BumpTokenVersion(ctx context.Context, id string, now time.Time) (int, error) {
	return BumpTokenVersionTx(ctx, s.pool, s.schema, id, now)
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// BumpTokenVersionTx increments token_version with a single UPDATE so concurrent bumps never
// lose an increment. It runs on q so callers can join an open transaction.
func BumpTokenVersionTx(ctx context.Context, q Querier, schema, id string, now time.Time) (int, error) {
	const op = "identity.BumpTokenVersion"

	if now.IsZero() {
		now = time.Now().UTC()
	}

	var v int
	err := q.QueryRow(ctx,
		`UPDATE `+PgIdent(schema, "users")+`
		    SET token_version = token_version + 1, updated_at = $2
		  WHERE id = $1
		  RETURNING token_version`,
		id, now,
	).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, NotFoundError{Op: op, Resource: "user"}
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		u    User
		role string
	)
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.PasswordHash,
		&role,
		&u.IsActive,
		&u.TokenVersion,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	u.Role = Role(role)
	return u, nil
}

// ---- helpers shared with the session store ----

// ValidSchemaName checks if a string is a safe Postgres identifier.
func ValidSchemaName(s string) bool {
	return pgIdentRe.MatchString(s)
}

// PgIdent safely quotes a schema-qualified identifier: "schema"."name".
func PgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

// PgClassifyUniqueViolation maps a 23505 error to a logical field name.
func PgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch c {
	case "uq_users_email":
		return "email", true
	case "uq_refresh_tokens_token_hash":
		return "token_hash", true
	}
	switch {
	case strings.Contains(c, "email"):
		return "email", true
	case strings.Contains(c, "token_hash"):
		return "token_hash", true
	default:
		return "unique", true
	}
}
