// Package migrate applies the embedded SQL migrations to a Postgres schema.
package migrate

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Versions returns the embedded migration file names in apply order.
func Versions() ([]string, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migration files: %w", err)
	}

	versions := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		versions = append(versions, entry.Name())
	}
	sort.Strings(versions)
	return versions, nil
}

// Apply runs every pending migration inside schema, one transaction per file, and returns the
// versions it applied. Already applied versions are recorded in schema.schema_migrations.
func Apply(ctx context.Context, pool *pgxpool.Pool, schema string) ([]string, error) {
	if pool == nil {
		return nil, fmt.Errorf("migrate: nil pool")
	}
	if strings.TrimSpace(schema) == "" {
		schema = "public"
	}
	searchPath := pgx.Identifier{schema}.Sanitize()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+searchPath); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+pgx.Identifier{schema, "schema_migrations"}.Sanitize()+` (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations table: %w", err)
	}

	versions, err := Versions()
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, version := range versions {
		ok, err := applyOne(ctx, pool, searchPath, version)
		if err != nil {
			return applied, err
		}
		if ok {
			applied = append(applied, version)
		}
	}
	return applied, nil
}

func applyOne(ctx context.Context, pool *pgxpool.Pool, searchPath, version string) (bool, error) {
	script, err := migrationFiles.ReadFile("migrations/" + version)
	if err != nil {
		return false, fmt.Errorf("read migration %s: %w", version, err)
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return false, fmt.Errorf("begin migration %s: %w", version, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SET LOCAL search_path TO `+searchPath); err != nil {
		return false, fmt.Errorf("search_path for %s: %w", version, err)
	}

	// Serializes concurrent instances migrating the same database.
	if _, err := tx.Exec(ctx, `LOCK TABLE schema_migrations IN EXCLUSIVE MODE`); err != nil {
		return false, fmt.Errorf("lock migrations for %s: %w", version, err)
	}

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, version,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	if exists {
		return false, nil
	}

	if _, err := tx.Exec(ctx, string(script)); err != nil {
		return false, fmt.Errorf("execute migration %s: %w", version, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		return false, fmt.Errorf("record migration %s: %w", version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", version, err)
	}
	return true, nil
}
