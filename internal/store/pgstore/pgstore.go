package pgstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"stagewright/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const (
	pingTimeout       = 5 * time.Second
	maxOpenConns      = 10
	maxIdleConns      = 5
	connMaxLifetime   = 30 * time.Minute
	uniqueViolation   = "23505"
	serializationFail = "40001"
	deadlockDetected  = "40P01"
)

// Dialect is the PostgreSQL flavour of the store dialect.
var Dialect = store.Dialect{
	Name:                 "postgres",
	NumberedPlaceholders: true,
	IsUniqueViolation:    isUniqueViolation,
	IsBusy:               isRetryable,
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == serializationFail || pgErr.Code == deadlockDetected
	}
	return false
}

// Open connects to PostgreSQL, ensures the schema, and returns a store.
func Open(ctx context.Context, url string) (*store.Store, error) {
	if url == "" {
		return nil, errors.New("postgres url is required")
	}
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store.FromDB(db, Dialect), nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	var exists bool
	if err := db.QueryRowContext(ctx,
		"SELECT to_regclass('public.schema_version') IS NOT NULL",
	).Scan(&exists); err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if exists {
		var version int
		if err := db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		if version != store.SchemaVersion() {
			return fmt.Errorf("%w: database has version %d, expected %d",
				store.ErrSchemaMismatch, version, store.SchemaVersion())
		}
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES ($1)", store.SchemaVersion()); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}
