package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront-cart/internal/storage"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

type queries struct {
	get    string
	upsert string
	delete string
}

func queriesFor(d Dialect) (queries, error) {
	switch d {
	case DialectSQLite:
		return queries{
			get: `SELECT payload FROM cart_state WHERE state_key = ?`,
			upsert: `INSERT INTO cart_state (state_key, payload, updated_at) VALUES (?, ?, ?)
				ON CONFLICT (state_key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
			delete: `DELETE FROM cart_state WHERE state_key = ?`,
		}, nil
	case DialectPostgres:
		return queries{
			get: `SELECT payload FROM cart_state WHERE state_key = $1`,
			upsert: `INSERT INTO cart_state (state_key, payload, updated_at) VALUES ($1, $2, $3)
				ON CONFLICT (state_key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
			delete: `DELETE FROM cart_state WHERE state_key = $1`,
		}, nil
	default:
		return queries{}, fmt.Errorf("unsupported sql dialect %q", d)
	}
}

// SQLKV stores entries in the cart_state table of a SQLite or Postgres database.
type SQLKV struct {
	db      *sql.DB
	dialect Dialect
	q       queries
}

func NewSQLKV(db *sql.DB, dialect Dialect) (*SQLKV, error) {
	q, err := queriesFor(dialect)
	if err != nil {
		return nil, err
	}
	return &SQLKV{db: db, dialect: dialect, q: q}, nil
}

// RunMigrations applies the embedded schema for the store's dialect.
func (s *SQLKV) RunMigrations() error {
	var (
		driver database.Driver
		err    error
	)
	switch s.dialect {
	case DialectSQLite:
		driver, err = sqlite.WithInstance(s.db, &sqlite.Config{})
	case DialectPostgres:
		driver, err = postgres.WithInstance(s.db, &postgres.Config{
			MigrationsTable: "cart_schema_migrations",
		})
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations/"+string(s.dialect))
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, string(s.dialect), driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (s *SQLKV) Get(ctx context.Context, key string) ([]byte, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, s.q.get, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	return []byte(payload), nil
}

func (s *SQLKV) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, s.q.upsert, key, string(value), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to upsert state: %w", err)
	}
	return nil
}

func (s *SQLKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.q.delete, key); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

func (s *SQLKV) Close() error {
	return s.db.Close()
}
