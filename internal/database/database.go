// Package database provides database access for the RGS
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// Options tunes the connection pool
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// New creates a new database connection
func New(driver, dsn string, opts Options) (*DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

func init() {
	goose.SetBaseFS(migrations)
}

// Migrate applies all pending migrations
func (db *DB) Migrate(ctx context.Context) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, migrationsDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Reset rolls back every migration (for testing)
func (db *DB) Reset(ctx context.Context) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.ResetContext(ctx, db.DB, migrationsDir); err != nil {
		return fmt.Errorf("failed to reset migrations: %w", err)
	}
	return nil
}

// CleanData truncates all tables without dropping them (for testing)
func (db *DB) CleanData(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		TRUNCATE TABLE game_rounds, free_spin_transactions, free_spins, transactions,
		               play_sessions, jackpot_pools, games, users CASCADE;
	`)
	return err
}
