// Package database owns the PostgreSQL and Redis connections shared by the
// user, audit and cache stores.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Querier is satisfied by both *sql.DB and *sql.Tx so store code can run
// inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Config holds database connection configuration
type Config struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// DB wraps the connection pool
type DB struct {
	*sql.DB
}

// Open connects to PostgreSQL, configures the pool and pings it
func Open(cfg Config) (*DB, error) {
	conn, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	configurePool(conn, cfg)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: conn}, nil
}

// New wraps an existing pool. Used with sqlmock in tests.
func New(conn *sql.DB) *DB {
	return &DB{DB: conn}
}

func configurePool(conn *sql.DB, cfg Config) {
	if cfg.MaxConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		conn.SetMaxIdleConns(cfg.MinConns)
	}
	maxLifetime := cfg.MaxLifetime
	if maxLifetime == 0 {
		maxLifetime = 30 * time.Minute
	}
	conn.SetConnMaxLifetime(maxLifetime)
	if cfg.MaxIdleTime > 0 {
		conn.SetConnMaxIdleTime(cfg.MaxIdleTime)
	}
}

// WithTransaction runs fn inside a transaction. The transaction commits only
// when fn returns nil; any error or panic rolls it back.
func (db *DB) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// PoolStats is a snapshot of the connection pool for metrics
type PoolStats struct {
	InUse int
	Idle  int
}

// PoolStats returns pool usage for the metrics collector
func (db *DB) PoolStats() PoolStats {
	s := db.DB.Stats()
	return PoolStats{InUse: s.InUse, Idle: s.Idle}
}
