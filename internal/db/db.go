package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Pool sizing for the actor state table. Every update holds one connection
// for the length of its transaction.
const (
	maxOpenConns    = 16
	maxIdleConns    = 4
	connMaxIdleTime = time.Minute
	pingTimeout     = 5 * time.Second
)

// Database is the postgres pool behind the SQL store backend.
type Database struct {
	Conn *sql.DB
}

// NewDatabase opens a pgx pool and verifies it answers before ctx, or the
// ping timeout, runs out.
func NewDatabase(ctx context.Context, dsn string) (*Database, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	conn.SetMaxOpenConns(maxOpenConns)
	conn.SetMaxIdleConns(maxIdleConns)
	conn.SetConnMaxIdleTime(connMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Database{Conn: conn}, nil
}

// AutoMigrate creates the actor state table. Every actor owns the rows of
// its own namespace.
func (d *Database) AutoMigrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS actor_state (
            namespace  TEXT NOT NULL,
            key        TEXT NOT NULL,
            value      BYTEA NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (namespace, key)
        )`,
	}

	for _, query := range queries {
		if _, err := d.Conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (d *Database) Close() error {
	return d.Conn.Close()
}
