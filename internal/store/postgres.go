package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go-chatroom/internal/db"
)

// PostgresBackend keeps every namespace as rows of the actor_state table.
type PostgresBackend struct {
	db *db.Database
}

// NewPostgresBackend expects AutoMigrate to have run on database.
func NewPostgresBackend(database *db.Database) *PostgresBackend {
	return &PostgresBackend{db: database}
}

func (b *PostgresBackend) Namespace(name string) Store {
	return &postgresStore{conn: b.db.Conn, ns: name}
}

func (b *PostgresBackend) Close() error { return b.db.Close() }

type postgresStore struct {
	conn *sql.DB
	ns   string
}

func (s *postgresStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	var data []byte
	err := s.conn.QueryRowContext(ctx,
		`SELECT value FROM actor_state WHERE namespace = $1 AND key = $2`, s.ns, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select %s: %w", key, err)
	}
	return true, decode(key, data, dest)
}

func (s *postgresStore) Put(ctx context.Context, key string, v any) error {
	data, err := encode(key, v)
	if err != nil {
		return err
	}
	return upsert(ctx, s.conn, s.ns, key, data)
}

func (s *postgresStore) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		if _, err := s.conn.ExecContext(ctx,
			`DELETE FROM actor_state WHERE namespace = $1 AND key = $2`, s.ns, k); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return nil
}

func (s *postgresStore) DeleteAll(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM actor_state WHERE namespace = $1`, s.ns); err != nil {
		return fmt.Errorf("delete namespace %s: %w", s.ns, err)
	}
	return nil
}

// Update serializes writers of one key with a transaction-scoped advisory
// lock, which also covers keys that do not exist yet.
func (s *postgresStore) Update(ctx context.Context, key string, fn func(cur []byte) ([]byte, error)) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.ns+":"+key); err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}

	var cur []byte
	err = tx.QueryRowContext(ctx,
		`SELECT value FROM actor_state WHERE namespace = $1 AND key = $2`, s.ns, key).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		cur = nil
	} else if err != nil {
		return fmt.Errorf("select %s: %w", key, err)
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}
	if next == nil {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM actor_state WHERE namespace = $1 AND key = $2`, s.ns, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	} else if err := upsert(ctx, tx, s.ns, key, next); err != nil {
		return err
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, e execer, ns, key string, data []byte) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO actor_state (namespace, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		ns, key, data)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}
