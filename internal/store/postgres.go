package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// updateLockKey is the pg_advisory_xact_lock key serializing Update across
// every process sharing the database.
const updateLockKey int64 = 0x62726e6467616c // "brndgal"

// PostgresStore keeps both collections in the admin schema of a PostgreSQL database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to connString and creates the schema if missing.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS admin;

		CREATE TABLE IF NOT EXISTS admin.users (
			email TEXT PRIMARY KEY,
			id TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			salt TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			position INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS admin.reset_tokens (
			token_hash TEXT NOT NULL,
			email TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			position INTEGER NOT NULL
		);
	`)
	return err
}

func (s *PostgresStore) ReadAdminUsers(ctx context.Context) ([]AdminUser, error) {
	return pgReadUsers(ctx, s.pool)
}

func (s *PostgresStore) ReadResetTokens(ctx context.Context) ([]ResetToken, error) {
	return pgReadTokens(ctx, s.pool)
}

func (s *PostgresStore) WriteAdminUsers(ctx context.Context, users []AdminUser) error {
	return s.Update(ctx, func(tx Tx) error {
		tx.SetAdminUsers(users)
		return nil
	})
}

func (s *PostgresStore) WriteResetTokens(ctx context.Context, tokens []ResetToken) error {
	return s.Update(ctx, func(tx Tx) error {
		tx.SetResetTokens(tokens)
		return nil
	})
}

func (s *PostgresStore) Update(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", updateLockKey); err != nil {
		return fmt.Errorf("failed to acquire store lock: %w", err)
	}

	snap := &snapshot{}
	if snap.users, err = pgReadUsers(ctx, tx); err != nil {
		return err
	}
	if snap.tokens, err = pgReadTokens(ctx, tx); err != nil {
		return err
	}

	if err := fn(snap); err != nil {
		return err
	}

	if snap.usersDirty {
		if _, err := tx.Exec(ctx, "DELETE FROM admin.users"); err != nil {
			return fmt.Errorf("failed to clear users: %w", err)
		}
		for i, u := range snap.users {
			_, err := tx.Exec(ctx, `
				INSERT INTO admin.users (id, email, password_hash, salt, created_at, position)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, u.ID, u.Email, u.PasswordHash, u.Salt, u.CreatedAt, i)
			if err != nil {
				return fmt.Errorf("failed to insert user: %w", err)
			}
		}
	}
	if snap.tokensDirty {
		if _, err := tx.Exec(ctx, "DELETE FROM admin.reset_tokens"); err != nil {
			return fmt.Errorf("failed to clear reset tokens: %w", err)
		}
		for i, t := range snap.tokens {
			_, err := tx.Exec(ctx, `
				INSERT INTO admin.reset_tokens (email, token_hash, expires_at, created_at, position)
				VALUES ($1, $2, $3, $4, $5)
			`, t.Email, t.TokenHash, t.ExpiresAt, t.CreatedAt, i)
			if err != nil {
				return fmt.Errorf("failed to insert reset token: %w", err)
			}
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func pgReadUsers(ctx context.Context, q querier) ([]AdminUser, error) {
	rows, err := q.Query(ctx, `
		SELECT id, email, password_hash, salt, created_at
		FROM admin.users
		ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users, err := pgx.CollectRows(rows, pgx.RowToStructByName[AdminUser])
	if err != nil {
		return nil, fmt.Errorf("failed to scan users: %w", err)
	}
	return users, nil
}

func pgReadTokens(ctx context.Context, q querier) ([]ResetToken, error) {
	rows, err := q.Query(ctx, `
		SELECT email, token_hash, expires_at, created_at
		FROM admin.reset_tokens
		ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reset tokens: %w", err)
	}
	tokens, err := pgx.CollectRows(rows, pgx.RowToStructByName[ResetToken])
	if err != nil {
		return nil, fmt.Errorf("failed to scan reset tokens: %w", err)
	}
	return tokens, nil
}
