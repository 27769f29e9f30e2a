package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps both collections in a SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// sqliteTime is the text layout used for timestamp columns.
const sqliteTime = time.RFC3339Nano

// userRow and tokenRow map 1:1 to the table columns. Timestamps are stored as
// text so they round-trip exactly regardless of driver time handling.
type userRow struct {
	ID           string `db:"id"`
	Email        string `db:"email"`
	PasswordHash string `db:"password_hash"`
	Salt         string `db:"salt"`
	CreatedAt    string `db:"created_at"`
}

type tokenRow struct {
	Email     string `db:"email"`
	TokenHash string `db:"token_hash"`
	ExpiresAt string `db:"expires_at"`
	CreatedAt string `db:"created_at"`
}

// NewSQLiteStore opens (or creates) the database at path. Pass ":memory:" for
// a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open credential database: %w", err)
	}

	db.SetMaxOpenConns(1) // one writer, and ":memory:" is per connection

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate credential database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS admin_users (
			email TEXT PRIMARY KEY,
			id TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			salt TEXT NOT NULL,
			created_at TEXT NOT NULL,
			position INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reset_tokens (
			token_hash TEXT NOT NULL,
			email TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			created_at TEXT NOT NULL,
			position INTEGER NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) ReadAdminUsers(ctx context.Context) ([]AdminUser, error) {
	return readUsers(ctx, s.db)
}

func (s *SQLiteStore) ReadResetTokens(ctx context.Context) ([]ResetToken, error) {
	return readTokens(ctx, s.db)
}

func (s *SQLiteStore) WriteAdminUsers(ctx context.Context, users []AdminUser) error {
	return s.Update(ctx, func(tx Tx) error {
		tx.SetAdminUsers(users)
		return nil
	})
}

func (s *SQLiteStore) WriteResetTokens(ctx context.Context, tokens []ResetToken) error {
	return s.Update(ctx, func(tx Tx) error {
		tx.SetResetTokens(tokens)
		return nil
	})
}

// Update runs fn inside an immediate transaction, so the write lock is held
// from the first read.
func (s *SQLiteStore) Update(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	snap := &snapshot{}
	if snap.users, err = readUsers(ctx, tx); err != nil {
		return err
	}
	if snap.tokens, err = readTokens(ctx, tx); err != nil {
		return err
	}

	if err := fn(snap); err != nil {
		return err
	}

	if snap.usersDirty {
		if err := writeUsers(ctx, tx, snap.users); err != nil {
			return err
		}
	}
	if snap.tokensDirty {
		if err := writeTokens(ctx, tx, snap.tokens); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func readUsers(ctx context.Context, q sqlx.QueryerContext) ([]AdminUser, error) {
	var rows []userRow
	if err := sqlx.SelectContext(ctx, q, &rows,
		"SELECT id, email, password_hash, salt, created_at FROM admin_users ORDER BY position"); err != nil {
		return nil, fmt.Errorf("list admin users: %w", err)
	}
	users := make([]AdminUser, 0, len(rows))
	for _, r := range rows {
		created, err := time.Parse(sqliteTime, r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: admin user %s: %v", ErrCorrupt, r.Email, err)
		}
		users = append(users, AdminUser{
			ID:           r.ID,
			Email:        r.Email,
			PasswordHash: r.PasswordHash,
			Salt:         r.Salt,
			CreatedAt:    created,
		})
	}
	return users, nil
}

func readTokens(ctx context.Context, q sqlx.QueryerContext) ([]ResetToken, error) {
	var rows []tokenRow
	if err := sqlx.SelectContext(ctx, q, &rows,
		"SELECT email, token_hash, expires_at, created_at FROM reset_tokens ORDER BY position"); err != nil {
		return nil, fmt.Errorf("list reset tokens: %w", err)
	}
	tokens := make([]ResetToken, 0, len(rows))
	for _, r := range rows {
		expires, err := time.Parse(sqliteTime, r.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("%w: reset token: %v", ErrCorrupt, err)
		}
		created, err := time.Parse(sqliteTime, r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: reset token: %v", ErrCorrupt, err)
		}
		tokens = append(tokens, ResetToken{
			Email:     r.Email,
			TokenHash: r.TokenHash,
			ExpiresAt: expires,
			CreatedAt: created,
		})
	}
	return tokens, nil
}

func writeUsers(ctx context.Context, tx *sqlx.Tx, users []AdminUser) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM admin_users"); err != nil {
		return fmt.Errorf("clear admin users: %w", err)
	}
	const q = `INSERT INTO admin_users (id, email, password_hash, salt, created_at, position)
		VALUES (?, ?, ?, ?, ?, ?)`
	for i, u := range users {
		if _, err := tx.ExecContext(ctx, q,
			u.ID, u.Email, u.PasswordHash, u.Salt, u.CreatedAt.UTC().Format(sqliteTime), i); err != nil {
			return fmt.Errorf("insert admin user: %w", err)
		}
	}
	return nil
}

func writeTokens(ctx context.Context, tx *sqlx.Tx, tokens []ResetToken) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM reset_tokens"); err != nil {
		return fmt.Errorf("clear reset tokens: %w", err)
	}
	const q = `INSERT INTO reset_tokens (email, token_hash, expires_at, created_at, position)
		VALUES (?, ?, ?, ?, ?)`
	for i, t := range tokens {
		if _, err := tx.ExecContext(ctx, q,
			t.Email, t.TokenHash,
			t.ExpiresAt.UTC().Format(sqliteTime), t.CreatedAt.UTC().Format(sqliteTime), i); err != nil {
			return fmt.Errorf("insert reset token: %w", err)
		}
	}
	return nil
}
