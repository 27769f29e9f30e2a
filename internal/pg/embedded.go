// Package pg runs a local PostgreSQL for the postgres credential store
// when no external database is configured.
package pg

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5"

	"github.com/markb/brandgallery/internal/log"
)

type EmbeddedDatabase struct {
	postgres   *embeddedpostgres.EmbeddedPostgres
	config     Config
	connString string
	mu         sync.RWMutex
	started    bool
}

func NewEmbeddedDatabase(cfg Config) *EmbeddedDatabase {
	def := DefaultConfig()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.Username == "" {
		cfg.Username = def.Username
	}
	if cfg.Password == "" {
		cfg.Password = def.Password
	}
	if cfg.Database == "" {
		cfg.Database = def.Database
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     "localhost:" + strconv.Itoa(int(cfg.Port)),
		Path:     "/" + cfg.Database,
		RawQuery: "sslmode=disable",
	}

	return &EmbeddedDatabase{
		config:     cfg,
		connString: u.String(),
	}
}

// Start launches postgres and waits until it accepts connections.
func (db *EmbeddedDatabase) Start(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.started {
		return nil
	}

	config := embeddedpostgres.DefaultConfig().
		Port(uint32(db.config.Port)).
		Username(db.config.Username).
		Password(db.config.Password).
		Database(db.config.Database).
		Version(embeddedpostgres.PostgresVersion(db.config.Version)).
		Logger(io.Discard)

	if db.config.DataDir != "" {
		if err := os.MkdirAll(db.config.DataDir, 0700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		config = config.DataPath(filepath.Join(db.config.DataDir, "data"))
	}
	if db.config.RuntimePath != "" {
		config = config.RuntimePath(db.config.RuntimePath)
	}

	db.postgres = embeddedpostgres.NewDatabase(config)

	log.Info("starting embedded postgres", "port", db.config.Port, "version", db.config.Version)

	done := make(chan error, 1)
	go func() {
		done <- db.postgres.Start()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to start postgres: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("postgres start timed out: %w", ctx.Err())
	}

	if err := db.waitReady(ctx); err != nil {
		return fmt.Errorf("postgres not ready: %w", err)
	}

	db.started = true
	return nil
}

func (db *EmbeddedDatabase) Stop() {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.started {
		return
	}

	if db.postgres != nil {
		if err := db.postgres.Stop(); err != nil {
			log.Warn("failed to stop embedded postgres", "error", err)
		}
	}
	db.started = false
}

// ConnectionString is the DSN handed to the postgres store.
func (db *EmbeddedDatabase) ConnectionString() string {
	return db.connString
}

func (db *EmbeddedDatabase) waitReady(ctx context.Context) error {
	const maxRetries = 60
	const retryDelay = 500 * time.Millisecond

	for range maxRetries {
		conn, err := pgx.Connect(ctx, db.connString)
		if err == nil {
			err = conn.Ping(ctx)
			conn.Close(ctx)
			if err == nil {
				return nil
			}
		}

		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("postgres did not become ready")
}
