package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Config controls how the storage layer is initialized.
type Config struct {
	Path string
}

// Store wraps a SQLite backed persistence layer for saved queries and run
// history.
type Store struct {
	db *sql.DB
}

// New creates a storage instance, ensuring the database is migrated.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		cfg.Path = "data/hl7ql.db"
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetConnMaxLifetime(time.Minute * 5)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases all database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS saved_queries (
			id TEXT PRIMARY KEY,
			name TEXT,
			address TEXT,
			filter_mode TEXT,
			filter_logic TEXT,
			filters TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS run_history (
			id TEXT PRIMARY KEY,
			query_id TEXT,
			address TEXT,
			total_messages INTEGER NOT NULL DEFAULT 0,
			filtered_messages INTEGER,
			messages_with_value INTEGER NOT NULL DEFAULT 0,
			messages_without_value INTEGER NOT NULL DEFAULT 0,
			total_occurrences INTEGER NOT NULL DEFAULT 0,
			success INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (query_id) REFERENCES saved_queries(id) ON DELETE SET NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_run_history_created_at ON run_history(created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	return nil
}
