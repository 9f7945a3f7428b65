package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"formhook/internal/platform/config"

	_ "github.com/mattn/go-sqlite3"
)

// DSN builds a go-sqlite3 connection string with foreign keys enforced, which
// the response cascade depends on.
func DSN(path string, busyTimeout time.Duration) string {
	path = strings.TrimPrefix(path, "file:")
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("file:%s%s_foreign_keys=on&_busy_timeout=%d&_journal_mode=WAL",
		path, sep, busyTimeout.Milliseconds())
}

func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", DSN(cfg.Path, cfg.BusyTimeout))
	if err != nil {
		return nil, err
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// OpenMemory opens a private in-memory database with the schema applied.
// A single connection keeps every query on the same memory database.
func OpenMemory(name string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := Migrate(db, "up"); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
