package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
	sqlite3 "modernc.org/sqlite/lib"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS sweets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		price TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sweets_category ON sweets(category)`,
	`CREATE TABLE IF NOT EXISTS vouchers (
		code TEXT PRIMARY KEY,
		discount_percent INTEGER NOT NULL CHECK (discount_percent BETWEEN 0 AND 100),
		active INTEGER NOT NULL,
		valid_until DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS purchases (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		sweet_id INTEGER NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		total_cost TEXT NOT NULL,
		voucher_code TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_purchases_user ON purchases(user_id)`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
}

// NewSQLiteStore opens (or creates) the SQLite database at dbPath.
// Transactions begin IMMEDIATE so the write lock is taken before the stock
// row is read, and a single connection serializes writers.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate&_time_format=sqlite", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports 1 writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Keep connection alive

	store, err := newSQLStore(db, sqlDialect{
		name:          "sqlite",
		schema:        sqliteSchema,
		classify:      classifySQLite,
		asciiCaseFold: true,
	}, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	store.log.Info("initialized", zap.String("path", dbPath))
	return store, nil
}

func classifySQLite(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case sqlite3.SQLITE_CONSTRAINT:
		if se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		}
	}
	return err
}
