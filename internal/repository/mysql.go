package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS sweets (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		category VARCHAR(32) NOT NULL,
		price DECIMAL(12,2) NOT NULL,
		quantity INT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_sweets_category (category),
		CONSTRAINT chk_sweets_quantity CHECK (quantity >= 0)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS vouchers (
		code VARCHAR(64) PRIMARY KEY,
		discount_percent INT NOT NULL,
		active BOOLEAN NOT NULL,
		valid_until DATETIME(6) NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS purchases (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT NOT NULL,
		sweet_id BIGINT NOT NULL,
		quantity INT NOT NULL,
		total_cost DECIMAL(12,2) NOT NULL,
		voucher_code VARCHAR(64) NULL,
		created_at DATETIME(6) NOT NULL,
		INDEX idx_purchases_user (user_id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		role VARCHAR(16) NOT NULL,
		created_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB`,
}

// MySQL error numbers treated as transient.
const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
	mysqlErrDupEntry        = 1062
)

// NewMySQLStore connects to MySQL. Stock rows are locked with SELECT ... FOR UPDATE.
// dsn format: "user:pass@tcp(host:port)/db?parseTime=true&clientFoundRows=true"
func NewMySQLStore(dsn string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}

	// Connection pool settings for high traffic
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	store, err := newSQLStore(db, sqlDialect{
		name:       "mysql",
		lockClause: " FOR UPDATE",
		schema:     mysqlSchema,
		classify:   classifyMySQL,
	}, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	store.log.Info("initialized", zap.Int("max_open_conns", 25))
	return store, nil
}

func classifyMySQL(err error) error {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return err
	}
	switch me.Number {
	case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case mysqlErrDupEntry:
		return fmt.Errorf("%w: %w", ErrDuplicate, err)
	}
	return err
}
