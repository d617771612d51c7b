// Package database provides PostgreSQL access for the gateway sandbox
package database

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB wraps the SQL database connection
type DB struct {
	*sql.DB
}

// New creates a new database connection
func New(ctx context.Context, driver, dsn string) (*DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Migrate creates all required tables
func (db *DB) Migrate(ctx context.Context) error {
	schema := `
	-- Float account debited by every accepted disbursement
	CREATE TABLE IF NOT EXISTS float_accounts (
		service_provider_code VARCHAR(20) PRIMARY KEY,
		amount BIGINT NOT NULL,
		currency VARCHAR(3) NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- Accepted disbursements; the third-party reference is the idempotency key
	CREATE TABLE IF NOT EXISTS disbursements (
		id UUID PRIMARY KEY,
		conversation_id VARCHAR(64) NOT NULL,
		transaction_id VARCHAR(32) NOT NULL,
		transaction_reference VARCHAR(20) NOT NULL,
		third_party_reference VARCHAR(255) UNIQUE NOT NULL,
		customer_msisdn VARCHAR(15) NOT NULL,
		service_provider_code VARCHAR(20) NOT NULL,
		amount BIGINT NOT NULL,
		currency VARCHAR(3) NOT NULL,
		status VARCHAR(20) NOT NULL,
		response_code VARCHAR(16) NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	-- Operator switches such as the overload toggle
	CREATE TABLE IF NOT EXISTS gateway_state (
		key VARCHAR(64) PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		updated_by VARCHAR(255) NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_disbursements_created ON disbursements(created_at);
	`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Reset drops all tables (for testing)
func (db *DB) Reset(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		DROP TABLE IF EXISTS gateway_state CASCADE;
		DROP TABLE IF EXISTS disbursements CASCADE;
		DROP TABLE IF EXISTS float_accounts CASCADE;
	`)
	return err
}

// CleanData truncates all tables without dropping them (for testing)
func (db *DB) CleanData(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		TRUNCATE TABLE gateway_state, disbursements, float_accounts;
	`)
	return err
}
