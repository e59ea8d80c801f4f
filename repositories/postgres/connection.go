package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/helpdesk/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return NewDBFromConn(db, logger), nil
}

// NewDBFromConn wraps an already opened pool
func NewDBFromConn(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{
		DB:     db,
		logger: logger,
	}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	// Check if we can query
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// Stats returns database connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}

// auditSchema creates the audit chain table. sequence_number is unique so
// two writers can never both extend the same tail.
const auditSchema = `
	CREATE TABLE IF NOT EXISTS audit_chain_entries (
		id UUID PRIMARY KEY,
		sequence_number BIGINT NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		action VARCHAR(100) NOT NULL,
		actor_id VARCHAR(255) NOT NULL DEFAULT '',
		actor_email VARCHAR(255) NOT NULL DEFAULT '',
		actor_type VARCHAR(20) NOT NULL,
		entity_type VARCHAR(100) NOT NULL DEFAULT '',
		entity_id VARCHAR(255) NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		previous_hash CHAR(64) NOT NULL,
		self_hash CHAR(64) NOT NULL,
		CONSTRAINT audit_chain_entries_sequence_number_key UNIQUE (sequence_number)
	);
	CREATE INDEX IF NOT EXISTS idx_audit_chain_entries_timestamp ON audit_chain_entries(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_chain_entries_action ON audit_chain_entries(action);
	CREATE INDEX IF NOT EXISTS idx_audit_chain_entries_actor_id ON audit_chain_entries(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_chain_entries_entity ON audit_chain_entries(entity_type, entity_id);
`

// InitAuditSchema initializes the audit chain schema
func (db *DB) InitAuditSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	db.logger.Info("audit schema initialized successfully")
	return nil
}
