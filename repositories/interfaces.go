package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/upb/helpdesk/models"
)

var (
	// ErrNotFound is returned when a requested entry does not exist
	ErrNotFound = errors.New("audit entry not found")

	// ErrSequenceConflict is returned when another writer already holds the
	// sequence number being inserted
	ErrSequenceConflict = errors.New("audit sequence number already taken")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// AuditChainRepository stores the append-only audit hash chain.
// Entries are immutable once inserted.
type AuditChainRepository interface {
	// LockTail takes the append lock for the current transaction and returns
	// the entry with the highest sequence number, or nil when the chain is empty.
	// Must be called inside InTransaction.
	LockTail(ctx context.Context) (*models.AuditLogEntry, error)

	// Insert appends a fully computed entry. A duplicate sequence number
	// returns ErrSequenceConflict.
	Insert(ctx context.Context, entry *models.AuditLogEntry) error

	// GetBySequence retrieves an entry by sequence number
	GetBySequence(ctx context.Context, sequence int64) (*models.AuditLogEntry, error)

	// ListByTimeRange returns up to limit entries with start <= timestamp <= end
	// and sequence number greater than afterSequence, ordered by sequence number
	ListByTimeRange(ctx context.Context, start, end time.Time, afterSequence int64, limit int) ([]*models.AuditLogEntry, error)

	// ListBySequenceRange returns up to limit entries with
	// afterSequence < sequence number < beforeSequence, ordered by sequence
	// number, whatever their timestamp
	ListBySequenceRange(ctx context.Context, afterSequence, beforeSequence int64, limit int) ([]*models.AuditLogEntry, error)

	// List retrieves entries matching filter, newest first, with pagination
	List(ctx context.Context, filter models.AuditLogFilter, limit, offset int) ([]*models.AuditLogEntry, error)

	// Count returns the number of entries matching filter
	Count(ctx context.Context, filter models.AuditLogFilter) (int64, error)

	// HealthCheck verifies the store is reachable
	HealthCheck(ctx context.Context) error
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	AuditChain AuditChainRepository
	TxManager  TransactionManager
}

// Factory owns the database handles behind a Repositories set
type Factory interface {
	// NewRepositories creates all repository instances
	NewRepositories() *Repositories

	// HealthCheck performs a health check on the database
	HealthCheck(ctx context.Context) error

	// SQLDB returns the pool backing the audit chain for readiness probes
	SQLDB() *sql.DB

	// Close closes the database connection(s)
	Close() error
}
