package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/upb/helpdesk/models"
	"github.com/upb/helpdesk/repositories"
	"go.uber.org/zap"
)

// chainLockKey identifies the transaction-scoped advisory lock that
// serializes appends. Every writer must use the same key.
const chainLockKey int64 = 0x6864617564697400

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = "23505"

const auditChainColumns = `id, sequence_number, timestamp, action, actor_id, actor_email, actor_type,
		       entity_type, entity_id, metadata, previous_hash, self_hash`

// AuditChainRepository implements repositories.AuditChainRepository on PostgreSQL
type AuditChainRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditChainRepository creates a new audit chain repository
func NewAuditChainRepository(db *DB, logger *zap.Logger) repositories.AuditChainRepository {
	return &AuditChainRepository{
		db:     db,
		logger: logger,
	}
}

// LockTail takes the chain advisory lock for the current transaction and
// returns the entry with the highest sequence number
func (r *AuditChainRepository) LockTail(ctx context.Context) (*models.AuditLogEntry, error) {
	if !inTransaction(ctx) {
		return nil, errors.New("lock tail requires a transaction")
	}

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", chainLockKey); err != nil {
		return nil, fmt.Errorf("failed to acquire audit chain lock: %w", err)
	}

	query := `
		SELECT ` + auditChainColumns + `
		FROM audit_chain_entries
		ORDER BY sequence_number DESC
		LIMIT 1
	`
	entry, err := scanAuditEntry(executor.QueryRowContext(ctx, query))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read audit chain tail: %w", err)
	}
	return entry, nil
}

// Insert appends a computed entry
func (r *AuditChainRepository) Insert(ctx context.Context, entry *models.AuditLogEntry) error {
	query := `
		INSERT INTO audit_chain_entries (
			id, sequence_number, timestamp, action, actor_id, actor_email, actor_type,
			entity_type, entity_id, metadata, previous_hash, self_hash
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		entry.ID,
		entry.SequenceNumber,
		entry.Timestamp,
		entry.Action,
		entry.ActorID,
		entry.ActorEmail,
		entry.ActorType,
		entry.EntityType,
		entry.EntityID,
		string(entry.Metadata),
		entry.PreviousHash,
		entry.SelfHash,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return fmt.Errorf("%w: sequence %d", repositories.ErrSequenceConflict, entry.SequenceNumber)
		}
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	r.logger.Debug("audit entry inserted",
		zap.Int64("sequence", entry.SequenceNumber),
		zap.String("action", string(entry.Action)))
	return nil
}

// GetBySequence retrieves an entry by sequence number
func (r *AuditChainRepository) GetBySequence(ctx context.Context, sequence int64) (*models.AuditLogEntry, error) {
	query := `
		SELECT ` + auditChainColumns + `
		FROM audit_chain_entries
		WHERE sequence_number = $1
	`

	executor := GetExecutor(ctx, r.db)
	entry, err := scanAuditEntry(executor.QueryRowContext(ctx, query, sequence))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sequence %d", repositories.ErrNotFound, sequence)
		}
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}
	return entry, nil
}

// ListByTimeRange returns one keyset page of a verification window
func (r *AuditChainRepository) ListByTimeRange(ctx context.Context, start, end time.Time, afterSequence int64, limit int) ([]*models.AuditLogEntry, error) {
	query := `
		SELECT ` + auditChainColumns + `
		FROM audit_chain_entries
		WHERE timestamp >= $1 AND timestamp <= $2 AND sequence_number > $3
		ORDER BY sequence_number ASC
		LIMIT $4
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, start.UTC(), end.UTC(), afterSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries by time range: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

// ListBySequenceRange returns the stored entries strictly between two sequence numbers
func (r *AuditChainRepository) ListBySequenceRange(ctx context.Context, afterSequence, beforeSequence int64, limit int) ([]*models.AuditLogEntry, error) {
	query := `
		SELECT ` + auditChainColumns + `
		FROM audit_chain_entries
		WHERE sequence_number > $1 AND sequence_number < $2
		ORDER BY sequence_number ASC
		LIMIT $3
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, afterSequence, beforeSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries by sequence: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

// List retrieves entries matching filter, newest first
func (r *AuditChainRepository) List(ctx context.Context, filter models.AuditLogFilter, limit, offset int) ([]*models.AuditLogEntry, error) {
	where, args := buildFilter(filter)
	args = append(args, limit, offset)

	query := fmt.Sprintf(`
		SELECT %s
		FROM audit_chain_entries
		%s
		ORDER BY sequence_number DESC
		LIMIT $%d OFFSET $%d
	`, auditChainColumns, where, len(args)-1, len(args))

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

// Count returns the number of entries matching filter
func (r *AuditChainRepository) Count(ctx context.Context, filter models.AuditLogFilter) (int64, error) {
	where, args := buildFilter(filter)
	query := "SELECT COUNT(*) FROM audit_chain_entries " + where

	var count int64
	executor := GetExecutor(ctx, r.db)
	if err := executor.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return count, nil
}

// HealthCheck verifies the database is reachable
func (r *AuditChainRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// buildFilter renders a WHERE clause with positional parameters
func buildFilter(filter models.AuditLogFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, value interface{}) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.EntityType != "" {
		add("entity_type = $%d", filter.EntityType)
	}
	if filter.EntityID != "" {
		add("entity_id = $%d", filter.EntityID)
	}
	if filter.Start != nil {
		add("timestamp >= $%d", filter.Start.UTC())
	}
	if filter.End != nil {
		add("timestamp <= $%d", filter.End.UTC())
	}

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditEntry(row rowScanner) (*models.AuditLogEntry, error) {
	var (
		entry    models.AuditLogEntry
		metadata string
	)
	err := row.Scan(
		&entry.ID,
		&entry.SequenceNumber,
		&entry.Timestamp,
		&entry.Action,
		&entry.ActorID,
		&entry.ActorEmail,
		&entry.ActorType,
		&entry.EntityType,
		&entry.EntityID,
		&metadata,
		&entry.PreviousHash,
		&entry.SelfHash,
	)
	if err != nil {
		return nil, err
	}
	entry.Timestamp = entry.Timestamp.UTC()
	entry.Metadata = []byte(metadata)
	return &entry, nil
}

func scanAuditEntries(rows *sql.Rows) ([]*models.AuditLogEntry, error) {
	var entries []*models.AuditLogEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}
