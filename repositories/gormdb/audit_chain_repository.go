package gormdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/helpdesk/models"
	"github.com/upb/helpdesk/repositories"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// auditEntryRow is the gorm mapping of models.AuditLogEntry
type auditEntryRow struct {
	ID             string    `gorm:"type:varchar(36);primaryKey"`
	SequenceNumber int64     `gorm:"not null;uniqueIndex:idx_audit_chain_entries_sequence"`
	Timestamp      time.Time `gorm:"not null;index:idx_audit_chain_entries_timestamp"`
	Action         string    `gorm:"size:100;not null;index:idx_audit_chain_entries_action"`
	ActorID        string    `gorm:"size:255;not null;default:'';index:idx_audit_chain_entries_actor_id"`
	ActorEmail     string    `gorm:"size:255;not null;default:''"`
	ActorType      string    `gorm:"size:20;not null"`
	EntityType     string    `gorm:"size:100;not null;default:'';index:idx_audit_chain_entries_entity"`
	EntityID       string    `gorm:"size:255;not null;default:'';index:idx_audit_chain_entries_entity"`
	Metadata       string    `gorm:"type:text;not null"`
	PreviousHash   string    `gorm:"size:64;not null"`
	SelfHash       string    `gorm:"size:64;not null"`
}

func (auditEntryRow) TableName() string {
	return models.AuditLogEntry{}.TableName()
}

func toRow(e *models.AuditLogEntry) *auditEntryRow {
	return &auditEntryRow{
		ID:             e.ID.String(),
		SequenceNumber: e.SequenceNumber,
		Timestamp:      e.Timestamp.UTC(),
		Action:         string(e.Action),
		ActorID:        e.ActorID,
		ActorEmail:     e.ActorEmail,
		ActorType:      string(e.ActorType),
		EntityType:     e.EntityType,
		EntityID:       e.EntityID,
		Metadata:       string(e.Metadata),
		PreviousHash:   e.PreviousHash,
		SelfHash:       e.SelfHash,
	}
}

func (r *auditEntryRow) toModel() (*models.AuditLogEntry, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid audit entry id %q: %w", r.ID, err)
	}
	return &models.AuditLogEntry{
		ID:             id,
		SequenceNumber: r.SequenceNumber,
		Timestamp:      r.Timestamp.UTC(),
		Action:         models.AuditAction(r.Action),
		ActorID:        r.ActorID,
		ActorEmail:     r.ActorEmail,
		ActorType:      models.ActorType(r.ActorType),
		EntityType:     r.EntityType,
		EntityID:       r.EntityID,
		Metadata:       []byte(r.Metadata),
		PreviousHash:   r.PreviousHash,
		SelfHash:       r.SelfHash,
	}, nil
}

// AuditChainRepository implements repositories.AuditChainRepository with gorm
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

// LockTail returns the entry with the highest sequence number. The
// single-connection pool already serializes transactions, so holding the
// transaction is the lock.
func (r *AuditChainRepository) LockTail(ctx context.Context) (*models.AuditLogEntry, error) {
	if _, ok := GetTransactionFromContext(ctx); !ok {
		return nil, errors.New("lock tail requires a transaction")
	}

	var rows []auditEntryRow
	err := conn(ctx, r.db).
		Order("sequence_number DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read audit chain tail: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toModel()
}

// Insert appends a computed entry
func (r *AuditChainRepository) Insert(ctx context.Context, entry *models.AuditLogEntry) error {
	if err := conn(ctx, r.db).Create(toRow(entry)).Error; err != nil {
		if isUniqueViolation(err) {
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
	var rows []auditEntryRow
	err := conn(ctx, r.db).
		Where("sequence_number = ?", sequence).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get audit entry: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: sequence %d", repositories.ErrNotFound, sequence)
	}
	return rows[0].toModel()
}

// ListByTimeRange returns one keyset page of a verification window
func (r *AuditChainRepository) ListByTimeRange(ctx context.Context, start, end time.Time, afterSequence int64, limit int) ([]*models.AuditLogEntry, error) {
	var rows []auditEntryRow
	err := conn(ctx, r.db).
		Where("timestamp >= ? AND timestamp <= ? AND sequence_number > ?", start.UTC(), end.UTC(), afterSequence).
		Order("sequence_number ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries by time range: %w", err)
	}
	return toModels(rows)
}

// ListBySequenceRange returns the stored entries strictly between two sequence numbers
func (r *AuditChainRepository) ListBySequenceRange(ctx context.Context, afterSequence, beforeSequence int64, limit int) ([]*models.AuditLogEntry, error) {
	var rows []auditEntryRow
	err := conn(ctx, r.db).
		Where("sequence_number > ? AND sequence_number < ?", afterSequence, beforeSequence).
		Order("sequence_number ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries by sequence: %w", err)
	}
	return toModels(rows)
}

// List retrieves entries matching filter, newest first
func (r *AuditChainRepository) List(ctx context.Context, filter models.AuditLogFilter, limit, offset int) ([]*models.AuditLogEntry, error) {
	var rows []auditEntryRow
	err := applyFilter(conn(ctx, r.db), filter).
		Order("sequence_number DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return toModels(rows)
}

// Count returns the number of entries matching filter
func (r *AuditChainRepository) Count(ctx context.Context, filter models.AuditLogFilter) (int64, error) {
	var count int64
	err := applyFilter(conn(ctx, r.db).Model(&auditEntryRow{}), filter).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return count, nil
}

// HealthCheck verifies the database is reachable
func (r *AuditChainRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

func applyFilter(q *gorm.DB, filter models.AuditLogFilter) *gorm.DB {
	if filter.Action != "" {
		q = q.Where("action = ?", string(filter.Action))
	}
	if filter.ActorID != "" {
		q = q.Where("actor_id = ?", filter.ActorID)
	}
	if filter.EntityType != "" {
		q = q.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != "" {
		q = q.Where("entity_id = ?", filter.EntityID)
	}
	if filter.Start != nil {
		q = q.Where("timestamp >= ?", filter.Start.UTC())
	}
	if filter.End != nil {
		q = q.Where("timestamp <= ?", filter.End.UTC())
	}
	return q
}

func toModels(rows []auditEntryRow) ([]*models.AuditLogEntry, error) {
	entries := make([]*models.AuditLogEntry, 0, len(rows))
	for i := range rows {
		entry, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// isUniqueViolation matches gorm's translated error and the raw sqlite message
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
