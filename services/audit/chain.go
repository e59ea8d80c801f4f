package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/helpdesk/internal/chainhash"
	"github.com/upb/helpdesk/internal/clock"
	"github.com/upb/helpdesk/models"
	"github.com/upb/helpdesk/repositories"
	"github.com/upb/helpdesk/services"
	"github.com/upb/helpdesk/utils"
	"go.uber.org/zap"
)

// Config holds configuration for the Chain
type Config struct {
	MaxAttempts  int           // Append attempts on sequence conflicts
	RetryBackoff time.Duration // Pause between append attempts
	BatchSize    int           // Entries loaded per verification batch
	MaxReported  int           // Per-entry results kept in a report (0 = unlimited)
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		RetryBackoff: 50 * time.Millisecond,
		BatchSize:    500,
		MaxReported:  1000,
	}
}

// Chain appends to and verifies the audit hash chain
type Chain struct {
	repo      repositories.AuditChainRepository
	txMgr     repositories.TransactionManager
	digester  chainhash.Digester
	clock     clock.Clock
	publisher EntryPublisher
	logger    *zap.Logger
	config    Config
	newID     func() uuid.UUID
}

// NewChain creates a new Chain. publisher may be nil.
func NewChain(
	repos *repositories.Repositories,
	digester chainhash.Digester,
	clk clock.Clock,
	publisher EntryPublisher,
	logger *zap.Logger,
	config Config,
) *Chain {
	defaults := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.RetryBackoff < 0 {
		config.RetryBackoff = 0
	}
	if clk == nil {
		clk = clock.Real()
	}

	return &Chain{
		repo:      repos.AuditChain,
		txMgr:     repos.TxManager,
		digester:  digester,
		clock:     clk,
		publisher: publisher,
		logger:    logger,
		config:    config,
		newID:     uuid.New,
	}
}

// Algorithm returns the digest algorithm name used by the chain
func (c *Chain) Algorithm() string {
	return c.digester.Algorithm()
}

// Append validates event, links it to the current tail and persists it.
// A sequence conflict is retried; any other store failure is returned as
// an unavailable error.
func (c *Chain) Append(ctx context.Context, event models.AuditEvent) (*models.AuditLogEntry, error) {
	if event.ActorType == "" {
		event.ActorType = models.ActorTypeSystem
	}
	if err := utils.ValidateStruct(event); err != nil {
		domainErr := services.NewDomainError(services.ErrorTypeValidation, "invalid audit event", err)
		for field, msg := range utils.GetValidationFields(err) {
			domainErr.WithDetail(field, msg)
		}
		return nil, domainErr
	}

	metadata, err := encodeMetadata(event.Metadata)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "invalid audit metadata", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		entry, err := services.WithTransactionResult(ctx, c.txMgr, func(ctx context.Context, _ repositories.Transaction) (*models.AuditLogEntry, error) {
			return c.appendLocked(ctx, event, metadata)
		})
		if err == nil {
			c.logger.Debug("appended audit entry",
				zap.Int64("sequence", entry.SequenceNumber),
				zap.String("action", string(entry.Action)),
				zap.Int("attempt", attempt))
			c.publish(ctx, entry)
			return entry, nil
		}

		lastErr = err
		if !errors.Is(err, repositories.ErrSequenceConflict) {
			break
		}

		c.logger.Warn("audit sequence conflict, retrying",
			zap.String("action", string(event.Action)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.config.MaxAttempts))

		if attempt < c.config.MaxAttempts {
			if err := sleep(ctx, c.config.RetryBackoff); err != nil {
				lastErr = err
				break
			}
		}
	}

	c.logger.Error("failed to append audit entry",
		zap.String("action", string(event.Action)),
		zap.Error(lastErr))
	return nil, services.WrapUnavailable("failed to append audit entry", lastErr)
}

// appendLocked runs inside the append transaction
func (c *Chain) appendLocked(ctx context.Context, event models.AuditEvent, metadata json.RawMessage) (*models.AuditLogEntry, error) {
	tail, err := c.repo.LockTail(ctx)
	if err != nil {
		return nil, err
	}

	now := c.clock.Now().UTC().Truncate(time.Microsecond)
	entry := &models.AuditLogEntry{
		ID:             c.newID(),
		SequenceNumber: 1,
		Timestamp:      now,
		Action:         event.Action,
		ActorID:        event.ActorID,
		ActorEmail:     event.ActorEmail,
		ActorType:      event.ActorType,
		EntityType:     event.EntityType,
		EntityID:       event.EntityID,
		Metadata:       metadata,
		PreviousHash:   chainhash.GenesisHash,
	}
	if tail != nil {
		entry.SequenceNumber = tail.SequenceNumber + 1
		entry.PreviousHash = tail.SelfHash
		if entry.Timestamp.Before(tail.Timestamp) {
			entry.Timestamp = tail.Timestamp.UTC()
		}
	}

	entry.SelfHash, err = c.computeHash(entry)
	if err != nil {
		return nil, err
	}

	if err := c.repo.Insert(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (c *Chain) publish(ctx context.Context, entry *models.AuditLogEntry) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.Publish(ctx, entry); err != nil {
		c.logger.Warn("failed to publish audit entry",
			zap.Int64("sequence", entry.SequenceNumber),
			zap.Error(err))
	}
}

// Verify checks every entry with start <= timestamp <= end. Broken links are
// reported in the result; only store failures return an error.
func (c *Chain) Verify(ctx context.Context, start, end time.Time) (*models.VerificationReport, error) {
	if end.Before(start) {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "endDate must not be before startDate", nil).
			WithDetail("startDate", start).
			WithDetail("endDate", end)
	}

	report := models.NewVerificationReport(start, end, c.digester.Algorithm())

	var prev *models.AuditLogEntry
	afterSequence := int64(0)
	for {
		batch, err := c.repo.ListByTimeRange(ctx, start, end, afterSequence, c.config.BatchSize)
		if err != nil {
			return nil, services.WrapUnavailable("failed to read audit entries", err)
		}

		for _, entry := range batch {
			if prev == nil {
				err = c.verifyWindowPredecessor(ctx, entry, report)
			} else if entry.SequenceNumber > prev.SequenceNumber+1 {
				prev, err = c.verifyOutOfWindow(ctx, prev, entry.SequenceNumber, report)
			}
			if err != nil {
				return nil, services.WrapUnavailable("failed to read audit entries", err)
			}

			result, err := c.verifyEntry(ctx, entry, prev)
			if err != nil {
				return nil, services.WrapUnavailable("failed to read audit predecessor", err)
			}
			report.Add(result, c.config.MaxReported)
			prev = entry
			afterSequence = entry.SequenceNumber
		}

		if len(batch) < c.config.BatchSize {
			break
		}
	}

	report.VerifiedAt = c.clock.Now().UTC()

	if report.Valid {
		c.logger.Debug("audit chain verified",
			zap.Time("start", start),
			zap.Time("end", end),
			zap.Int("checked", report.TotalChecked))
	} else {
		c.logger.Warn("audit chain broken",
			zap.Time("start", start),
			zap.Time("end", end),
			zap.Int("checked", report.TotalChecked),
			zap.Int("broken", report.BrokenCount),
			zap.Int64p("first_broken_sequence", report.FirstBrokenSequence))
	}

	return report, nil
}

// verifyOutOfWindow checks the stored entries whose sequence numbers fall
// between prev and the next window entry. Timestamps never decrease along the
// chain, so these only exist when a stored timestamp was rewritten. Returns
// the last entry examined.
func (c *Chain) verifyOutOfWindow(ctx context.Context, prev *models.AuditLogEntry, before int64, report *models.VerificationReport) (*models.AuditLogEntry, error) {
	for {
		batch, err := c.repo.ListBySequenceRange(ctx, prev.SequenceNumber, before, c.config.BatchSize)
		if err != nil {
			return prev, err
		}
		for _, entry := range batch {
			result, err := c.verifyEntry(ctx, entry, prev)
			if err != nil {
				return prev, err
			}
			c.logger.Warn("audit entry stamped outside its window position",
				zap.Int64("sequence", entry.SequenceNumber),
				zap.Time("timestamp", entry.Timestamp))
			report.Add(result, c.config.MaxReported)
			prev = entry
		}
		if len(batch) < c.config.BatchSize {
			return prev, nil
		}
	}
}

// verifyWindowPredecessor reports the stored predecessor of the first window
// entry when its digest no longer matches. An intact predecessor outside the
// window is not counted.
func (c *Chain) verifyWindowPredecessor(ctx context.Context, first *models.AuditLogEntry, report *models.VerificationReport) error {
	if first.SequenceNumber <= 1 {
		return nil
	}
	predecessor, err := c.repo.GetBySequence(ctx, first.SequenceNumber-1)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if c.hashMatches(predecessor) {
		return nil
	}

	result, err := c.verifyEntry(ctx, predecessor, nil)
	if err != nil {
		return err
	}
	report.Add(result, c.config.MaxReported)
	return nil
}

// verifyEntry checks one entry. prev is the previously examined entry of the
// window, nil for the first one.
func (c *Chain) verifyEntry(ctx context.Context, entry, prev *models.AuditLogEntry) (models.EntryVerification, error) {
	result := models.EntryVerification{
		SequenceNumber:     entry.SequenceNumber,
		ID:                 entry.ID,
		Timestamp:          entry.Timestamp,
		Action:             entry.Action,
		Status:             models.EntryStatusValid,
		ActualPreviousHash: entry.PreviousHash,
	}

	predecessor, reason, err := c.predecessor(ctx, entry, prev)
	if err != nil {
		return result, err
	}
	expected := chainhash.GenesisHash
	if predecessor != nil {
		expected = predecessor.SelfHash
	}
	if reason == "" {
		result.ExpectedPreviousHash = expected
	}

	switch {
	case reason != "":
		result.Status = models.EntryStatusBroken
		result.Reason = reason
	case !chainhash.Equal(entry.PreviousHash, expected):
		result.Status = models.EntryStatusBroken
		result.Reason = models.BreakReasonLinkMismatch
	case !c.hashMatches(entry):
		result.Status = models.EntryStatusBroken
		result.Reason = models.BreakReasonHashMismatch
	case predecessor != nil && entry.Timestamp.Before(predecessor.Timestamp):
		result.Status = models.EntryStatusBroken
		result.Reason = models.BreakReasonTimestampRegression
	}

	return result, nil
}

func (c *Chain) hashMatches(entry *models.AuditLogEntry) bool {
	computed, err := c.computeHash(entry)
	if err != nil {
		c.logger.Debug("failed to recompute audit hash",
			zap.Int64("sequence", entry.SequenceNumber),
			zap.Error(err))
		return false
	}
	return chainhash.Equal(computed, entry.SelfHash)
}

// predecessor resolves the entry the given one must link to, nil for the
// first entry of the chain. A missing predecessor is reported as a break
// reason, not an error.
func (c *Chain) predecessor(ctx context.Context, entry, prev *models.AuditLogEntry) (*models.AuditLogEntry, models.BreakReason, error) {
	if entry.SequenceNumber == 1 {
		return nil, "", nil
	}
	if prev != nil && prev.SequenceNumber == entry.SequenceNumber-1 {
		return prev, "", nil
	}

	predecessor, err := c.repo.GetBySequence(ctx, entry.SequenceNumber-1)
	if errors.Is(err, repositories.ErrNotFound) {
		if prev == nil {
			return nil, models.BreakReasonMissingPredecessor, nil
		}
		return nil, models.BreakReasonSequenceGap, nil
	}
	if err != nil {
		return nil, "", err
	}
	return predecessor, "", nil
}

func (c *Chain) computeHash(entry *models.AuditLogEntry) (string, error) {
	return chainhash.Compute(c.digester, chainhash.Record{
		ID:             entry.ID.String(),
		SequenceNumber: entry.SequenceNumber,
		Timestamp:      chainhash.FormatTimestamp(entry.Timestamp),
		Action:         string(entry.Action),
		ActorID:        entry.ActorID,
		ActorEmail:     entry.ActorEmail,
		ActorType:      string(entry.ActorType),
		EntityType:     entry.EntityType,
		EntityID:       entry.EntityID,
		Metadata:       entry.Metadata,
		PreviousHash:   entry.PreviousHash,
	})
}

// Entry retrieves a single entry by sequence number
func (c *Chain) Entry(ctx context.Context, sequence int64) (*models.AuditLogEntry, error) {
	entry, err := c.repo.GetBySequence(ctx, sequence)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, services.NewDomainError(services.ErrorTypeNotFound, "audit entry not found", err).
			WithDetail("sequenceNumber", sequence)
	}
	if err != nil {
		return nil, services.WrapUnavailable("failed to read audit entry", err)
	}
	return entry, nil
}

// Entries lists entries matching filter, newest first, with the total match count
func (c *Chain) Entries(ctx context.Context, filter models.AuditLogFilter, limit, offset int) ([]*models.AuditLogEntry, int64, error) {
	if filter.Start != nil && filter.End != nil && filter.End.Before(*filter.Start) {
		return nil, 0, services.NewDomainError(services.ErrorTypeValidation, "end must not be before start", nil)
	}

	entries, err := c.repo.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, services.WrapUnavailable("failed to list audit entries", err)
	}
	total, err := c.repo.Count(ctx, filter)
	if err != nil {
		return nil, 0, services.WrapUnavailable("failed to count audit entries", err)
	}
	return entries, total, nil
}

// HealthCheck verifies the chain store is reachable
func (c *Chain) HealthCheck(ctx context.Context) error {
	return c.repo.HealthCheck(ctx)
}

func encodeMetadata(metadata map[string]interface{}) (json.RawMessage, error) {
	if len(metadata) == 0 {
		return json.RawMessage("{}"), nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return chainhash.CanonicalMetadata(raw)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
