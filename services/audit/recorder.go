package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/helpdesk/models"
	"go.uber.org/zap"
)

// Appender appends events to the audit chain
type Appender interface {
	Append(ctx context.Context, event models.AuditEvent) (*models.AuditLogEntry, error)
}

// Recorder records audit events on behalf of callers that must never fail
// because of the audit log. Record appends synchronously, Enqueue hands the
// event to a single background worker so submission order is kept.
type Recorder struct {
	chain         Appender
	logger        *zap.Logger
	eventChan     chan models.AuditEvent
	bufferSize    int
	appendTimeout time.Duration
	wg            sync.WaitGroup
	started       bool
	stopped       bool
	mu            sync.Mutex
}

// RecorderConfig holds configuration for the Recorder
type RecorderConfig struct {
	BufferSize    int           // Size of the event buffer channel
	AppendTimeout time.Duration // Timeout for a single background append
}

// DefaultRecorderConfig returns the default configuration
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		BufferSize:    256,
		AppendTimeout: 5 * time.Second,
	}
}

// NewRecorder creates a new Recorder instance
func NewRecorder(chain Appender, logger *zap.Logger, config RecorderConfig) *Recorder {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultRecorderConfig().BufferSize
	}
	if config.AppendTimeout <= 0 {
		config.AppendTimeout = DefaultRecorderConfig().AppendTimeout
	}

	return &Recorder{
		chain:         chain,
		logger:        logger,
		eventChan:     make(chan models.AuditEvent, config.BufferSize),
		bufferSize:    config.BufferSize,
		appendTimeout: config.AppendTimeout,
	}
}

// Start starts the background worker
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("audit recorder already started")
	}

	r.wg.Add(1)
	go r.worker()

	r.started = true
	r.logger.Info("started audit recorder", zap.Int("buffer_size", r.bufferSize))

	return nil
}

// Stop stops accepting events and waits for pending events to be appended
func (r *Recorder) Stop(timeout time.Duration) error {
	r.mu.Lock()
	if !r.started || r.stopped {
		r.mu.Unlock()
		return fmt.Errorf("audit recorder not running")
	}
	r.stopped = true
	close(r.eventChan)
	r.mu.Unlock()

	r.logger.Info("stopping audit recorder", zap.Int("pending_events", len(r.eventChan)))

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("audit recorder stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit recorder stop timeout after %v", timeout)
	}
}

// Record appends event synchronously. Failures are logged and swallowed.
func (r *Recorder) Record(ctx context.Context, event models.AuditEvent) *models.AuditLogEntry {
	entry, err := r.chain.Append(ctx, event)
	if err != nil {
		r.logger.Error("failed to record audit event",
			zap.String("action", string(event.Action)),
			zap.String("actor_id", event.ActorID),
			zap.Error(err))
		return nil
	}
	return entry
}

// Enqueue hands event to the background worker without blocking.
// Returns false when the event was dropped.
func (r *Recorder) Enqueue(event models.AuditEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || r.stopped {
		r.logger.Warn("audit recorder not running, dropping event",
			zap.String("action", string(event.Action)))
		return false
	}

	select {
	case r.eventChan <- event:
		return true
	default:
		r.logger.Warn("audit event channel full, dropping event",
			zap.String("action", string(event.Action)),
			zap.String("actor_id", event.ActorID))
		return false
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for event := range r.eventChan {
		ctx, cancel := context.WithTimeout(context.Background(), r.appendTimeout)
		r.Record(ctx, event)
		cancel()
	}

	r.logger.Debug("audit recorder worker stopped")
}

// GetStats returns statistics about the recorder
func (r *Recorder) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		BufferSize:    r.bufferSize,
		PendingEvents: len(r.eventChan),
		Started:       r.started && !r.stopped,
	}
}

// Stats represents recorder statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	Started       bool
}
