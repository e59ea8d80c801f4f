package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/helpdesk/internal/clock"
	"github.com/upb/helpdesk/models"
	"go.uber.org/zap"
)

// Verifier verifies a time window of the audit chain
type Verifier interface {
	Verify(ctx context.Context, start, end time.Time) (*models.VerificationReport, error)
}

// MonitorConfig holds configuration for the ChainMonitor
type MonitorConfig struct {
	Interval time.Duration // Time between checks; 0 disables the monitor
	Overlap  time.Duration // How far each window reaches back before the last checkpoint
	Timeout  time.Duration // Timeout for a single check
}

// ChainMonitor periodically verifies the trailing window of the chain
type ChainMonitor struct {
	verifier   Verifier
	clock      clock.Clock
	logger     *zap.Logger
	config     MonitorConfig
	checkpoint time.Time
	lastReport *models.VerificationReport
	done       chan struct{}
	wg         sync.WaitGroup
	started    bool
	mu         sync.Mutex
}

// NewChainMonitor creates a new ChainMonitor
func NewChainMonitor(verifier Verifier, clk clock.Clock, logger *zap.Logger, config MonitorConfig) *ChainMonitor {
	if config.Timeout <= 0 {
		config.Timeout = time.Minute
	}
	if config.Overlap < 0 {
		config.Overlap = 0
	}
	if clk == nil {
		clk = clock.Real()
	}

	return &ChainMonitor{
		verifier: verifier,
		clock:    clk,
		logger:   logger,
		config:   config,
	}
}

// Enabled reports whether the monitor runs at all
func (m *ChainMonitor) Enabled() bool {
	return m.config.Interval > 0
}

// Start starts the background loop. A disabled monitor starts as a no-op.
func (m *ChainMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("chain monitor already started")
	}
	m.started = true

	if !m.Enabled() {
		m.logger.Info("chain monitor disabled")
		return nil
	}

	m.checkpoint = m.clock.Now().UTC()
	m.done = make(chan struct{})
	ticker := m.clock.NewTicker(m.config.Interval)

	m.wg.Add(1)
	go m.loop(ticker, m.done)

	m.logger.Info("started chain monitor",
		zap.Duration("interval", m.config.Interval),
		zap.Duration("overlap", m.config.Overlap))

	return nil
}

// Stop stops the background loop, waiting up to timeout for a running check
func (m *ChainMonitor) Stop(timeout time.Duration) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return fmt.Errorf("chain monitor not started")
	}
	m.started = false
	done := m.done
	m.done = nil
	m.mu.Unlock()

	if done == nil {
		return nil
	}
	close(done)

	stopped := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		m.logger.Info("chain monitor stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("chain monitor stop timeout after %v", timeout)
	}
}

func (m *ChainMonitor) loop(ticker *clock.Ticker, done <-chan struct{}) {
	defer m.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
			_, _ = m.Check(ctx)
			cancel()
		}
	}
}

// Check verifies [checkpoint - overlap, now] once and advances the checkpoint
// when the window was read successfully
func (m *ChainMonitor) Check(ctx context.Context) (*models.VerificationReport, error) {
	now := m.clock.Now().UTC()

	m.mu.Lock()
	checkpoint := m.checkpoint
	m.mu.Unlock()

	start := checkpoint.Add(-m.config.Overlap)
	if checkpoint.IsZero() {
		start = time.Time{}
	}

	report, err := m.verifier.Verify(ctx, start, now)
	if err != nil {
		m.logger.Error("chain monitor check failed",
			zap.Time("start", start),
			zap.Time("end", now),
			zap.Error(err))
		return nil, err
	}

	m.mu.Lock()
	m.checkpoint = now
	m.lastReport = report
	m.mu.Unlock()

	if report.Valid {
		m.logger.Info("audit chain intact",
			zap.Time("start", start),
			zap.Time("end", now),
			zap.Int("checked", report.TotalChecked))
	} else {
		m.logger.Error("audit chain integrity violation",
			zap.Time("start", start),
			zap.Time("end", now),
			zap.Int("checked", report.TotalChecked),
			zap.Int("broken", report.BrokenCount),
			zap.Int64p("first_broken_sequence", report.FirstBrokenSequence))
	}

	return report, nil
}

// LastReport returns the report of the most recent successful check
func (m *ChainMonitor) LastReport() *models.VerificationReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReport
}
