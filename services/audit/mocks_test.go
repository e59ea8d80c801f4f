package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/helpdesk/config"
	"github.com/upb/helpdesk/internal/chainhash"
	"github.com/upb/helpdesk/internal/clock"
	"github.com/upb/helpdesk/models"
	"github.com/upb/helpdesk/repositories"
	"github.com/upb/helpdesk/repositories/gormdb"
	"go.uber.org/zap"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// MockChainRepository is a mock implementation of AuditChainRepository
type MockChainRepository struct {
	mock.Mock
}

func (m *MockChainRepository) LockTail(ctx context.Context) (*models.AuditLogEntry, error) {
	args := m.Called(ctx)
	if e := args.Get(0); e != nil {
		return e.(*models.AuditLogEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChainRepository) Insert(ctx context.Context, entry *models.AuditLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockChainRepository) GetBySequence(ctx context.Context, sequence int64) (*models.AuditLogEntry, error) {
	args := m.Called(ctx, sequence)
	if e := args.Get(0); e != nil {
		return e.(*models.AuditLogEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChainRepository) ListByTimeRange(ctx context.Context, start, end time.Time, afterSequence int64, limit int) ([]*models.AuditLogEntry, error) {
	args := m.Called(ctx, start, end, afterSequence, limit)
	if e := args.Get(0); e != nil {
		return e.([]*models.AuditLogEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChainRepository) ListBySequenceRange(ctx context.Context, afterSequence, beforeSequence int64, limit int) ([]*models.AuditLogEntry, error) {
	args := m.Called(ctx, afterSequence, beforeSequence, limit)
	if e := args.Get(0); e != nil {
		return e.([]*models.AuditLogEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChainRepository) List(ctx context.Context, filter models.AuditLogFilter, limit, offset int) ([]*models.AuditLogEntry, error) {
	args := m.Called(ctx, filter, limit, offset)
	if e := args.Get(0); e != nil {
		return e.([]*models.AuditLogEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockChainRepository) Count(ctx context.Context, filter models.AuditLogFilter) (int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockChainRepository) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// passThroughTxManager runs fn without a real transaction
type passThroughTxManager struct{}

type nopTx struct{ ctx context.Context }

func (t nopTx) Commit() error            { return nil }
func (t nopTx) Rollback() error          { return nil }
func (t nopTx) Context() context.Context { return t.ctx }

func (passThroughTxManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return nopTx{ctx: ctx}, nil
}

func (passThroughTxManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	return fn(ctx, nopTx{ctx: ctx})
}

// recordingPublisher captures published entries
type recordingPublisher struct {
	mu      sync.Mutex
	entries []*models.AuditLogEntry
	err     error
}

func (p *recordingPublisher) Publish(ctx context.Context, entry *models.AuditLogEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Published() []*models.AuditLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.AuditLogEntry(nil), p.entries...)
}

func testDigester(t *testing.T) chainhash.Digester {
	t.Helper()
	d, err := chainhash.NewDigester(chainhash.AlgorithmHMACSHA256, []byte("test-chain-key"))
	require.NoError(t, err)
	return d
}

// sqliteChain builds a Chain over an in-memory SQLite store
func sqliteChain(t *testing.T, cfg Config) (*Chain, *gormdb.DB, *clock.FakeClock) {
	t.Helper()
	db, err := gormdb.Open(config.DatabaseConfig{Driver: config.DriverSQLite, SQLitePath: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clk := clock.Fake(baseTime)
	repos := gormdb.NewRepositoryFactoryFromDB(db, zap.NewNop()).NewRepositories()
	return NewChain(repos, testDigester(t), clk, nil, zap.NewNop(), cfg), db, clk
}

func mockChain(t *testing.T, repo *MockChainRepository, publisher EntryPublisher, cfg Config) *Chain {
	t.Helper()
	repos := &repositories.Repositories{AuditChain: repo, TxManager: passThroughTxManager{}}
	return NewChain(repos, testDigester(t), clock.Fake(baseTime), publisher, zap.NewNop(), cfg)
}

// appendN appends n ticket events one second apart
func appendN(t *testing.T, chain *Chain, clk *clock.FakeClock, n int) []*models.AuditLogEntry {
	t.Helper()
	entries := make([]*models.AuditLogEntry, 0, n)
	for i := 0; i < n; i++ {
		clk.Advance(time.Second)
		event := models.NewAuditEvent(models.AuditActionTicketUpdate).
			WithActor("agent-1", "agent1@helpdesk.test").
			WithEntity("ticket", "T-100").
			WithMetadata("step", i)
		entry, err := chain.Append(context.Background(), event)
		require.NoError(t, err)
		entries = append(entries, entry)
	}
	return entries
}
