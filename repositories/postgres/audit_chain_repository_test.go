package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/helpdesk/models"
	"github.com/upb/helpdesk/repositories"
	"go.uber.org/zap"
)

var entryColumns = []string{
	"id", "sequence_number", "timestamp", "action", "actor_id", "actor_email", "actor_type",
	"entity_type", "entity_id", "metadata", "previous_hash", "self_hash",
}

func newTestRepo(t *testing.T) (*AuditChainRepository, repositories.TransactionManager, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db := NewDBFromConn(conn, zap.NewNop())
	repo := NewAuditChainRepository(db, zap.NewNop()).(*AuditChainRepository)
	return repo, NewTransactionManager(db, zap.NewNop()), mock
}

func sampleEntry(seq int64) *models.AuditLogEntry {
	return &models.AuditLogEntry{
		ID:             uuid.MustParse("6f1d1c6e-3b0c-4d55-9c59-2d5b0b7c0a01"),
		SequenceNumber: seq,
		Timestamp:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Action:         models.AuditActionTicketCreate,
		ActorID:        "user-1",
		ActorEmail:     "agent@example.com",
		ActorType:      models.ActorTypeUser,
		EntityType:     "ticket",
		EntityID:       "T-100",
		Metadata:       json.RawMessage(`{"priority":"high"}`),
		PreviousHash:   "a",
		SelfHash:       "b",
	}
}

func entryRow(rows *sqlmock.Rows, e *models.AuditLogEntry) *sqlmock.Rows {
	return rows.AddRow(
		e.ID.String(), e.SequenceNumber, e.Timestamp, string(e.Action), e.ActorID, e.ActorEmail,
		string(e.ActorType), e.EntityType, e.EntityID, string(e.Metadata), e.PreviousHash, e.SelfHash,
	)
}

func TestAuditChainRepository_LockTail(t *testing.T) {
	ctx := context.Background()

	t.Run("locks and returns tail", func(t *testing.T) {
		repo, tm, mock := newTestRepo(t)
		want := sampleEntry(41)

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").
			WithArgs(chainLockKey).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM audit_chain_entries\\s+ORDER BY sequence_number DESC\\s+LIMIT 1").
			WillReturnRows(entryRow(sqlmock.NewRows(entryColumns), want))
		mock.ExpectCommit()

		var tail *models.AuditLogEntry
		err := tm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
			var err error
			tail, err = repo.LockTail(ctx)
			return err
		})

		require.NoError(t, err)
		require.NotNil(t, tail)
		assert.Equal(t, int64(41), tail.SequenceNumber)
		assert.Equal(t, want.ID, tail.ID)
		assert.Equal(t, models.AuditActionTicketCreate, tail.Action)
		assert.JSONEq(t, `{"priority":"high"}`, string(tail.Metadata))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty chain returns nil", func(t *testing.T) {
		repo, tm, mock := newTestRepo(t)

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM audit_chain_entries").WillReturnRows(sqlmock.NewRows(entryColumns))
		mock.ExpectCommit()

		var tail *models.AuditLogEntry
		err := tm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
			var err error
			tail, err = repo.LockTail(ctx)
			return err
		})

		require.NoError(t, err)
		assert.Nil(t, tail)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock failure rolls back", func(t *testing.T) {
		repo, tm, mock := newTestRepo(t)

		mock.ExpectBegin()
		mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		err := tm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
			_, err := repo.LockTail(ctx)
			return err
		})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to acquire audit chain lock")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("requires a transaction", func(t *testing.T) {
		repo, _, mock := newTestRepo(t)

		_, err := repo.LockTail(ctx)

		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuditChainRepository_Insert(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts entry", func(t *testing.T) {
		repo, _, mock := newTestRepo(t)
		e := sampleEntry(1)

		mock.ExpectExec("INSERT INTO audit_chain_entries").
			WithArgs(e.ID, e.SequenceNumber, e.Timestamp, e.Action, e.ActorID, e.ActorEmail,
				e.ActorType, e.EntityType, e.EntityID, string(e.Metadata), e.PreviousHash, e.SelfHash).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Insert(ctx, e))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation maps to sequence conflict", func(t *testing.T) {
		repo, _, mock := newTestRepo(t)

		mock.ExpectExec("INSERT INTO audit_chain_entries").
			WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

		err := repo.Insert(ctx, sampleEntry(2))
		assert.ErrorIs(t, err, repositories.ErrSequenceConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other errors are wrapped", func(t *testing.T) {
		repo, _, mock := newTestRepo(t)

		mock.ExpectExec("INSERT INTO audit_chain_entries").
			WillReturnError(&pq.Error{Code: "53300", Message: "too many connections"})

		err := repo.Insert(ctx, sampleEntry(2))
		require.Error(t, err)
		assert.NotErrorIs(t, err, repositories.ErrSequenceConflict)
		assert.Contains(t, err.Error(), "failed to insert audit entry")
	})
}

func TestAuditChainRepository_GetBySequence(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		repo, _, mock := newTestRepo(t)
		want := sampleEntry(7)

		mock.ExpectQuery("WHERE sequence_number = \\$1").
			WithArgs(int64(7)).
			WillReturnRows(entryRow(sqlmock.NewRows(entryColumns), want))

		got, err := repo.GetBySequence(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, want.SelfHash, got.SelfHash)
		assert.Equal(t, time.UTC, got.Timestamp.Location())
	})

	t.Run("not found", func(t *testing.T) {
		repo, _, mock := newTestRepo(t)

		mock.ExpectQuery("WHERE sequence_number = \\$1").
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows(entryColumns))

		_, err := repo.GetBySequence(ctx, 99)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})
}

func TestAuditChainRepository_ListByTimeRange(t *testing.T) {
	repo, _, mock := newTestRepo(t)
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	rows := sqlmock.NewRows(entryColumns)
	entryRow(rows, sampleEntry(11))
	entryRow(rows, sampleEntry(12))

	mock.ExpectQuery("timestamp >= \\$1 AND timestamp <= \\$2 AND sequence_number > \\$3").
		WithArgs(start, end, int64(10), 2).
		WillReturnRows(rows)

	got, err := repo.ListByTimeRange(context.Background(), start, end, 10, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(11), got[0].SequenceNumber)
	assert.Equal(t, int64(12), got[1].SequenceNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditChainRepository_ListBySequenceRange(t *testing.T) {
	repo, _, mock := newTestRepo(t)

	rows := sqlmock.NewRows(entryColumns)
	entryRow(rows, sampleEntry(5))

	mock.ExpectQuery("sequence_number > \\$1 AND sequence_number < \\$2\\s+ORDER BY sequence_number ASC\\s+LIMIT \\$3").
		WithArgs(int64(4), int64(6), 500).
		WillReturnRows(rows)

	got, err := repo.ListBySequenceRange(context.Background(), 4, 6, 500)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].SequenceNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditChainRepository_ListAndCount(t *testing.T) {
	ctx := context.Background()
	filter := models.AuditLogFilter{Action: models.AuditActionTicketCreate, EntityID: "T-100"}

	t.Run("list", func(t *testing.T) {
		repo, _, mock := newTestRepo(t)

		mock.ExpectQuery("WHERE action = \\$1 AND entity_id = \\$2\\s+ORDER BY sequence_number DESC\\s+LIMIT \\$3 OFFSET \\$4").
			WithArgs(models.AuditActionTicketCreate, "T-100", 50, 0).
			WillReturnRows(entryRow(sqlmock.NewRows(entryColumns), sampleEntry(3)))

		got, err := repo.List(ctx, filter, 50, 0)
		require.NoError(t, err)
		assert.Len(t, got, 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("count", func(t *testing.T) {
		repo, _, mock := newTestRepo(t)

		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM audit_chain_entries WHERE action = \\$1 AND entity_id = \\$2").
			WithArgs(models.AuditActionTicketCreate, "T-100").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

		got, err := repo.Count(ctx, filter)
		require.NoError(t, err)
		assert.Equal(t, int64(12), got)
	})

	t.Run("query error", func(t *testing.T) {
		repo, _, mock := newTestRepo(t)

		mock.ExpectQuery("FROM audit_chain_entries").WillReturnError(errors.New("boom"))

		_, err := repo.List(ctx, models.AuditLogFilter{}, 10, 0)
		assert.Error(t, err)
	})
}

func TestBuildFilter(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	t.Run("empty filter", func(t *testing.T) {
		where, args := buildFilter(models.AuditLogFilter{})
		assert.Empty(t, where)
		assert.Empty(t, args)
	})

	t.Run("all fields", func(t *testing.T) {
		where, args := buildFilter(models.AuditLogFilter{
			Action:     models.AuditActionLoginSuccess,
			ActorID:    "u1",
			EntityType: "session",
			EntityID:   "s1",
			Start:      &start,
			End:        &end,
		})
		assert.Equal(t, "WHERE action = $1 AND actor_id = $2 AND entity_type = $3 AND entity_id = $4 AND timestamp >= $5 AND timestamp <= $6", where)
		assert.Len(t, args, 6)
	})
}
