package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/upb/helpdesk/repositories"
)

type txKey struct{}

// fakeTransactionManager mirrors the repository implementations: it puts the
// transaction in the context and commits or rolls back based on fn's result.
type fakeTransactionManager struct {
	tx       *MockTransaction
	beginErr error
}

func (m *fakeTransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	return m.tx, nil
}

func (m *fakeTransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, err := m.Begin(ctx)
	if err != nil {
		return err
	}
	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// MockTransaction is a mock implementation of Transaction
type MockTransaction struct {
	mock.Mock
	committed  bool
	rolledback bool
}

func (m *MockTransaction) Commit() error {
	args := m.Called()
	m.committed = true
	return args.Error(0)
}

func (m *MockTransaction) Rollback() error {
	args := m.Called()
	m.rolledback = true
	return args.Error(0)
}

func (m *MockTransaction) Context() context.Context {
	args := m.Called()
	return args.Get(0).(context.Context)
}

func TestWithTransaction_Success(t *testing.T) {
	mockTx := new(MockTransaction)
	mockTx.On("Commit").Return(nil)
	txMgr := &fakeTransactionManager{tx: mockTx}

	var sawTx bool
	err := WithTransaction(context.Background(), txMgr, func(ctx context.Context, tx repositories.Transaction) error {
		sawTx = ctx.Value(txKey{}) != nil
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, sawTx, "fn must receive the transaction context")
	assert.True(t, mockTx.committed)
	assert.False(t, mockTx.rolledback)
	mockTx.AssertExpectations(t)
}

func TestWithTransaction_ErrorInFunction(t *testing.T) {
	mockTx := new(MockTransaction)
	mockTx.On("Rollback").Return(nil)
	txMgr := &fakeTransactionManager{tx: mockTx}
	expectedErr := errors.New("operation failed")

	err := WithTransaction(context.Background(), txMgr, func(ctx context.Context, tx repositories.Transaction) error {
		return expectedErr
	})

	assert.Equal(t, expectedErr, err)
	assert.False(t, mockTx.committed)
	assert.True(t, mockTx.rolledback)
	mockTx.AssertExpectations(t)
}

func TestWithTransaction_BeginError(t *testing.T) {
	expectedErr := errors.New("failed to begin transaction")
	txMgr := &fakeTransactionManager{beginErr: expectedErr}

	called := false
	err := WithTransaction(context.Background(), txMgr, func(ctx context.Context, tx repositories.Transaction) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, expectedErr)
	assert.False(t, called)
}

func TestWithTransaction_CommitError(t *testing.T) {
	mockTx := new(MockTransaction)
	mockTx.On("Commit").Return(errors.New("commit failed"))
	txMgr := &fakeTransactionManager{tx: mockTx}

	err := WithTransaction(context.Background(), txMgr, func(ctx context.Context, tx repositories.Transaction) error {
		return nil
	})

	assert.EqualError(t, err, "commit failed")
	assert.True(t, mockTx.committed)
}

func TestWithTransaction_PanicRollsBack(t *testing.T) {
	mockTx := new(MockTransaction)
	mockTx.On("Rollback").Return(nil)
	txMgr := &fakeTransactionManager{tx: mockTx}

	assert.Panics(t, func() {
		_ = WithTransaction(context.Background(), txMgr, func(ctx context.Context, tx repositories.Transaction) error {
			panic("boom")
		})
	})
	assert.True(t, mockTx.rolledback)
	assert.False(t, mockTx.committed)
}

func TestWithTransactionResult_Success(t *testing.T) {
	mockTx := new(MockTransaction)
	mockTx.On("Commit").Return(nil)
	txMgr := &fakeTransactionManager{tx: mockTx}

	result, err := WithTransactionResult(context.Background(), txMgr, func(ctx context.Context, tx repositories.Transaction) (string, error) {
		return "success", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "success", result)
	assert.True(t, mockTx.committed)
	mockTx.AssertExpectations(t)
}

func TestWithTransactionResult_ErrorInFunction(t *testing.T) {
	mockTx := new(MockTransaction)
	mockTx.On("Rollback").Return(nil)
	txMgr := &fakeTransactionManager{tx: mockTx}
	expectedErr := errors.New("operation failed")

	result, err := WithTransactionResult(context.Background(), txMgr, func(ctx context.Context, tx repositories.Transaction) (string, error) {
		return "partial", expectedErr
	})

	assert.Equal(t, expectedErr, err)
	assert.Equal(t, "", result)
	assert.True(t, mockTx.rolledback)
}

func TestWithTransactionResult_CommitError(t *testing.T) {
	mockTx := new(MockTransaction)
	mockTx.On("Commit").Return(errors.New("commit failed"))
	txMgr := &fakeTransactionManager{tx: mockTx}

	result, err := WithTransactionResult(context.Background(), txMgr, func(ctx context.Context, tx repositories.Transaction) (int, error) {
		return 42, nil
	})

	assert.Error(t, err)
	assert.Equal(t, 0, result, "result is discarded when commit fails")
}
