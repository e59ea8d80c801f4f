package gormdb

import (
	"context"
	"database/sql"

	"github.com/upb/helpdesk/config"
	"github.com/upb/helpdesk/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages the SQLite repositories
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger
}

// NewRepositoryFactory opens the database and creates a factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	return &RepositoryFactory{db: db, logger: logger}, nil
}

// NewRepositoryFactoryFromDB builds a factory around an opened database
func NewRepositoryFactoryFromDB(db *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{db: db, logger: logger}
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		AuditChain: NewAuditChainRepository(f.db, f.logger),
		TxManager:  NewTransactionManager(f.db, f.logger),
	}
}

// HealthCheck performs a health check on the database
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	return f.db.HealthCheck(ctx)
}

// SQLDB returns the pool behind the gorm handle
func (f *RepositoryFactory) SQLDB() *sql.DB {
	sqlDB, err := f.db.DB.DB()
	if err != nil {
		return nil
	}
	return sqlDB
}

// GetDB returns the gorm database
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
