package postgres

import (
	"context"
	"database/sql"

	"github.com/upb/helpdesk/config"
	"github.com/upb/helpdesk/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory creates and manages the PostgreSQL repositories
type RepositoryFactory struct {
	db      *DB
	auditDB *DB // Optional: separate DB for the audit chain
	logger  *zap.Logger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	f := &RepositoryFactory{db: db, logger: logger}

	if cfg.AuditDatabase != nil {
		auditDB, err := NewDB(*cfg.AuditDatabase, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		f.auditDB = auditDB
	}

	return f, nil
}

// NewRepositoryFactoryFromDB builds a factory around an existing pool
func NewRepositoryFactoryFromDB(db *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{db: db, logger: logger}
}

// chainDB returns the database holding the audit chain
func (f *RepositoryFactory) chainDB() *DB {
	if f.auditDB != nil {
		return f.auditDB
	}
	return f.db
}

// InitAuditSchema creates the audit chain table on the chain database
func (f *RepositoryFactory) InitAuditSchema(ctx context.Context) error {
	return f.chainDB().InitAuditSchema(ctx)
}

// NewRepositories creates all repository instances. The transaction manager
// is bound to the chain database so appends lock and insert on one connection.
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	db := f.chainDB()
	return &repositories.Repositories{
		AuditChain: NewAuditChainRepository(db, f.logger),
		TxManager:  NewTransactionManager(db, f.logger),
	}
}

// HealthCheck checks every database the factory owns
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if err := f.db.HealthCheck(ctx); err != nil {
		return err
	}
	if f.auditDB != nil {
		return f.auditDB.HealthCheck(ctx)
	}
	return nil
}

// SQLDB returns the pool backing the audit chain
func (f *RepositoryFactory) SQLDB() *sql.DB {
	return f.chainDB().DB
}

// GetDB returns the main database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection(s)
func (f *RepositoryFactory) Close() error {
	if f.auditDB != nil {
		_ = f.auditDB.Close()
	}
	return f.db.Close()
}
