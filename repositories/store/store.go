// Package store picks the repository implementation for the configured driver.
package store

import (
	"context"
	"fmt"

	"github.com/upb/helpdesk/config"
	"github.com/upb/helpdesk/repositories"
	"github.com/upb/helpdesk/repositories/gormdb"
	"github.com/upb/helpdesk/repositories/postgres"
	"go.uber.org/zap"
)

// Option adjusts how Open connects
type Option func(*options)

type options struct {
	skipSchema bool
}

// WithoutSchema opens an existing store without creating or migrating the
// audit chain schema. Read-only tools use it so they never issue DDL.
func WithoutSchema() Option {
	return func(o *options) {
		o.skipSchema = true
	}
}

// Open connects to the configured database, prepares the audit chain schema
// unless WithoutSchema is given and returns the repository factory
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (repositories.Factory, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	switch cfg.Database.Driver {
	case config.DriverSQLite:
		if o.skipSchema {
			db, err := gormdb.OpenExisting(cfg.Database, logger)
			if err != nil {
				return nil, err
			}
			return gormdb.NewRepositoryFactoryFromDB(db, logger), nil
		}
		f, err := gormdb.NewRepositoryFactory(cfg, logger)
		if err != nil {
			return nil, err
		}
		return f, nil

	case config.DriverPostgres:
		f, err := postgres.NewRepositoryFactory(cfg, logger)
		if err != nil {
			return nil, err
		}
		if o.skipSchema {
			return f, nil
		}
		if err := f.InitAuditSchema(ctx); err != nil {
			_ = f.Close()
			return nil, err
		}
		return f, nil

	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}
