// Package gormdb stores the audit chain in SQLite through gorm. It backs
// single-node deployments and the chain property tests.
package gormdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/upb/helpdesk/config"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DB wraps the gorm handle
type DB struct {
	*gorm.DB
	logger *zap.Logger
}

// Open opens (or creates) the SQLite database at cfg.SQLitePath and
// migrates the audit chain table. The pool is limited to one connection,
// which serializes transactions and therefore appends.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	return open(cfg, logger, true)
}

// OpenExisting opens the SQLite database at cfg.SQLitePath as it is. It
// fails when the file does not exist and never touches the schema.
func OpenExisting(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	return open(cfg, logger, false)
}

func open(cfg config.DatabaseConfig, logger *zap.Logger, prepare bool) (*DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if !isMemory(path) {
		if prepare {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		} else if _, err := os.Stat(filePath(path)); err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
	}

	gdb, err := gorm.Open(sqlite.Open(dsn(path)), &gorm.Config{
		Logger:         newGormLogger(logger),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	db := &DB{DB: gdb, logger: logger}
	if prepare {
		if err := db.Migrate(); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))
	return db, nil
}

// Migrate creates or updates the audit chain table
func (db *DB) Migrate() error {
	if err := db.AutoMigrate(&auditEntryRow{}); err != nil {
		return fmt.Errorf("failed to migrate audit schema: %w", err)
	}
	return nil
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.WithContext(ctx).Raw("SELECT 1").Scan(&result).Error; err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}
	return nil
}

// Close closes the underlying pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}

// filePath strips the file: scheme and query from a SQLite DSN
func filePath(path string) string {
	path = strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

// dsn enables a busy timeout so a second process waits instead of failing
func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_busy_timeout=5000"
}

// zapWriter routes gorm's warnings and errors to zap
type zapWriter struct {
	logger *zap.SugaredLogger
}

func (w zapWriter) Printf(format string, args ...interface{}) {
	w.logger.Warnf(format, args...)
}

func newGormLogger(logger *zap.Logger) gormlogger.Interface {
	return gormlogger.New(zapWriter{logger: logger.Named("gorm").Sugar()}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
