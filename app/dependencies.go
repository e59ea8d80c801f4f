package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/upb/helpdesk/config"
	"github.com/upb/helpdesk/identity"
	"github.com/upb/helpdesk/internal/chainhash"
	"github.com/upb/helpdesk/internal/clock"
	"github.com/upb/helpdesk/middleware"
	"github.com/upb/helpdesk/queue"
	"github.com/upb/helpdesk/repositories"
	"github.com/upb/helpdesk/repositories/store"
	"github.com/upb/helpdesk/services/audit"
	"go.uber.org/zap"
)

// stopTimeout bounds how long Close waits for background workers
const stopTimeout = 10 * time.Second

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	Clock  clock.Clock

	// Repository Factory
	RepoFactory repositories.Factory
	Repos       *repositories.Repositories

	// Audit chain
	Chain     *audit.Chain
	Publisher audit.EntryPublisher
	Recorder  *audit.Recorder
	Monitor   *audit.ChainMonitor

	// Auth
	AuthMiddleware *middleware.AuthMiddleware

	started bool
}

// NewDependencies creates and wires up all application dependencies.
// Background workers are not running until Start is called.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
		Clock:  clock.Real(),
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initAudit(cfg); err != nil {
		_ = deps.RepoFactory.Close()
		return nil, fmt.Errorf("failed to initialize audit chain: %w", err)
	}

	if err := deps.initAuth(cfg); err != nil {
		_ = deps.Publisher.Close()
		_ = deps.RepoFactory.Close()
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens the configured store and prepares the chain schema
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := store.Open(ctx, cfg, d.Logger)
	if err != nil {
		return err
	}

	if err := factory.HealthCheck(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("database health check failed: %w", err)
	}

	d.RepoFactory = factory
	d.Repos = factory.NewRepositories()

	d.Logger.Info("database connection established",
		zap.String("driver", cfg.Database.Driver),
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initAudit builds the chain, its export publisher, the recorder and the monitor
func (d *Dependencies) initAudit(cfg *config.Config) error {
	digester, err := chainhash.NewDigester(cfg.Audit.HashAlgorithm, []byte(cfg.Audit.HashKey))
	if err != nil {
		return err
	}
	if cfg.Audit.HashKey == config.DefaultAuditHashKey {
		d.Logger.Warn("audit chain uses the development hash key")
	}

	if cfg.KafkaEnabled() {
		publisher, err := queue.NewKafkaPublisher(cfg.Kafka, d.Logger)
		if err != nil {
			return fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		d.Publisher = publisher
	} else {
		d.Publisher = queue.NopPublisher{}
	}

	d.Chain = audit.NewChain(d.Repos, digester, d.Clock, d.Publisher, d.Logger, audit.Config{
		MaxAttempts:  cfg.Audit.AppendMaxAttempts,
		RetryBackoff: cfg.Audit.AppendRetryBackoff,
		BatchSize:    cfg.Audit.VerifyBatchSize,
		MaxReported:  cfg.Audit.VerifyMaxReported,
	})

	d.Recorder = audit.NewRecorder(d.Chain, d.Logger, audit.RecorderConfig{
		BufferSize: cfg.Audit.RecorderBuffer,
	})

	d.Monitor = audit.NewChainMonitor(d.Chain, d.Clock, d.Logger, audit.MonitorConfig{
		Interval: cfg.Audit.MonitorInterval,
		Overlap:  cfg.Audit.MonitorOverlap,
	})

	d.Logger.Info("audit chain initialized",
		zap.String("algorithm", d.Chain.Algorithm()),
		zap.Bool("kafka_export", cfg.KafkaEnabled()),
		zap.Bool("monitor", d.Monitor.Enabled()))

	return nil
}

// initAuth wires the configured token validators into the auth middleware
func (d *Dependencies) initAuth(cfg *config.Config) error {
	var validators []identityValidator

	if cfg.Auth.JWKSURL != "" {
		validators = append(validators, identity.NewJWKSValidator(identity.JWKSConfig{
			JWKSURL:     cfg.Auth.JWKSURL,
			Issuer:      cfg.Auth.Issuer,
			Audience:    cfg.Auth.Audience,
			CacheTTL:    cfg.Auth.JWKSCacheTTL,
			HTTPTimeout: cfg.Auth.HTTPTimeout,
		}))
		d.Logger.Info("jwks token validation enabled", zap.String("issuer", cfg.Auth.Issuer))
	}

	if cfg.Auth.JWTSecret != "" {
		hmacValidator, err := identity.NewHMACValidator([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			return err
		}
		validators = append(validators, hmacValidator)
		d.Logger.Info("hmac token validation enabled")
	}

	if len(validators) == 0 {
		d.Logger.Warn("no identity provider configured, protected routes disabled")
		// Use reject-all validator so protected routes return 401
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.Recorder, d.Logger)
		return nil
	}

	d.AuthMiddleware = middleware.NewAuthMiddleware(&identityTokenValidatorAdapter{validators: validators}, d.Recorder, d.Logger)
	return nil
}

// Start starts the background recorder and chain monitor
func (d *Dependencies) Start() error {
	if err := d.Recorder.Start(); err != nil {
		return fmt.Errorf("failed to start audit recorder: %w", err)
	}
	if err := d.Monitor.Start(); err != nil {
		_ = d.Recorder.Stop(stopTimeout)
		return fmt.Errorf("failed to start chain monitor: %w", err)
	}
	d.started = true
	return nil
}

// identityValidator is implemented by the identity package validators
type identityValidator interface {
	ValidateToken(ctx context.Context, token string) (*identity.Identity, error)
}

// identityTokenValidatorAdapter adapts identity validators to middleware.TokenValidator.
// Validators are tried in order; the first accepting one wins.
type identityTokenValidatorAdapter struct {
	validators []identityValidator
}

func (a *identityTokenValidatorAdapter) ValidateToken(ctx context.Context, token string) (*middleware.Claims, error) {
	var errs []error
	for _, v := range a.validators {
		id, err := v.ValidateToken(ctx, token)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		roles := id.Roles
		if roles == nil {
			roles = []string{}
		}
		return &middleware.Claims{
			Sub:   id.Subject,
			Email: id.Email,
			Name:  id.Name,
			Roles: roles,
		}, nil
	}
	return nil, errors.Join(errs...)
}

// rejectAllValidator rejects all tokens (used when no identity provider is configured)
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*middleware.Claims, error) {
	return nil, fmt.Errorf("authentication not configured")
}

// Close gracefully shuts down all dependencies. Pending audit events are
// drained before the database closes.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	timeout := stopTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	var errs []error

	if d.started {
		if err := d.Monitor.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop chain monitor: %w", err))
		}
		if err := d.Recorder.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit recorder: %w", err))
		}
		d.started = false
	}

	if d.Publisher != nil {
		if err := d.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close audit publisher: %w", err))
		}
	}

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %w", errors.Join(errs...))
	}

	return nil
}
