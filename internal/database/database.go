// Package database wraps the application's connection pool and schema.
//
// Lifecycle:
//
//	db := database.New(cfg.DB, database.WithModels(models.All()...))
//	if err := db.Connect(ctx); err != nil { … }   // engine + CREATE TABLE IF NOT EXISTS
//	s := db.StartSession()
//	defer s.Close()
//	user, err := database.Create(ctx, s, &models.User{…}, true)
//
// Connect retries with a fixed delay; see Connect.  CRUD helpers live in
// crud.go and operate on a caller-scoped *Session.  DropDB is meant for tests
// and resets.
package database

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/yanizio/stencil/internal/config"
	"github.com/yanizio/stencil/internal/metrics"
)

var (
	ErrNotConnected       = errors.New("database: not connected")
	ErrUnsupportedDialect = errors.New("database: unsupported dialect")
)

// Sleeper waits d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Database owns the engine, its configuration, and the model registry.
// The engine is nil until Connect succeeds.
type Database struct {
	cfg    config.DatabaseConfigs
	models []any
	engine *bun.DB

	log   *zap.Logger
	open  Opener
	sleep Sleeper
}

// Option configures New.
type Option func(*Database)

// WithModels registers bun models, e.g. (*models.User)(nil).  Tables are
// created in registration order and dropped in reverse.
func WithModels(models ...any) Option {
	return func(d *Database) { d.models = append(d.models, models...) }
}

// WithLogger overrides zap.L().
func WithLogger(l *zap.Logger) Option { return func(d *Database) { d.log = l } }

// WithOpener overrides Open.
func WithOpener(o Opener) Option { return func(d *Database) { d.open = o } }

// WithSleep overrides the context-aware timer used between attempts.
func WithSleep(s Sleeper) Option { return func(d *Database) { d.sleep = s } }

// New returns an unconnected wrapper.
func New(cfg config.DatabaseConfigs, opts ...Option) *Database {
	d := &Database{
		cfg:   cfg,
		log:   zap.L(),
		open:  Open,
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect runs ConnectRetry with the configured retry budget.
func (d *Database) Connect(ctx context.Context) error {
	return d.ConnectRetry(ctx, d.cfg.ConnectRetry.Count)
}

// ConnectRetry opens the engine and creates the schema.  A failed attempt is
// retried up to retries times, ConnectRetry.Delay seconds apart, so the
// worst case is retries+1 attempts and retries sleeps.  When the budget runs
// out the last attempt's error is returned as-is and the engine stays nil.
// On a connected wrapper it returns nil and keeps the live pool.
func (d *Database) ConnectRetry(ctx context.Context, retries int) error {
	if d.engine != nil {
		d.log.Debug("database already connected", zap.String("db", d.cfg.Name))
		return nil
	}
	delay := d.cfg.RetryDelay()
	for {
		metrics.DBConnectAttemptsTotal.Inc()
		err := d.connectOnce(ctx)
		if err == nil {
			metrics.DBConnected.Set(1)
			d.log.Info("database connected",
				zap.String("dialect", d.cfg.Dialect),
				zap.String("db", d.cfg.Name),
				zap.String("host", d.cfg.Host),
				zap.Int("port", d.cfg.Port))
			return nil
		}
		metrics.DBConnectFailuresTotal.Inc()

		if retries <= 0 {
			return err
		}
		d.log.Warn("database connect failed, retrying",
			zap.String("db", d.cfg.Name),
			zap.String("host", d.cfg.Host),
			zap.Int("port", d.cfg.Port),
			zap.Duration("delay", delay),
			zap.Int("attempts_left", retries),
			zap.Error(err))

		if serr := d.sleep(ctx, delay); serr != nil {
			return serr
		}
		retries--
	}
}

func (d *Database) connectOnce(ctx context.Context) error {
	engine, err := d.open(ctx, d.cfg)
	if err != nil {
		return err
	}
	d.engine = engine
	if err := d.CreateDB(ctx); err != nil {
		_ = engine.Close()
		d.engine = nil
		return err
	}
	return nil
}

// CreateDB creates every registered table that does not exist yet.
func (d *Database) CreateDB(ctx context.Context) error {
	if d.engine == nil {
		return ErrNotConnected
	}
	for _, m := range d.models {
		if _, err := d.engine.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// DropDB drops every registered table that exists, last registered first.
func (d *Database) DropDB(ctx context.Context) error {
	if d.engine == nil {
		return ErrNotConnected
	}
	for i := len(d.models) - 1; i >= 0; i-- {
		if _, err := d.engine.NewDropTable().Model(d.models[i]).IfExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StartSession opens a unit of work on the shared engine.  The caller owns
// its lifetime.
func (d *Database) StartSession() *Session {
	return &Session{db: d.engine}
}

// Engine exposes the bun handle; nil before Connect.
func (d *Database) Engine() *bun.DB { return d.engine }

// SQLX wraps the same pool for hand-written queries.
func (d *Database) SQLX() *sqlx.DB {
	if d.engine == nil {
		return nil
	}
	return sqlx.NewDb(d.engine.DB, sqlxDriver(d.engine))
}

// Close releases the pool.  Safe to call on an unconnected wrapper.
func (d *Database) Close() error {
	if d.engine == nil {
		return nil
	}
	err := d.engine.Close()
	d.engine = nil
	metrics.DBConnected.Set(0)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
