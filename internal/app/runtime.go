// Package app wires configuration, storage and services into a Runtime.
//
// A Runtime is the explicit handle every data-layer call goes through:
// build it once with Setup, pass it where needed, Close it on exit.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/musicroom/backend/internal/accounts"
	"github.com/musicroom/backend/internal/bootstrap"
	"github.com/musicroom/backend/internal/cache"
	"github.com/musicroom/backend/internal/config"
	"github.com/musicroom/backend/internal/metrics"
	"github.com/musicroom/backend/internal/migrate"
	"github.com/musicroom/backend/internal/repository"
)

// ErrClosed is returned when a closed Runtime is used.
var ErrClosed = errors.New("runtime closed")

// Runtime holds initialized application dependencies.
type Runtime struct {
	cfg     *config.Config
	logger  *slog.Logger
	repo    *repository.Repository
	cache   *cache.Cache
	users   *accounts.Manager
	metrics metrics.Recorder

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// Setup connects the data layer and builds services.
// Any error here is an initialization failure.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.AutoMigrate {
		runner, err := migrate.New(cfg.DatabaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("configure migrations: %w", err)
		}
		if err := runner.Up(ctx); err != nil {
			return nil, err
		}
	}

	repo, err := repository.NewWithOptions(ctx, cfg.DatabaseURL, repository.Options{
		MaxConns: cfg.DBMaxConns,
		MinConns: 1,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database")

	rt := &Runtime{
		cfg:     cfg,
		logger:  logger,
		repo:    repo,
		users:   accounts.NewManager(repo),
		metrics: metrics.NewNoop(),
	}

	if cfg.HasRedis() {
		c, err := cache.New(ctx, cfg.RedisURL)
		if err != nil {
			repo.Close()
			return nil, err
		}
		rt.cache = c
		logger.Info("connected to Redis")
	}

	return rt, nil
}

// Users returns the account manager. It panics on a closed Runtime.
func (rt *Runtime) Users() *accounts.Manager {
	rt.mustOpen()
	return rt.users
}

// Repository returns the database repository. It panics on a closed Runtime.
func (rt *Runtime) Repository() *repository.Repository {
	rt.mustOpen()
	return rt.repo
}

// Locker returns a bootstrap lock backed by Redis, or nil without Redis.
func (rt *Runtime) Locker() bootstrap.Locker {
	rt.mustOpen()
	if rt.cache == nil {
		return nil
	}
	return cacheLocker{cache: rt.cache}
}

// Metrics returns the metrics recorder.
func (rt *Runtime) Metrics() metrics.Recorder {
	return rt.metrics
}

// SetMetrics replaces the metrics recorder.
func (rt *Runtime) SetMetrics(rec metrics.Recorder) {
	if rec != nil {
		rt.metrics = rec
	}
}

// BootstrapDeps assembles the collaborators for a bootstrap run.
func (rt *Runtime) BootstrapDeps() bootstrap.Deps {
	return bootstrap.Deps{
		Users:   rt.Users(),
		Locker:  rt.Locker(),
		Metrics: rt.metrics,
		Logger:  rt.logger,
		LockTTL: rt.cfg.BootstrapLockTTL,
	}
}

// Ping checks every connected backend.
func (rt *Runtime) Ping(ctx context.Context) error {
	rt.mustOpen()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rt.repo.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	if rt.cache != nil {
		if err := rt.cache.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
	}
	return nil
}

// Close releases every connection. Safe to call more than once.
func (rt *Runtime) Close() error {
	var err error
	rt.closeOnce.Do(func() {
		rt.mu.Lock()
		rt.closed = true
		rt.mu.Unlock()

		if rt.cache != nil {
			err = rt.cache.Close()
		}
		if rt.repo != nil {
			rt.repo.Close()
		}
	})
	return err
}

func (rt *Runtime) mustOpen() {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if rt.closed {
		panic(ErrClosed)
	}
}

// cacheLocker adapts the Redis lock to the bootstrap Locker.
type cacheLocker struct {
	cache *cache.Cache
}

func (l cacheLocker) AcquireLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.cache.AcquireLock(ctx, name, ttl)
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			return nil, bootstrap.ErrLockHeld
		}
		return nil, err
	}
	return lock.Release, nil
}
