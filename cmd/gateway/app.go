package main

import (
	"context"
	"fmt"

	"github.com/edgegate/edgegate/internal/audit"
	"github.com/edgegate/edgegate/internal/cache"
	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/gateway"
	"github.com/edgegate/edgegate/internal/middleware"
	"github.com/edgegate/edgegate/internal/observability"
	"github.com/edgegate/edgegate/internal/store"
)

// application owns the wired gateway and its dependencies.
type application struct {
	cfg      *config.Config
	logger   observability.Logger
	store    store.Store
	backend  cache.Cache
	recorder *audit.Recorder
	gateway  *gateway.Gateway
	watcher  *config.Watcher
}

// newApplication wires the store, cache backend, audit trail, and
// gateway from the validated configuration.
func newApplication(cfg *config.Config, logger observability.Logger, version string) (*application, error) {
	app := &application{cfg: cfg, logger: logger}

	middleware.SetGlobalIPExtractor(middleware.NewClientIPExtractor(cfg.TrustedProxies))

	var err error
	if app.store, err = buildStore(&cfg.Store); err != nil {
		return nil, fmt.Errorf("counter store: %w", err)
	}

	if cfg.Cache.Enabled {
		if app.backend, err = cache.New(&cfg.Cache, logger); err != nil {
			app.close()
			return nil, fmt.Errorf("cache backend: %w", err)
		}
	}

	if cfg.Audit.Enabled {
		if app.recorder, err = buildRecorder(&cfg.Audit, app.store, logger); err != nil {
			app.close()
			return nil, fmt.Errorf("audit trail: %w", err)
		}
	}

	app.gateway, err = gateway.New(cfg,
		gateway.WithLogger(logger),
		gateway.WithStore(app.store),
		gateway.WithCacheBackend(app.backend),
		gateway.WithRecorder(app.recorder),
		gateway.WithVersion(version),
	)
	if err != nil {
		app.close()
		return nil, err
	}

	return app, nil
}

// buildStore creates the shared counter store.
func buildStore(cfg *config.StoreConfig) (store.Store, error) {
	switch cfg.Type {
	case config.StoreTypeMemory, "":
		return store.NewMemoryStore(), nil
	case config.StoreTypeRedis:
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis store selected but no redis settings given")
		}
		return store.NewRedisStoreWithConfig(redisStoreConfig(cfg.Redis))
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// redisStoreConfig maps file configuration onto the store's connection
// settings, keeping the store defaults for anything unset.
func redisStoreConfig(cfg *config.RedisStoreConfig) *store.RedisConfig {
	rc := store.DefaultRedisConfig()
	rc.Address = cfg.Address
	rc.Password = cfg.Password
	rc.DB = cfg.DB
	if cfg.KeyPrefix != "" {
		rc.Prefix = cfg.KeyPrefix
	}
	if cfg.PoolSize > 0 {
		rc.PoolSize = cfg.PoolSize
	}
	if d := cfg.ConnectTimeout.Duration(); d > 0 {
		rc.DialTimeout = d
	}
	if d := cfg.ReadTimeout.Duration(); d > 0 {
		rc.ReadTimeout = d
	}
	if d := cfg.WriteTimeout.Duration(); d > 0 {
		rc.WriteTimeout = d
	}
	if cfg.Retry != nil {
		rc.ConnectionRetries = cfg.Retry.GetMaxRetries()
		rc.InitialBackoff = cfg.Retry.GetInitialBackoff().Duration()
		rc.MaxBackoff = cfg.Retry.GetMaxBackoff().Duration()
	}
	return rc
}

// buildRecorder creates the audit trail recorder.
func buildRecorder(cfg *config.AuditConfig, s store.Store, logger observability.Logger) (*audit.Recorder, error) {
	auditLogger, err := audit.NewLogger(cfg.Output)
	if err != nil {
		return nil, err
	}

	opts := []audit.RecorderOption{audit.WithRecorderLogger(logger)}
	if d := cfg.Retention.Duration(); d > 0 {
		opts = append(opts, audit.WithRetention(d))
	}

	return audit.NewRecorder(auditLogger, s, opts...), nil
}

// run starts the gateway and the config watcher, then blocks until the
// context is cancelled.
func (a *application) run(ctx context.Context, configPath string) error {
	if err := a.gateway.Start(ctx); err != nil {
		return err
	}

	if err := a.startWatcher(ctx, configPath); err != nil {
		a.logger.Warn("config watcher disabled", observability.Error(err))
	}

	<-ctx.Done()
	a.logger.Info("shutdown signal received")

	return a.gateway.Stop(context.Background())
}

// startWatcher begins watching the config file and applies role
// multiplier changes to the running gateway.
func (a *application) startWatcher(ctx context.Context, configPath string) error {
	watcher, err := config.NewWatcher(configPath,
		func(cfg *config.Config) {
			a.gateway.Reload(ctx, cfg)
		},
		config.WithLogger(a.logger),
		config.WithErrorCallback(func(err error) {
			a.logger.Warn("config reload failed", observability.Error(err))
		}),
	)
	if err != nil {
		return err
	}

	if err := watcher.Start(ctx); err != nil {
		return err
	}

	a.watcher = watcher
	return nil
}

// close releases everything the application owns.
func (a *application) close() {
	if a.watcher != nil {
		_ = a.watcher.Stop()
	}
	if a.recorder != nil {
		_ = a.recorder.Close()
	}
	if a.backend != nil {
		_ = a.backend.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
