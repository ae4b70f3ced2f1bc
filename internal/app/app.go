// Package app wires configuration, stores and the gateway for both binaries.
package app

import (
	"context"
	"fmt"

	"ppmt-amp-api/internal/awsclient"
	"ppmt-amp-api/internal/cache"
	"ppmt-amp-api/internal/config"
	"ppmt-amp-api/internal/handler"
	"ppmt-amp-api/internal/query"
	"ppmt-amp-api/internal/ratelimit"
	"ppmt-amp-api/internal/repository"
	"ppmt-amp-api/internal/service"

	"go.uber.org/zap"
)

// Deps are the AWS clients the application needs.
type Deps struct {
	DynamoDB repository.DynamoAPI
	KMS      awsclient.KMSDecrypter
}

// App holds the wired components.
type App struct {
	Gateway *service.Gateway
	Checks  map[string]handler.Pinger
	Janitor *service.Janitor

	closers []func() error
	logger  *zap.Logger
}

// Build creates every component from cfg. Call Close when done.
func Build(ctx context.Context, cfg *config.Config, deps Deps, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Checks: map[string]handler.Pinger{}, logger: logger}

	secret, err := awsclient.ResolveSecret(ctx, cfg.Auth, deps.KMS)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve app secret: %w", err)
	}

	rules, err := query.LoadRules(cfg.Query.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load query rules: %w", err)
	}
	logger.Info("query rules loaded",
		zap.Int("version", rules.Version),
		zap.String("path", cfg.Query.RulesPath),
		zap.Bool("index_fallback", cfg.Query.IndexFallback))

	router := query.NewRouter(rules,
		query.WithLimits(cfg.Query.DefaultLimit, cfg.Query.MaxLimit),
		query.WithIndexFallback(cfg.Query.IndexFallback))
	catalog := query.NewCatalog(router,
		repository.NewDynamoCatalog(deps.DynamoDB, cfg.Tables.Items, cfg.Tables.Series, logger),
		logger)

	store, err := a.rateLimitStore(ctx, cfg, deps)
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("rate limit store initialized", zap.String("backend", cfg.RateLimit.Backend))

	a.Gateway = service.NewGateway(
		service.GatewayConfig{
			Secret:       secret,
			ValidAppIDs:  cfg.Auth.ValidAppIDs,
			StoreTimeout: cfg.AWS.StoreTimeout,
		},
		ratelimit.New(store, logger),
		catalog,
		logger,
	)
	return a, nil
}

func (a *App) rateLimitStore(ctx context.Context, cfg *config.Config, deps Deps) (ratelimit.Store, error) {
	rl := cfg.RateLimit

	switch rl.Backend {
	case config.BackendRedis:
		s, err := cache.NewRedisRateLimitStore(cache.RedisConfig{
			Addr:      rl.RedisAddress(),
			Password:  rl.RedisPassword,
			DB:        rl.RedisDB,
			KeyPrefix: rl.RedisKeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		a.Checks["redis"] = s
		a.closers = append(a.closers, s.Close)
		return s, nil

	case config.BackendSQLite, config.BackendMySQL, config.BackendPostgres:
		var (
			s   *repository.SQLRateLimitStore
			err error
		)
		switch rl.Backend {
		case config.BackendSQLite:
			s, err = repository.NewSQLiteRateLimitStore(rl.SQLitePath)
		case config.BackendMySQL:
			s, err = repository.OpenMySQLRateLimitStore(ctx, rl.MySQLDSN())
		default:
			s, err = repository.OpenPostgresRateLimitStore(ctx, rl.PostgresDSN())
		}
		if err != nil {
			return nil, fmt.Errorf("failed to open %s rate limit store: %w", rl.Backend, err)
		}
		a.Checks[rl.Backend] = s
		a.Janitor = service.NewJanitor(s, service.JanitorConfig{Interval: rl.CleanupInterval}, a.logger)
		a.closers = append(a.closers, s.Close)
		return s, nil

	case config.BackendMemory:
		s := cache.NewMemoryRateLimitStore()
		a.closers = append(a.closers, s.Close)
		return s, nil

	default:
		return repository.NewDynamoRateLimitStore(deps.DynamoDB, cfg.Tables.RateLimits), nil
	}
}

// Start launches background maintenance.
func (a *App) Start() {
	if a.Janitor != nil {
		a.Janitor.Start()
	}
}

// Close stops the janitor and releases stores in reverse order.
func (a *App) Close() {
	if a.Janitor != nil {
		a.Janitor.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to close store", zap.Error(err))
		}
	}
	a.closers = nil
}
