package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/flopchat-server/internal/auth"
	"github.com/vovakirdan/flopchat-server/internal/config"
	"github.com/vovakirdan/flopchat-server/internal/core"
	"github.com/vovakirdan/flopchat-server/internal/core/redisbus"
	flog "github.com/vovakirdan/flopchat-server/internal/log"
	"github.com/vovakirdan/flopchat-server/internal/relay"
	"github.com/vovakirdan/flopchat-server/internal/store"
	"github.com/vovakirdan/flopchat-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/flopchat-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	store           store.Store
	bus             *redisbus.Bus
	redis           *redis.Client
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (*App, error) {
	if cfg.JWT.Secret == config.DevJWTSecret {
		logger.Warn().Msg("using the built-in development JWT secret; set jwt.secret for production")
	}

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := core.NewMetrics(promReg)

	st := store.NewGateway(db, cfg.Store.Workers, cfg.Store.Timeout, metrics)
	registry := core.NewRegistry(flog.Component(logger, "registry"), metrics)

	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           st,
		log:             logger,
	}

	var (
		bus    core.Broadcaster = registry
		locker relay.Locker
	)
	if cfg.Redis.Addr != "" {
		client, err := redisbus.Dial(ctx, redisbus.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.cleanup()
			return nil, err
		}
		a.redis = client
		a.bus = redisbus.New(client, cfg.Redis.Prefix, registry, flog.Component(logger, "redisbus"))
		bus = a.bus
		locker = redisbus.NewLocker(client, cfg.Redis.Prefix, cfg.Redis.LockTTL)
		logger.Info().Str("redis_addr", cfg.Redis.Addr).Msg("distributed fan-out enabled")
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWT.Secret),
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		TTL:      cfg.JWT.TTL,
	}

	deps := transporthttp.Deps{
		Router:    relay.NewRouter(st, bus, locker, flog.Component(logger, "relay"), metrics),
		Registry:  registry,
		Validator: auth.NewValidator(jwtConfig, st),
		Config:    cfg,
		Logger:    flog.Component(logger, "ws"),
		Metrics:   metrics,
	}
	if cfg.Metrics.Enabled {
		deps.Gatherer = promReg
	}
	a.server = transporthttp.NewServer(deps)

	return a, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() stdhttp.Handler {
	return a.server.Handler
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.bus != nil {
		g.Go(func() error {
			return a.bus.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
