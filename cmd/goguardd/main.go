package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/store/postgres"
	redisstore "github.com/MrEthical07/goGuard/store/redis"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file; GOGUARD_* env vars override it")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	flag.Parse()

	app := fx.New(
		fx.Supply(configFile(*configPath), listenAddr(*addr)),
		fx.Provide(
			newConfig,
			newLogger,
			newPGXPool,
			newPostgresStore,
			newFastStores,
			newEngine,
			newRouter,
		),
		fx.Invoke(startMaintenance, startHTTPServer),
	)

	app.Run()
}

type (
	configFile string
	listenAddr string
)

func newConfig(path configFile) (goGuard.Config, error) {
	return goGuard.LoadConfig(string(path))
}

func newLogger(cfg goGuard.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Security.DevelopmentMode {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newPGXPool(lc fx.Lifecycle, cfg goGuard.Config) (*pgxpool.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = cfg.Database.MaxConnections
	poolCfg.MinConns = cfg.Database.MinConnections
	if cfg.Database.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})
	return pool, nil
}

func newPostgresStore(pool *pgxpool.Pool) *postgres.Store {
	return postgres.New(pool)
}

// fastStores holds the optional Redis replacements for counters and CSRF tokens.
type fastStores struct {
	store *redisstore.Store
}

func newFastStores(lc fx.Lifecycle, cfg goGuard.Config, logger *zap.Logger) (fastStores, error) {
	if cfg.Redis.Addr == "" {
		logger.Info("redis not configured; counters and csrf tokens use postgres")
		return fastStores{}, nil
	}
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:    []string{cfg.Redis.Addr},
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		// Counters fail open, so an unreachable Redis at boot is logged rather than fatal.
		logger.Warn("redis ping failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return fastStores{store: redisstore.New(client, cfg.Redis.KeyPrefix)}, nil
}

func newEngine(lc fx.Lifecycle, cfg goGuard.Config, logger *zap.Logger, store *postgres.Store, fast fastStores) (*goGuard.Engine, error) {
	b := goGuard.New().
		WithConfig(cfg).
		WithStore(store).
		WithLogger(logger.Named("goguard"))
	if fast.store != nil {
		b.WithCounterStore(fast.store).WithCSRFStore(fast.store)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	engine, err := b.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			engine.Close()
			return nil
		},
	})
	return engine, nil
}

func startMaintenance(lc fx.Lifecycle, engine *goGuard.Engine) {
	var stop func()
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			stop = engine.StartMaintenance(context.Background())
			return nil
		},
		OnStop: func(context.Context) error {
			if stop != nil {
				stop()
			}
			return nil
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, handler http.Handler, addr listenAddr, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              string(addr),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				logger.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
