package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chenyanchen/lazypkg/exp/reload"
	"github.com/chenyanchen/lazypkg/server"
	"github.com/chenyanchen/lazypkg/store"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve package bundles over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log.Level)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file (yaml, toml or json)")
	return cmd
}

func serve(ctx context.Context, cfg Config, logger *log.Logger) error {
	backend, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	bundles := backend
	var cached *store.Cached
	if cfg.Cache.Size > 0 {
		cached, err = store.NewCached(backend, cfg.Cache.Size, cfg.Cache.TTL)
		if err != nil {
			return err
		}
		bundles = cached
	}

	srv, err := server.New(bundles, server.WithLogger(logger.WithPrefix("lazypkg/http")))
	if err != nil {
		return err
	}
	rec := reload.New(reload.WithLogger(logger.WithPrefix("lazypkg/reload")))
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rec.Poll(ctx, backend, cfg.Reload.Interval, func(res reload.Result) error {
			if cached != nil {
				stale := append(append([]string(nil), res.Changed...), res.Removed...)
				if err := cached.Invalidate(ctx, stale...); err != nil {
					return err
				}
			}
			srv.SetManifest(rec.Manifest())
			logger.Info("manifest published", "packages", len(rec.Manifest().Packages), "rebuilt", res.Rebuilt)
			return nil
		})
	})
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Addr, "store", cfg.Store.Kind)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("stopped")
	return nil
}

func openStore(ctx context.Context, cfg StoreConfig) (store.Store, func(), error) {
	switch cfg.Kind {
	case storeDir:
		s, err := store.NewDirStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case storeRedis:
		cli := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := cli.Ping(ctx).Err(); err != nil {
			_ = cli.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return &store.RedisStore{Client: cli, Prefix: cfg.Redis.Prefix}, func() { _ = cli.Close() }, nil
	case storePostgres:
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		s := &store.PostgresStore{DB: pool}
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure postgres schema: %w", err)
		}
		return s, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}
