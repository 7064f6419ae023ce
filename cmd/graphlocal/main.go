package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/graphlocal/graphlocal/chatgraph"
	"github.com/graphlocal/graphlocal/checkpoint"
	"github.com/graphlocal/graphlocal/checkpoint/memory"
	"github.com/graphlocal/graphlocal/checkpoint/postgres"
	"github.com/graphlocal/graphlocal/checkpoint/redis"
	"github.com/graphlocal/graphlocal/checkpoint/sqlite"
	"github.com/graphlocal/graphlocal/config"
	"github.com/graphlocal/graphlocal/log"
	"github.com/graphlocal/graphlocal/repository"
	"github.com/graphlocal/graphlocal/server"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "graphlocal: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "graphlocal",
		Short:         "graphlocal serves local chat graphs over SSE",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("GRAPHLOCAL_CONFIG"), "Path to config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "graphs",
		Short: "List the graphs the configuration defines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(configPath)
			if err != nil {
				return err
			}
			names := graphNames(cfg)
			for _, name := range names {
				marker := " "
				if name == cfg.Server.DefaultGraph {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
			}
			return nil
		},
	})
	return cmd
}

func setup(configPath string) (*config.Config, log.Logger, error) {
	cfg, err := config.Load(strings.TrimSpace(configPath))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	level, err := log.ParseLevel(cfg.Level())
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}
	return cfg, log.New(level, os.Stderr), nil
}

func serve(ctx context.Context, cfg *config.Config, logger log.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	store, closeStore, err := openCheckpointStore(ctx, cfg.Checkpoint)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer closeStore()

	repo, err := buildRepository(cfg, store, logger)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Options{
		Registry:     repo,
		Checkpoints:  store,
		DefaultGraph: cfg.Server.DefaultGraph,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening on %s (graphs: %s, checkpoints: %s)",
			cfg.Server.Addr, strings.Join(repo.List(), ", "), cfg.Checkpoint.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal: %v", sig)
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("context done: %v", ctx.Err())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// openCheckpointStore returns the configured store, or nil for the none
// backend, together with a function releasing it.
func openCheckpointStore(ctx context.Context, cfg config.CheckpointConfig) (checkpoint.Store, func(), error) {
	noop := func() {}

	switch cfg.Backend {
	case config.BackendNone:
		return nil, noop, nil
	case config.BackendMemory, "":
		return memory.New(), noop, nil
	case config.BackendSQLite:
		s, err := sqlite.New(ctx, sqlite.Options{Path: cfg.SQLitePath, TableName: cfg.Table})
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.BackendRedis:
		s := redis.New(redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
			TTL:      cfg.RedisTTL,
		})
		if err := s.Ping(ctx); err != nil {
			_ = s.Close()
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.BackendPostgres:
		s, err := postgres.New(ctx, postgres.Options{ConnString: cfg.PostgresDSN, TableName: cfg.Table})
		if err != nil {
			return nil, noop, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// buildRepository compiles every configured graph and registers it.
func buildRepository(cfg *config.Config, store checkpoint.Store, logger log.Logger) (*repository.Repository, error) {
	repo := repository.New(logger)
	graphs := cfg.NamedGraphs()
	for _, name := range graphNames(cfg) {
		opts := []chatgraph.Option{chatgraph.WithLogger(logger)}
		if store != nil {
			opts = append(opts, chatgraph.WithCheckpointStore(store))
		}
		g, err := chatgraph.Build(name, graphs[name], opts...)
		if err != nil {
			return nil, fmt.Errorf("build graph %q: %w", name, err)
		}
		repo.Register(name, g)
	}
	return repo, nil
}

func graphNames(cfg *config.Config) []string {
	graphs := cfg.NamedGraphs()
	names := make([]string, 0, len(graphs))
	for name := range graphs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
