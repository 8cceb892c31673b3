package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/tracker-client/internal/config"
	"github.com/Sternrassler/tracker-client/pkg/cache"
	"github.com/Sternrassler/tracker-client/pkg/client"
	"github.com/Sternrassler/tracker-client/pkg/logging"
	"github.com/Sternrassler/tracker-client/pkg/netstatus"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "tracker-proxy",
		Short:        "Resilient caching proxy for ticket-tracker APIs",
		Version:      version,
		SilenceUsage: true,
	}

	root.SetVersionTemplate(fmt.Sprintf("tracker-proxy %s\ncommit: %s\n", version, commit))
	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd())

	return root
}

func newServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upstream API with retries and caching",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			logCfg := cfg.LoggingConfig()
			if verbose {
				logCfg.Level = logging.LevelDebug
			}
			logCfg.Fields = map[string]string{"service": "tracker-proxy", "version": version}
			logging.Setup(logCfg)

			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "proxy.yaml", "path to the YAML config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	return cmd
}

func newStatusCmd() *cobra.Command {
	var (
		redisAddr string
		redisDB   int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the network status published to Redis by a running proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rdb := redis.NewClient(&redis.Options{Addr: redisAddr, DB: redisDB})
			defer rdb.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			pub := netstatus.NewRedisPublisher(rdb, 0, zerolog.Nop())
			change, err := pub.LoadStatus(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(change)
		},
	}

	cmd.Flags().StringVar(&redisAddr, "redis", "localhost:6379", "Redis address")
	cmd.Flags().IntVar(&redisDB, "db", 0, "Redis database")

	return cmd
}

// serve runs the proxy until ctx is done.
func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewLogger("proxy")

	tracker := netstatus.NewTracker(cfg.TrackerConfig(), logging.NewLogger("netstatus"))

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.PublishTimeout)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}

		pub := netstatus.NewRedisPublisher(rdb, cfg.Redis.PublishTimeout, logging.NewLogger("netstatus-redis"))
		detach, err := pub.Attach(ctx, tracker)
		if err != nil {
			return err
		}
		defer detach()

		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Publishing network status to Redis")
	}

	responses := cache.New(cfg.CacheConfig())
	responses.StartJanitor(ctx, cfg.Cache.SweepInterval)

	clientLogger := logging.NewLogger("tracker-client")
	cc := cfg.ClientConfig()
	cc.Tracker = tracker
	cc.Logger = &clientLogger

	upstream, err := client.New(cc)
	if err != nil {
		return err
	}

	s := newServer(upstream, responses, tracker, cfg.CacheEnabled(), logger)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      s.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("upstream", cfg.Upstream.BaseURL).
			Bool("cache", cfg.CacheEnabled()).
			Msg("Starting tracker proxy")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
