package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"e-router/admin"
	"e-router/client"
	"e-router/config"
	"e-router/dispatcher"
	"e-router/loadbalance"
	"e-router/middleware"
	"e-router/registry"
	"e-router/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the router",
	Long: `Run the router: a framed TCP listener that routes each request to the
next e-computer registered for its function, plus the admin HTTP API.

Functions and endpoints come from the YAML function table, the admin API
and, when etcd endpoints are configured, from e-computer announcements.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "TCP listen address (overrides EROUTER_LISTEN_ADDR)")
	serveCmd.Flags().String("admin", "", "Admin HTTP address (overrides EROUTER_ADMIN_ADDR); \"off\" disables it")
	serveCmd.Flags().String("functions", "", "YAML function table (overrides EROUTER_FUNCTIONS_FILE)")
	serveCmd.Flags().String("policy", "", "Selection policy: round_robin, weighted_random, consistent_hash")
	serveCmd.Flags().StringSlice("etcd", nil, "etcd endpoints for e-computer discovery")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(cmd, "erouter")
	if err != nil {
		return err
	}
	overrideString(cmd, "listen", &cfg.ListenAddr)
	overrideString(cmd, "admin", &cfg.AdminAddr)
	overrideString(cmd, "functions", &cfg.FunctionsFile)
	overrideString(cmd, "policy", &cfg.Policy)
	if v, _ := cmd.Flags().GetStringSlice("etcd"); len(v) > 0 {
		cfg.EtcdEndpoints = v
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	reg := registry.NewMemoryRegistry()
	if cfg.FunctionsFile != "" {
		table, err := config.LoadFunctions(cfg.FunctionsFile)
		if err != nil {
			return err
		}
		n := table.Bootstrap(reg, log)
		log.Info().Str("path", cfg.FunctionsFile).Int("endpoints", n).Msg("function table loaded")
	}

	selector, err := loadbalance.NewSelector(cfg.Policy, reg)
	if err != nil {
		return err
	}

	upstream := client.NewClient(
		client.WithCodec(cfg.CodecType()),
		client.WithPoolSize(cfg.PoolSize),
		client.WithLogger(log),
	)
	defer upstream.Close()

	d := dispatcher.New(selector,
		dispatcher.WithForwarder(dispatcher.NewRemote(upstream)),
		dispatcher.WithLogger(log),
	)

	var watcher *registry.EtcdWatcher
	if len(cfg.EtcdEndpoints) > 0 {
		etcdClient, err := registry.NewEtcdClient(cfg.EtcdEndpoints)
		if err != nil {
			return err
		}
		defer etcdClient.Close()
		watcher = registry.NewEtcdWatcher(etcdClient, log)
	}

	svr := server.NewServer(d.Handler(), log)
	svr.Use(middleware.LoggingMiddleware(log))
	if cfg.RateLimit > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	}
	// Timeout spawns the handler goroutine; recovery must sit inside it.
	svr.Use(middleware.TimeOutMiddleware(cfg.ForwardTimeout))
	svr.Use(middleware.RecoveryMiddleware(log))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := svr.Serve("tcp", cfg.ListenAddr); err != nil {
			return fmt.Errorf("router: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		return svr.Shutdown(cfg.ShutdownTimeout)
	})
	eg.Go(func() error {
		d.ReportRate(ctx, cfg.ReportInterval)
		return nil
	})
	if cfg.AdminAddr != "" && cfg.AdminAddr != "off" {
		eg.Go(func() error {
			return admin.New(cfg.AdminAddr, reg, log).Run(ctx, cfg.ShutdownTimeout)
		})
	}
	if watcher != nil {
		eg.Go(func() error {
			err := watcher.Sync(ctx, reg)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	log.Info().
		Str("listen", cfg.ListenAddr).
		Str("policy", cfg.Policy).
		Strs("functions", reg.Functions()).
		Msg("router started")

	err = eg.Wait()
	log.Info().Uint64("forwarded", d.Forwarded()).Msg("router stopped")
	return err
}

func overrideString(cmd *cobra.Command, flag string, dst *string) {
	if v, _ := cmd.Flags().GetString(flag); v != "" {
		*dst = v
	}
}
