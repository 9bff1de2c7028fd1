package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"e-router/computer"
	"e-router/middleware"
	"e-router/registry"
	"e-router/server"
)

var computerCmd = &cobra.Command{
	Use:   "computer",
	Short: "Run an e-computer",
	Long: `Run an e-computer: a worker that executes routed tasks by sleeping
size/speed units and replying {"id", "status": "success"}.

With --etcd it announces itself for every --function under a leased key,
so routers started with the same etcd endpoints pick it up.`,
	RunE: runComputer,
}

func init() {
	computerCmd.Flags().String("listen", ":7001", "TCP listen address")
	computerCmd.Flags().Uint64("speed", 1000, "Task size processed per unit of time")
	computerCmd.Flags().Duration("unit", time.Second, "Time unit for speed")
	computerCmd.Flags().String("advertise", "", "Address announced to routers (defaults to the listen address)")
	computerCmd.Flags().StringSlice("function", nil, "Functions to announce in etcd")
	computerCmd.Flags().Int("weight", 0, "Announced endpoint weight")
	computerCmd.Flags().StringSlice("etcd", nil, "etcd endpoints (overrides EROUTER_ETCD_ENDPOINTS)")
	computerCmd.Flags().Int64("ttl", 10, "Announcement lease TTL in seconds")
}

func runComputer(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(cmd, "ecomputer")
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	listen, _ := flags.GetString("listen")
	speed, _ := flags.GetUint64("speed")
	unit, _ := flags.GetDuration("unit")
	advertise, _ := flags.GetString("advertise")
	functions, _ := flags.GetStringSlice("function")
	weight, _ := flags.GetInt("weight")
	ttl, _ := flags.GetInt64("ttl")
	if v, _ := flags.GetStringSlice("etcd"); len(v) > 0 {
		cfg.EtcdEndpoints = v
	}

	c, err := computer.New(speed, unit, log)
	if err != nil {
		return err
	}

	l, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	if advertise == "" {
		advertise = l.Addr().String()
	}

	svr := server.NewServer(c.Handle, log)
	svr.Use(middleware.RecoveryMiddleware(log))
	svr.Use(middleware.LoggingMiddleware(log))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := svr.ServeListener(l); err != nil {
			return fmt.Errorf("e-computer: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		return svr.Shutdown(cfg.ShutdownTimeout)
	})

	if len(cfg.EtcdEndpoints) > 0 && len(functions) > 0 {
		etcdClient, err := registry.NewEtcdClient(cfg.EtcdEndpoints)
		if err != nil {
			stop()
			_ = eg.Wait()
			return err
		}
		defer etcdClient.Close()

		announcer := registry.NewEtcdAnnouncer(etcdClient)
		endpoint := registry.Endpoint{ID: advertise, Weight: weight}
		for _, fn := range functions {
			if err := announcer.Announce(ctx, fn, endpoint, ttl); err != nil {
				stop()
				_ = eg.Wait()
				return fmt.Errorf("announce %s: %w", fn, err)
			}
			log.Info().Str("function", fn).Str("endpoint", advertise).Msg("announced")
		}
		defer func() {
			withdrawCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			for _, fn := range functions {
				if err := announcer.Withdraw(withdrawCtx, fn, advertise); err != nil {
					log.Warn().Err(err).Str("function", fn).Msg("withdraw failed")
				}
			}
		}()
	}

	log.Info().Str("listen", l.Addr().String()).Uint64("speed", speed).Dur("unit", unit).Msg("e-computer started")
	return eg.Wait()
}
