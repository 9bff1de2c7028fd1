package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"e-router/client"
	"e-router/dispatcher"
	"e-router/message"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Drive concurrent load against a router",
	Long: `Start --clients concurrent clients, each sending --count tasks of
--size to the router one after another, and write the latency of every
request in seconds to --out, one "%.4f" value per line.`,
	RunE: runLoad,
}

func init() {
	loadCmd.Flags().String("router", "127.0.0.1:7000", "Router address")
	loadCmd.Flags().String("function", "sum", "Function to invoke")
	loadCmd.Flags().Int("clients", 1, "Concurrent clients")
	loadCmd.Flags().Int("count", 10, "Tasks per client")
	loadCmd.Flags().Uint64("size", 5000, "Task size")
	loadCmd.Flags().Duration("delay-min", 0, "Minimum simulated network delay before each request")
	loadCmd.Flags().Duration("delay-max", 0, "Maximum simulated network delay before each request")
	loadCmd.Flags().String("out", "process_times.log", "Latency log file")
}

type loadOptions struct {
	Router   string
	Function string
	Clients  int
	Count    int
	Size     uint64
	DelayMin time.Duration
	DelayMax time.Duration
}

func runLoad(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(cmd, "erouter-load")
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	var opts loadOptions
	opts.Router, _ = flags.GetString("router")
	opts.Function, _ = flags.GetString("function")
	opts.Clients, _ = flags.GetInt("clients")
	opts.Count, _ = flags.GetInt("count")
	opts.Size, _ = flags.GetUint64("size")
	opts.DelayMin, _ = flags.GetDuration("delay-min")
	opts.DelayMax, _ = flags.GetDuration("delay-max")
	out, _ := flags.GetString("out")

	cli := client.NewClient(
		client.WithCodec(cfg.CodecType()),
		client.WithPoolSize(cfg.PoolSize),
		client.WithRetry(client.DefaultRetryConfig()),
		client.WithLogger(log),
	)
	defer cli.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	latencies, err := generateLoad(ctx, cli, opts, log)
	if err != nil {
		return err
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := writeLatencies(f, latencies); err != nil {
		return err
	}
	log.Info().
		Int("requests", len(latencies)).
		Dur("elapsed", time.Since(start)).
		Str("out", out).
		Msg("load finished")
	return nil
}

// generateLoad runs opts.Clients goroutines, each sending opts.Count tasks
// sequentially, and returns every request latency. Replies carrying an error
// such as no_endpoint are logged and still counted; a transport failure
// aborts the run.
func generateLoad(ctx context.Context, c dispatcher.Caller, opts loadOptions, log zerolog.Logger) ([]time.Duration, error) {
	var (
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, opts.Clients*opts.Count)
	)
	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.Clients; i++ {
		clientID := fmt.Sprintf("client-%d", i+1)
		eg.Go(func() error {
			for j := 0; j < opts.Count; j++ {
				reply, latency, err := sendTask(ctx, c, clientID, opts)
				if err != nil {
					return fmt.Errorf("%s: %w", clientID, err)
				}
				if reply.Error != "" {
					log.Warn().Str("client", clientID).Str("status", reply.Status).Str("error", reply.Error).Msg("task not served")
				}
				log.Debug().Str("client", clientID).Str("endpoint", reply.Endpoint).Float64("seconds", latency.Seconds()).Msg("processed task")
				mu.Lock()
				latencies = append(latencies, latency)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return latencies, nil
}

func sendTask(ctx context.Context, c dispatcher.Caller, clientID string, opts loadOptions) (*message.Message, time.Duration, error) {
	task := message.Task{ID: "task-" + uuid.NewString(), Size: opts.Size}
	req, err := message.NewRequest(clientID, opts.Function, task)
	if err != nil {
		return nil, 0, err
	}

	start := time.Now()
	if d := networkDelay(opts.DelayMin, opts.DelayMax); d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	reply, err := c.Call(ctx, opts.Router, req)
	if err != nil {
		return nil, 0, err
	}
	return reply, time.Since(start), nil
}

func networkDelay(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

func writeLatencies(w io.Writer, latencies []time.Duration) error {
	bw := bufio.NewWriter(w)
	for _, l := range latencies {
		if _, err := fmt.Fprintf(bw, "%.4f\n", l.Seconds()); err != nil {
			return err
		}
	}
	return bw.Flush()
}
