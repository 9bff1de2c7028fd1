package dispatcher

import (
	"context"
	"time"

	"e-router/metrics"
)

// ReportRate logs the forwarding rate every interval until ctx is done. Each
// report covers only the forwards since the previous one.
func (d *Dispatcher) ReportRate(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reportOnce(interval)
		}
	}
}

func (d *Dispatcher) reportOnce(interval time.Duration) float64 {
	n := d.forwards.Swap(0)
	rate := float64(n) / interval.Seconds()
	metrics.RecordForwardRate(rate)
	d.log.Info().
		Uint64("forwards", n).
		Float64("per_second", rate).
		Dur("interval", interval).
		Msg("forward rate")
	return rate
}
