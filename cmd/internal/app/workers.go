package app

import (
	"context"
	"sync"
	"time"

	"herald/cmd/internal/invite"
	"herald/cmd/internal/ratelimit"
)

// startWorkers launches the periodic DLQ replay, rate-limit sweep and
// redemption-ledger sweep. Each loop exits when ctx is done.
func (a *App) startWorkers(ctx context.Context, wg *sync.WaitGroup) {
	if a.deps.Replayer != nil && a.cfg.ReplayInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.deps.Replayer.Run(ctx, a.cfg.ReplayInterval, a.log)
		}()
	}

	if a.cfg.SweepInterval > 0 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ratelimit.Sweeper{
				Store:    a.deps.RateStore,
				Interval: a.cfg.SweepInterval,
				Metrics:  a.deps.RateMetrics,
				Log:      a.log,
			}.Run(ctx)
		}()
		go func() {
			defer wg.Done()
			sweepRedemptions(ctx, a.deps.Redemptions, a.cfg.SweepInterval, a.log)
		}()
	}
}

// sweepRedemptions deletes ledger rows of expired tokens every interval.
func sweepRedemptions(ctx context.Context, st invite.RedemptionStore, interval time.Duration, log Logger) {
	if st == nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := st.Sweep(ctx, time.Now().UTC())
			if err != nil {
				log.Warn("invite.redemptions.sweep.fail", "err", err)
				continue
			}
			if n > 0 {
				log.Debug("invite.redemptions.sweep.ok", "removed", n)
			}
		}
	}
}
