package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically deletes expired entries from a Store.
type Sweeper struct {
	Store    Store
	Interval time.Duration
	Metrics  *Metrics
	Log      *slog.Logger
	Now      func() time.Time
}

// SweepOnce runs a single pass.
func (s Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	n, err := s.Store.Sweep(ctx, now())
	if err != nil {
		return 0, err
	}
	s.Metrics.addSwept(n)
	return n, nil
}

// Run sweeps every Interval until ctx is done.
func (s Sweeper) Run(ctx context.Context) {
	if s.Store == nil || s.Interval <= 0 {
		return
	}
	log := s.Log
	if log == nil {
		log = slog.Default()
	}

	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				log.Warn("ratelimit.sweep.fail", "err", err)
				continue
			}
			if n > 0 {
				log.Debug("ratelimit.sweep.ok", "removed", n)
			}
		}
	}
}
