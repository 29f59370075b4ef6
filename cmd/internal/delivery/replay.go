package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"herald/cmd/internal/waitlist"
)

// ReplayError is one per-entry failure inside a replay pass.
type ReplayError struct {
	WaitlistID string `json:"waitlistId"`
	Error      string `json:"error"`
}

// ReplayResult summarizes one replay pass.
type ReplayResult struct {
	Processed  int           `json:"processed"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Dropped    int           `json:"dropped"`
	Errors     []ReplayError `json:"errors"`
}

// Replayer retries dead-lettered confirmation sends.
type Replayer struct {
	Pipeline *Pipeline

	// BatchSize caps entries per pass (default 100).
	BatchSize int
	// Concurrency caps in-flight sends (default 4).
	Concurrency int
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailed
	outcomeDropped
)

// Replay runs one pass. Per-entry failures are collected in the result; the
// returned error is non-nil only if the queue could not be listed.
func (r *Replayer) Replay(ctx context.Context) (ReplayResult, error) {
	p := r.Pipeline
	if p == nil {
		return ReplayResult{}, ErrInvalidInput
	}
	batch := r.BatchSize
	if batch <= 0 {
		batch = 100
	}
	workers := r.Concurrency
	if workers <= 0 {
		workers = 4
	}

	ctx, span := p.tracer.Start(ctx, "delivery.replay")
	defer span.End()

	entries, err := p.dlq.List(ctx, batch)
	if err != nil {
		span.RecordError(err)
		return ReplayResult{}, err
	}

	var (
		mu  sync.Mutex
		res = ReplayResult{Errors: []ReplayError{}}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, e := range entries {
		g.Go(func() error {
			out, err := r.replayOne(gctx, e)

			mu.Lock()
			defer mu.Unlock()
			res.Processed++
			switch out {
			case outcomeSuccess:
				res.Successful++
			case outcomeDropped:
				res.Dropped++
			default:
				res.Failed++
			}
			if err != nil {
				res.Errors = append(res.Errors, ReplayError{WaitlistID: e.WaitlistID, Error: err.Error()})
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("herald.replay.processed", res.Processed),
		attribute.Int("herald.replay.successful", res.Successful),
		attribute.Int("herald.replay.failed", res.Failed),
		attribute.Int("herald.replay.dropped", res.Dropped),
	)
	p.log.Info("delivery.replay.done",
		"processed", res.Processed,
		"successful", res.Successful,
		"failed", res.Failed,
		"dropped", res.Dropped,
	)
	return res, nil
}

func (r *Replayer) replayOne(ctx context.Context, e DeadLetterEntry) (outcome, error) {
	p := r.Pipeline
	now := p.now()

	if e.Exhausted() {
		return r.drop(ctx, e, DropAttemptsExhausted, now)
	}

	rec, err := p.waitlist.Get(ctx, e.WaitlistID)
	if err != nil {
		if errors.Is(err, waitlist.ErrNotFound) {
			return r.drop(ctx, e, DropRecordMissing, now)
		}
		p.metrics.replay("failed")
		return outcomeFailed, err
	}
	if _, err := waitlist.NormalizeAddress(rec.Email); err != nil {
		return r.drop(ctx, e, DropInvalidRecipient, now)
	}

	if rec.Comms.Confirmation.Sent {
		if err := p.dlq.Delete(ctx, e.WaitlistID); err != nil {
			p.metrics.replay("failed")
			return outcomeFailed, err
		}
		p.metrics.replay("successful")
		return outcomeSuccess, nil
	}

	res, sendErr := p.deliverConfirmation(ctx, rec)
	if sendErr == nil {
		if err := p.waitlist.MarkConfirmationSent(ctx, rec.ID, res.ID, p.now()); err != nil {
			p.metrics.replay("failed")
			return outcomeFailed, err
		}
		if err := p.dlq.Delete(ctx, e.WaitlistID); err != nil {
			p.log.Warn("delivery.replay.delete_fail", "waitlist_id", e.WaitlistID, "err", err)
		}
		p.metrics.replay("successful")
		return outcomeSuccess, nil
	}

	se := toSendError(sendErr)
	if err := p.waitlist.MarkConfirmationFailed(ctx, rec.ID, se); err != nil {
		p.log.Warn("delivery.replay.mark_failed_fail", "waitlist_id", rec.ID, "err", err)
	}
	updated, err := p.dlq.RecordFailure(ctx, e.WaitlistID, e.MaxAttempts, se, p.now())
	if err != nil {
		p.metrics.replay("failed")
		return outcomeFailed, errors.Join(sendErr, err)
	}
	if IsPermanent(sendErr) {
		if _, derr := r.drop(ctx, updated, DropPermanentFailure, now); derr != nil {
			return outcomeFailed, errors.Join(sendErr, derr)
		}
		return outcomeDropped, sendErr
	}
	p.metrics.replay("failed")
	return outcomeFailed, sendErr
}

func (r *Replayer) drop(ctx context.Context, e DeadLetterEntry, reason DropReason, now time.Time) (outcome, error) {
	p := r.Pipeline
	if err := p.dlq.Drop(ctx, e, reason, now); err != nil {
		p.metrics.replay("failed")
		return outcomeFailed, err
	}
	p.log.Info("delivery.dlq.dropped", "waitlist_id", e.WaitlistID, "reason", string(reason), "attempts", e.Attempts)
	p.metrics.replay("dropped")
	return outcomeDropped, nil
}

// Run replays every interval until ctx is done.
func (r *Replayer) Run(ctx context.Context, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		return
	}
	if log == nil {
		log = slog.Default()
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.Replay(ctx); err != nil {
				log.Error("delivery.replay.fail", "err", err)
			}
		}
	}
}
