package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"wordmint/internal/store"
)

// DefaultSweepLimit caps how many due groups one sweep pass processes.
const DefaultSweepLimit = 100

// SweepResult counts one pass over the due index.
type SweepResult struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
}

// Sweeper is the resilience net behind the precise path: it periodically
// drains everything due in the index. Because claiming is atomic it is
// always safe to run concurrently with itself or with precise triggers; the
// only possible waste is an already-claimed no-op.
type Sweeper struct {
	Store     *store.Store
	Deliverer *Deliverer
	Interval  time.Duration
	Limit     int64
	Now       func() time.Time
	Log       *zap.Logger
}

func (w *Sweeper) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Sweeper) log() *zap.Logger {
	if w.Log != nil {
		return w.Log
	}
	return zap.NewNop()
}

// DrainDue sends every group due at or before now, up to limit, sequentially.
func (w *Sweeper) DrainDue(ctx context.Context, limit int64) (SweepResult, error) {
	if limit <= 0 {
		limit = w.Limit
	}
	if limit <= 0 {
		limit = DefaultSweepLimit
	}
	ids, err := w.Store.DuePending(ctx, w.now(), limit)
	if err != nil {
		return SweepResult{}, err
	}
	var result SweepResult
	for _, id := range ids {
		result.Processed++
		res, err := w.Deliverer.SendNow(ctx, id)
		if err != nil {
			w.log().Warn("sweep send failed", zap.String("group_id", id), zap.Error(err))
			continue
		}
		if res.OK {
			result.Sent++
		}
	}
	return result, nil
}

// Run drains on a ticker until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := w.DrainDue(ctx, 0)
			if err != nil {
				w.log().Warn("sweep pass failed", zap.Error(err))
				continue
			}
			if res.Processed > 0 {
				w.log().Info("sweep pass",
					zap.Int("processed", res.Processed), zap.Int("sent", res.Sent))
			}
		}
	}
}
