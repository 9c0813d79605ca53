package metric

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pruner drops stored samples. MemorySource and SQLSource implement it.
type Pruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Retention periodically drops samples older than its window. Samples are
// only needed while they can still fall inside an alarm's evaluation window.
type Retention struct {
	pruner   Pruner
	keep     time.Duration
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRetention creates a retention loop for p.
func NewRetention(p Pruner, keep, interval time.Duration, logger *zap.Logger) *Retention {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Retention{pruner: p, keep: keep, interval: interval, logger: logger, now: time.Now}
}

// Keep returns the retention window.
func (r *Retention) Keep() time.Duration { return r.keep }

// Start launches the prune loop in the background.
func (r *Retention) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				r.run()
			}
		}
	}()
}

// Stop ends the loop and waits for it to exit.
func (r *Retention) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Retention) run() {
	ctx, cancel := context.WithTimeout(r.ctx, 30*time.Second)
	defer cancel()

	cutoff := r.now().Add(-r.keep)
	deleted, err := r.pruner.DeleteBefore(ctx, cutoff)
	if err != nil {
		r.logger.Warn("failed to prune metric samples", zap.Error(err))
		return
	}
	if deleted > 0 {
		r.logger.Debug("pruned metric samples",
			zap.Int64("count", deleted),
			zap.Time("before", cutoff),
		)
	}
}
