package history

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Retention periodically purges transitions older than its window.
type Retention struct {
	store    *Store
	keep     time.Duration
	interval time.Duration
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRetention creates a retention loop for s.
func NewRetention(s *Store, keep, interval time.Duration, logger *zap.Logger) *Retention {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retention{store: s, keep: keep, interval: interval, logger: logger}
}

// Start launches the purge loop in the background.
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

// run executes a single purge cycle.
func (r *Retention) run() {
	ctx, cancel := context.WithTimeout(r.ctx, 30*time.Second)
	defer cancel()

	deleted, err := r.store.DeleteBefore(ctx, time.Now().Add(-r.keep))
	if err != nil {
		r.logger.Warn("failed to delete old transitions", zap.Error(err))
		return
	}
	if deleted > 0 {
		r.logger.Info("purged old alarm transitions", zap.Int64("count", deleted))
	}
}
