package isolation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Ticker is the part of Detector the scheduler drives.
type Ticker interface {
	Tick(ctx context.Context, at time.Time) (TickReport, error)
}

// Scheduler ticks the detector once per period, always evaluating the most
// recent complete bucket.
type Scheduler struct {
	ticker   Ticker
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler for t with the given period.
func NewScheduler(t Ticker, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		ticker:   t,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Start begins the scheduling loop in the background.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		// Run immediately on start, then on each tick.
		s.tick()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit. A tick in flight is
// discarded.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Running reports whether the scheduler loop is active.
func (s *Scheduler) Running() bool {
	return s.ctx != nil && s.ctx.Err() == nil
}

// tick evaluates the bucket before the one containing now. A tick may not
// outlive its period.
func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(s.ctx, s.interval)
	defer cancel()

	at := s.now().Add(-s.interval)
	report, err := s.ticker.Tick(ctx, at)
	switch {
	case err == nil:
		s.logger.Debug("tick complete",
			zap.String("tick_id", report.ID),
			zap.Time("bucket", report.Bucket),
			zap.String("result", report.Result),
			zap.Int("transitions", len(report.Transitions)),
			zap.Duration("duration", report.Duration),
		)
	case errors.Is(err, ErrStaleTick):
		s.logger.Debug("scheduler: bucket already evaluated", zap.Time("at", at))
	default:
		s.logger.Warn("scheduler: tick failed", zap.Time("at", at), zap.Error(err))
	}
}
