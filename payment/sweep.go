package payment

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AutoAccepter is the single conditional update the sweep relies on.
type AutoAccepter interface {
	AutoAccept(ctx context.Context, cutoff, at time.Time) (int64, error)
}

// Sweep accepts payments the counterparty left unanswered for AutoAcceptAfter.
// Runs are idempotent and may overlap.
type Sweep struct {
	repo   AutoAccepter
	now    func() time.Time
	logger *zap.Logger
}

func NewSweep(repo AutoAccepter, logger *zap.Logger) *Sweep {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweep{repo: repo, now: time.Now, logger: logger}
}

func (s *Sweep) WithClock(now func() time.Time) *Sweep {
	s.now = now
	return s
}

// Run performs one pass and reports how many payments it accepted.
func (s *Sweep) Run(ctx context.Context) (int64, error) {
	now := s.now()
	n, err := s.repo.AutoAccept(ctx, now.Add(-AutoAcceptAfter), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("auto-accepted unanswered payments", zap.Int64("count", n))
	}
	return n, nil
}

// Loop runs the sweep every interval until ctx is done. Failed passes are
// logged and retried on the next tick.
func (s *Sweep) Loop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("payment sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
