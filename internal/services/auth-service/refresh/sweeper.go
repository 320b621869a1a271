package refresh

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically deletes expired refresh tokens.
type Sweeper struct {
	log      *zap.Logger
	m        *Manager
	interval time.Duration
}

func NewSweeper(log *zap.Logger, m *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{log: log, m: m, interval: interval}
}

func (s *Sweeper) tick(ctx context.Context) {
	start := time.Now()
	n, err := s.m.SweepExpired(ctx, s.m.cfg.Now())
	if err != nil {
		mSweepErr.Inc()
		s.log.Warn("sweep error", zap.Int64("deleted", n), zap.Error(err))
	} else if n > 0 {
		s.log.Info("expired refresh tokens swept", zap.Int64("deleted", n))
	}
	mSweepDur.Observe(time.Since(start).Seconds())
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}
