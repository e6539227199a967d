package ledger

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically starts new freemium windows for users whose window
// expired. It only keeps stored counters fresh for reporting; Resolve resets
// lazily regardless.
type Sweeper struct {
	store    FreemiumSweeper
	period   time.Duration
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger
}

func NewSweeper(store FreemiumSweeper, period, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:    store,
		period:   period,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// SweepOnce resets every counter whose window began at least one period ago.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	now := s.now()
	return s.store.ResetStaleFreemium(ctx, now.Add(-s.period), now)
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				s.log.Error("freemium sweep failed", "err", err)
				continue
			}
			if n > 0 {
				s.log.Info("freemium counters reset", "users", n)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
