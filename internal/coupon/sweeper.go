package coupon

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Sweeper periodically flips active coupons whose expiry has passed to the
// expired state. The sweep is an optimization for listings and reporting:
// validation always evaluates expiry live, so a lagging sweep never lets an
// expired coupon through.
type Sweeper struct {
	repo     Repository
	interval time.Duration
	now      func() time.Time
}

// NewSweeper creates a sweeper that runs at the given interval.
func NewSweeper(repo Repository, interval time.Duration) *Sweeper {
	return &Sweeper{
		repo:     repo,
		interval: interval,
		now:      time.Now,
	}
}

// Run executes the sweep loop until the context is cancelled. An initial
// sweep runs immediately so restarts don't leave a backlog for a full
// interval. Failures are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	lg := zctx.From(ctx).Named("sweeper")

	s.sweep(ctx, lg)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx, lg)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, lg *zap.Logger) {
	n, err := s.repo.MarkExpired(ctx, s.now())
	if err != nil {
		lg.Error("Expiry sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		lg.Info("Expired coupons swept", zap.Int64("count", n))
	}
}
