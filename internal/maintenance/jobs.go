package maintenance

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Purger removes records that expired more than retention ago.
type Purger interface {
	PurgeExpired(ctx context.Context, retention time.Duration) int
}

// PurgeExpiredJob drops expired records and their analytics once they are
// older than retention.
func PurgeExpiredJob(schedule string, p Purger, retention time.Duration, log *zap.Logger) Job {
	return Job{
		Name:       "purge-expired",
		Schedule:   schedule,
		RunOnStart: true,
		Run: func(ctx context.Context) {
			if n := p.PurgeExpired(ctx, retention); n > 0 {
				log.Info("purged expired urls",
					zap.Int("removed", n),
					zap.Duration("retention", retention),
				)
			}
		},
	}
}

// Sweeper forgets idle per-client state.
type Sweeper interface {
	Sweep() int
}

// SweepJob periodically drops idle rate-limiter buckets.
func SweepJob(schedule string, s Sweeper, log *zap.Logger) Job {
	return Job{
		Name:     "sweep-rate-limiters",
		Schedule: schedule,
		Run: func(context.Context) {
			if n := s.Sweep(); n > 0 {
				log.Debug("swept idle rate limiters", zap.Int("removed", n))
			}
		},
	}
}
