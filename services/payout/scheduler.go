package payout

import (
	"context"
	"time"

	"cookshare-payouts/pkg/config"
	"cookshare-payouts/pkg/period"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler triggers the monthly allocation run for the previous calendar
// month once the configured day and hour pass. Allocation is idempotent, so
// an overlapping manual run or a restart mid-month is harmless.
type Scheduler struct {
	allocator *Allocator
	day       int
	hour      int
	cancel    context.CancelFunc
}

func NewScheduler(allocator *Allocator, cfg *config.Config) *Scheduler {
	return &Scheduler{
		allocator: allocator,
		day:       cfg.Payout.AllocationDay,
		hour:      cfg.Payout.AllocationHour,
	}
}

func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			s.cancel = cancel
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			if s.cancel != nil {
				s.cancel()
			}
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started monthly allocation scheduler",
		zap.Int("day_of_month", s.day),
		zap.Int("hour", s.hour),
	)

	for {
		now := time.Now().UTC()
		next := nextRunTime(now, s.day, s.hour)

		sleepDuration := next.Sub(now)
		zap.L().Info("[Scheduler] next allocation run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", sleepDuration),
		)
		select {
		case <-time.After(sleepDuration):
			s.runMonthly(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runMonthly(ctx context.Context) {
	start := time.Now()
	p := period.PreviousMonth(start.UTC())
	zap.L().Info("[Scheduler] running monthly allocation", zap.String("period", p.Label()))

	batch, err := s.allocator.RunAllocation(ctx, p.Start, p.End)
	if err != nil {
		zap.L().Error("[Scheduler] monthly allocation failed",
			zap.String("period", p.Label()),
			zap.Error(err),
		)
		return
	}

	zap.L().Info("[Scheduler] finished monthly allocation",
		zap.String("period", p.Label()),
		zap.Int("payouts", len(batch)),
		zap.Duration("duration", time.Since(start)),
	)
}

// nextRunTime is the next instant the configured day-of-month and hour both
// hold, always in the future relative to now. The day is clamped to the
// month's length so a day-31 schedule still fires in short months instead of
// normalizing past them.
func nextRunTime(now time.Time, day, hour int) time.Time {
	next := runAt(now.Year(), now.Month(), day, hour)
	if !next.After(now) {
		next = runAt(now.Year(), now.Month()+1, day, hour)
	}
	return next
}

func runAt(year int, month time.Month, day, hour int) time.Time {
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	// Day zero of the following month normalizes to this month's last day.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
