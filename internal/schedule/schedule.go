package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/defenseunicorns/perfkit-hub/pkg/types"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler runs a job on wall-clock slots: every Interval from midnight plus Offset, in local
// time, restarting at every midnight. Jobs never overlap; slots that pass while a job is running
// are skipped.
type Scheduler struct {
	logger   types.Logger
	now      func() time.Time
	interval time.Duration
	offset   time.Duration
}

// New creates a Scheduler.
func New(interval, offset time.Duration, logger types.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", interval)
	}
	if offset < 0 || offset >= 24*time.Hour {
		return nil, fmt.Errorf("offset must be within a day, got %s", offset)
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Scheduler{interval: interval, offset: offset, logger: logger, now: time.Now}, nil
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Next returns the first slot strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	base := dayStart(t).Add(s.offset)
	if base.After(t) {
		base = dayStart(t.AddDate(0, 0, -1)).Add(s.offset)
	}
	nextBase := dayStart(base.AddDate(0, 0, 1)).Add(s.offset)

	k := t.Sub(base)/s.interval + 1
	next := base.Add(k * s.interval)
	if next.After(nextBase) {
		return nextBase
	}
	return next
}

// Run runs job at every slot until ctx is canceled. A failing job is logged and the next slot
// runs as usual. Run returns nil once ctx is canceled.
func (s *Scheduler) Run(ctx context.Context, job Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}
	next := s.Next(s.now())
	s.logger.Info("Scheduler started",
		zap.Duration("interval", s.interval),
		zap.Time("next", next))

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-timer.C:
		}

		slot := next
		start := s.now()
		if err := job(ctx); err != nil {
			s.logger.Error("Scheduled job failed", zap.Time("slot", slot), zap.Error(err))
		}
		end := s.now()

		next = s.Next(end)
		if skipped := s.skipped(slot, next); skipped > 0 {
			s.logger.Warn("Job overran its slot, skipping",
				zap.Time("slot", slot),
				zap.Duration("took", end.Sub(start)),
				zap.Int("skipped", skipped))
		}
		timer.Reset(time.Until(next))
	}
}

// skipped counts the slots strictly between slot and next.
func (s *Scheduler) skipped(slot, next time.Time) int {
	n := 0
	for t := s.Next(slot); t.Before(next); t = s.Next(t) {
		n++
	}
	return n
}
