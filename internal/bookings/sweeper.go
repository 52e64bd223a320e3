package bookings

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/booking-engine/pkg/logging"
)

const (
	defaultSweepInterval = 5 * time.Minute
	defaultSweepBatch    = 100
)

// DueLister finds confirmed bookings whose end instant is before cutoff.
type DueLister interface {
	ListDueForCompletion(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// Completer completes one booking on behalf of the system.
type Completer interface {
	CompleteElapsed(ctx context.Context, bookingID string) (*Booking, error)
}

// Sweeper completes confirmed bookings once their end time plus a grace
// period has passed. No-shows are only ever marked by the provider.
type Sweeper struct {
	due       DueLister
	completer Completer
	grace     time.Duration
	interval  time.Duration
	batch     int
	now       func() time.Time
	logger    *logging.Logger
}

// NewSweeper creates a completion sweeper.
func NewSweeper(due DueLister, completer Completer, grace time.Duration, logger *logging.Logger) *Sweeper {
	if due == nil || completer == nil {
		panic("bookings: sweeper dependencies required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if grace < 0 {
		grace = 0
	}
	return &Sweeper{
		due:       due,
		completer: completer,
		grace:     grace,
		interval:  defaultSweepInterval,
		batch:     defaultSweepBatch,
		now:       time.Now,
		logger:    logger,
	}
}

// WithInterval overrides the polling interval.
func (s *Sweeper) WithInterval(interval time.Duration) *Sweeper {
	if interval > 0 {
		s.interval = interval
	}
	return s
}

// WithClock injects the time source.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	if now != nil {
		s.now = now
	}
	return s
}

// Start sweeps until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil {
			s.logger.Error("sweeper: sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce completes every due booking in one batch and returns how many
// were completed. A booking another actor already moved is skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.grace)
	ids, err := s.due.ListDueForCompletion(ctx, cutoff, s.batch)
	if err != nil {
		return 0, fmt.Errorf("sweeper: list due: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	s.logger.Info("sweeper: completing elapsed bookings", "count", len(ids))
	completed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}
		if _, err := s.completer.CompleteElapsed(ctx, id); err != nil {
			s.logger.Warn("sweeper: complete failed", "booking_id", id, "error", err)
			continue
		}
		completed++
	}
	return completed, nil
}
