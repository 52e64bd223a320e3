// Package busytime collects the intervals on a date during which a provider
// cannot take a new booking.
package busytime

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/booking-engine/internal/availability"
	"github.com/wolfman30/booking-engine/internal/calendarsync"
	"github.com/wolfman30/booking-engine/internal/observability/metrics"
	"github.com/wolfman30/booking-engine/internal/providers"
	"github.com/wolfman30/booking-engine/pkg/logging"
)

// DefaultCalendarTimeout bounds the external free/busy lookup.
const DefaultCalendarTimeout = 3 * time.Second

// BookingSource projects a provider's active bookings on a date.
type BookingSource interface {
	// BusyForDate returns pending and confirmed bookings as time-of-day intervals.
	BusyForDate(ctx context.Context, providerID string, date availability.Date) ([]availability.Interval, error)
}

// CalendarSource reads external busy time. Implementations return nil on failure.
type CalendarSource interface {
	FreeBusy(ctx context.Context, kind providers.CalendarKind, providerID string, start, end time.Time) []calendarsync.Busy
}

// Aggregator merges booking and external calendar busy time.
type Aggregator struct {
	bookings BookingSource
	calendar CalendarSource
	timeout  time.Duration
	logger   *logging.Logger
	metrics  *metrics.BookingMetrics
}

// NewAggregator creates an aggregator. calendar may be nil.
func NewAggregator(bookings BookingSource, calendar CalendarSource, logger *logging.Logger, m *metrics.BookingMetrics) *Aggregator {
	if bookings == nil {
		panic("busytime: booking source required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Aggregator{
		bookings: bookings,
		calendar: calendar,
		timeout:  DefaultCalendarTimeout,
		logger:   logger,
		metrics:  m,
	}
}

// WithCalendarTimeout overrides the free/busy bound.
func (a *Aggregator) WithCalendarTimeout(timeout time.Duration) *Aggregator {
	if timeout > 0 {
		a.timeout = timeout
	}
	return a
}

// BusyIntervals returns booking intervals followed by external intervals.
// External data is dropped on failure or timeout; booking lookup errors are returned.
func (a *Aggregator) BusyIntervals(ctx context.Context, p *providers.Provider, date availability.Date) ([]availability.Interval, error) {
	busy, err := a.bookings.BusyForDate(ctx, p.ID, date)
	if err != nil {
		return nil, fmt.Errorf("busytime: load bookings: %w", err)
	}
	out := make([]availability.Interval, 0, len(busy))
	out = append(out, busy...)

	kind := p.Schedule.ConnectedCalendar()
	if a.calendar == nil || kind == providers.CalendarNone {
		return out, nil
	}
	loc, err := p.Schedule.Location()
	if err != nil {
		return nil, err
	}
	return append(out, a.external(ctx, kind, p.ID, date, loc)...), nil
}

func (a *Aggregator) external(ctx context.Context, kind providers.CalendarKind, providerID string, date availability.Date, loc *time.Location) []availability.Interval {
	dayStart := date.Midnight(loc)
	dayEnd := date.AddDays(1).Midnight(loc)

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	result := make(chan []calendarsync.Busy, 1)
	go func() {
		result <- a.calendar.FreeBusy(cctx, kind, providerID, dayStart.UTC(), dayEnd.UTC())
	}()

	select {
	case busy := <-result:
		return ToLocal(busy, date, loc)
	case <-cctx.Done():
		a.metrics.ObserveDegraded("calendar_timeout")
		a.logger.Warn("calendar free/busy timed out, continuing without external busy time",
			"calendar", kind, "provider_id", providerID, "timeout", a.timeout.String())
		return nil
	}
}

// ToLocal converts absolute busy periods into time-of-day intervals on date
// in loc, clamped to the day. Periods that miss the day are dropped.
func ToLocal(busy []calendarsync.Busy, date availability.Date, loc *time.Location) []availability.Interval {
	dayStart := date.Midnight(loc)
	dayEnd := date.AddDays(1).Midnight(loc)

	out := make([]availability.Interval, 0, len(busy))
	for _, b := range busy {
		start, end := b.Start, b.End
		if start.Before(dayStart) {
			start = dayStart
		}
		if end.After(dayEnd) {
			end = dayEnd
		}
		if !end.After(start) {
			continue
		}
		iv := availability.Interval{Start: availability.ClockOf(start.In(loc))}
		if end.Equal(dayEnd) {
			iv.End = availability.ClockFromMinutes(24 * 60)
		} else {
			local := end.In(loc)
			iv.End = availability.ClockOf(local)
			// a busy period ending mid-minute still blocks that minute
			if local.Second() != 0 || local.Nanosecond() != 0 {
				iv.End = availability.ClockFromMinutes(iv.End.Minutes() + 1)
			}
		}
		out = append(out, iv)
	}
	return out
}
