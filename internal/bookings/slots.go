package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/booking-engine/internal/apperr"
	"github.com/wolfman30/booking-engine/internal/availability"
	"github.com/wolfman30/booking-engine/internal/observability/metrics"
	"github.com/wolfman30/booking-engine/internal/providers"
	"github.com/wolfman30/booking-engine/pkg/logging"
)

// ProviderLoader resolves a provider and its schedule settings.
type ProviderLoader interface {
	GetProvider(ctx context.Context, providerID string) (*providers.Provider, error)
}

// RangeResolver returns the open ranges for a date.
type RangeResolver interface {
	Resolve(ctx context.Context, providerID string, date availability.Date) ([]availability.Range, error)
}

// BusySource returns busy intervals for a date.
type BusySource interface {
	BusyIntervals(ctx context.Context, p *providers.Provider, date availability.Date) ([]availability.Interval, error)
}

// MonthIndicators summarises a month of recurrence data.
type MonthIndicators interface {
	Month(ctx context.Context, providerID string, year int, month time.Month, p availability.Policy, now time.Time) ([]availability.DayIndicator, error)
}

// SlotListing is the bookable slot set for one provider and date.
type SlotListing struct {
	ProviderID string              `json:"provider_id"`
	Date       availability.Date   `json:"date"`
	TimeZone   string              `json:"timezone"`
	Duration   int                 `json:"slot_duration_minutes"`
	Slots      []availability.Slot `json:"slots"`
}

// SlotService runs window check, range resolution, busy aggregation and
// generation for a provider date.
type SlotService struct {
	providers ProviderLoader
	ranges    RangeResolver
	busy      BusySource
	months    MonthIndicators
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
	now       func() time.Time
}

// NewSlotService wires the listing pipeline. months may be nil when month
// indicators are not served.
func NewSlotService(p ProviderLoader, ranges RangeResolver, busy BusySource, months MonthIndicators, m *metrics.BookingMetrics, logger *logging.Logger) *SlotService {
	if p == nil || ranges == nil || busy == nil {
		panic("bookings: slot service dependencies required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SlotService{
		providers: p,
		ranges:    ranges,
		busy:      busy,
		months:    months,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock injects the time source.
func (s *SlotService) WithClock(now func() time.Time) *SlotService {
	if now != nil {
		s.now = now
	}
	return s
}

// Slots lists the bookable slots for providerID on date.
func (s *SlotService) Slots(ctx context.Context, providerID string, date availability.Date) (*SlotListing, error) {
	listing, _, err := s.compute(ctx, providerID, date)
	s.metrics.ObserveSlotListing(listingResult(err), slotCount(listing))
	return listing, err
}

func (s *SlotService) compute(ctx context.Context, providerID string, date availability.Date) (*SlotListing, *providers.Provider, error) {
	p, err := s.providers.GetProvider(ctx, providerID)
	if err != nil {
		return nil, nil, err
	}
	policy, err := p.Schedule.Policy()
	if err != nil {
		return nil, nil, fmt.Errorf("bookings: provider policy: %w", err)
	}
	now := s.now()
	if err := availability.CheckWindow(date, now, policy); err != nil {
		return nil, p, err
	}

	ranges, err := s.ranges.Resolve(ctx, p.ID, date)
	if err != nil {
		return nil, p, fmt.Errorf("bookings: resolve ranges: %w", err)
	}
	listing := &SlotListing{
		ProviderID: p.ID,
		Date:       date,
		TimeZone:   policy.Location.String(),
		Duration:   policy.DurationMinutes,
		Slots:      []availability.Slot{},
	}
	if len(ranges) == 0 {
		return listing, p, nil
	}

	busy, err := s.busy.BusyIntervals(ctx, p, date)
	if err != nil {
		return nil, p, fmt.Errorf("bookings: busy intervals: %w", err)
	}
	listing.Slots = availability.Generate(ranges, busy, policy, now, date)
	return listing, p, nil
}

// Month returns per-day indicators for a calendar month.
func (s *SlotService) Month(ctx context.Context, providerID string, year int, month time.Month) ([]availability.DayIndicator, error) {
	if s.months == nil {
		return nil, fmt.Errorf("bookings: month indicators not configured")
	}
	if month < time.January || month > time.December {
		return nil, apperr.Validation("month must be between 1 and 12")
	}
	p, err := s.providers.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	policy, err := p.Schedule.Policy()
	if err != nil {
		return nil, fmt.Errorf("bookings: provider policy: %w", err)
	}
	return s.months.Month(ctx, p.ID, year, month, policy, s.now())
}

func listingResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrDateOutOfWindow):
		return "out_of_window"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func slotCount(l *SlotListing) int {
	if l == nil {
		return 0
	}
	return len(l.Slots)
}
