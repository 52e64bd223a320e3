package availability

import (
	"context"
	"fmt"
	"time"
)

// MonthSource loads a whole month of recurrence data in two queries.
type MonthSource interface {
	OverridesBetween(ctx context.Context, providerID string, from, to Date) ([]DateOverride, error)
	AllWeeklyRules(ctx context.Context, providerID string) ([]WeeklyRule, error)
}

// DayIndicator summarises one date for month-level calendars.
type DayIndicator struct {
	Date         Date `json:"date"`
	HasOpenRange bool `json:"has_open_range"`
	InWindow     bool `json:"in_window"`
}

// MonthResolver produces per-day availability indicators for a calendar month.
// It only considers recurrence data; bookings and external busy time are
// resolved per date when slots are listed.
type MonthResolver struct {
	source MonthSource
}

// NewMonthResolver creates a month resolver over source.
func NewMonthResolver(source MonthSource) *MonthResolver {
	if source == nil {
		panic("availability: month source required")
	}
	return &MonthResolver{source: source}
}

// MonthBounds returns the first and the actual last day of the month.
func MonthBounds(year int, month time.Month) (Date, Date) {
	first := Date{Year: year, Month: month, Day: 1}
	last := DateOf(time.Date(year, month+1, 0, 12, 0, 0, 0, time.UTC), time.UTC)
	return first, last
}

// Month returns one indicator per day of the month.
func (m *MonthResolver) Month(ctx context.Context, providerID string, year int, month time.Month, p Policy, now time.Time) ([]DayIndicator, error) {
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("availability: invalid month %d", month)
	}
	first, last := MonthBounds(year, month)

	overrides, err := m.source.OverridesBetween(ctx, providerID, first, last)
	if err != nil {
		return nil, fmt.Errorf("availability: load month overrides: %w", err)
	}
	rules, err := m.source.AllWeeklyRules(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("availability: load weekly rules: %w", err)
	}

	byDate := make(map[Date]*DateOverride, len(overrides))
	for i := range overrides {
		byDate[overrides[i].Date] = &overrides[i]
	}
	byWeekday := make(map[time.Weekday][]WeeklyRule, 7)
	for _, rule := range rules {
		byWeekday[rule.DayOfWeek] = append(byWeekday[rule.DayOfWeek], rule)
	}

	days := make([]DayIndicator, 0, last.Day)
	for d := first; !d.After(last); d = d.AddDays(1) {
		ranges := ResolveRanges(byDate[d], byWeekday[d.Weekday()])
		days = append(days, DayIndicator{
			Date:         d,
			HasOpenRange: hasUsableRange(ranges),
			InWindow:     CheckWindow(d, now, p) == nil,
		})
	}
	return days, nil
}

func hasUsableRange(ranges []Range) bool {
	for _, rg := range ranges {
		if rg.End.Minutes() > rg.Start.Minutes() {
			return true
		}
	}
	return false
}
