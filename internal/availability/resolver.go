package availability

import (
	"context"
	"fmt"
	"time"
)

// ScheduleSource loads the recurrence data a resolver needs.
type ScheduleSource interface {
	// OverrideForDate returns the override for the exact date, or nil when none exists.
	OverrideForDate(ctx context.Context, providerID string, date Date) (*DateOverride, error)
	// WeeklyRules returns the provider's rules for a weekday in stored order.
	WeeklyRules(ctx context.Context, providerID string, weekday time.Weekday) ([]WeeklyRule, error)
}

// Resolver computes the open ranges for one provider and date.
type Resolver struct {
	source ScheduleSource
}

// NewResolver creates a resolver over source.
func NewResolver(source ScheduleSource) *Resolver {
	if source == nil {
		panic("availability: schedule source required")
	}
	return &Resolver{source: source}
}

// Resolve returns the open ranges for date. An override for the date wins over
// the weekly rules; ranges are neither merged nor sorted.
func (r *Resolver) Resolve(ctx context.Context, providerID string, date Date) ([]Range, error) {
	override, err := r.source.OverrideForDate(ctx, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("availability: load override: %w", err)
	}
	if override != nil && (!override.IsAvailable || override.HasExplicitTimes()) {
		return ResolveRanges(override, nil), nil
	}

	rules, err := r.source.WeeklyRules(ctx, providerID, date.Weekday())
	if err != nil {
		return nil, fmt.Errorf("availability: load weekly rules: %w", err)
	}
	return ResolveRanges(override, filterWeekday(rules, date.Weekday())), nil
}

// ResolveRanges applies the override precedence to already loaded data.
// rules must belong to the date's weekday.
func ResolveRanges(override *DateOverride, rules []WeeklyRule) []Range {
	if override != nil {
		if !override.IsAvailable {
			return []Range{}
		}
		if override.HasExplicitTimes() {
			return []Range{{Start: *override.Start, End: *override.End}}
		}
		// Available without times falls through to the weekly rules.
	}

	ranges := make([]Range, 0, len(rules))
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		ranges = append(ranges, Range{Start: rule.Start, End: rule.End})
	}
	return ranges
}

func filterWeekday(rules []WeeklyRule, weekday time.Weekday) []WeeklyRule {
	out := rules[:0:0]
	for _, rule := range rules {
		if rule.DayOfWeek == weekday {
			out = append(out, rule)
		}
	}
	return out
}
