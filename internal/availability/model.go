// Package availability turns a provider's weekly hours and date overrides into
// open ranges, and steps those ranges into bookable slots.
package availability

import (
	"time"
)

// Range is a continuous open window on one date.
type Range struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

// Interval is a busy window on one date, from a booking or an external calendar.
type Interval struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

// Overlaps applies the half-open test start < other.end && end > other.start.
func (i Interval) Overlaps(start, end int) bool {
	return start < i.End.Minutes() && end > i.Start.Minutes()
}

// Slot is a discrete bookable interval on a date.
type Slot struct {
	Start Clock `json:"start"`
	End   Clock `json:"end"`
}

// WeeklyRule is a recurring open range for one day of the week.
type WeeklyRule struct {
	ID         string       `json:"id"`
	ProviderID string       `json:"provider_id"`
	DayOfWeek  time.Weekday `json:"day_of_week"`
	Start      Clock        `json:"start_time"`
	End        Clock        `json:"end_time"`
	Active     bool         `json:"is_active"`
	Position   int          `json:"position"`
}

// DateOverride replaces the weekly rules for a single date.
type DateOverride struct {
	ID          string `json:"id"`
	ProviderID  string `json:"provider_id"`
	Date        Date   `json:"date"`
	IsAvailable bool   `json:"is_available"`
	Start       *Clock `json:"start_time,omitempty"`
	End         *Clock `json:"end_time,omitempty"`
}

// HasExplicitTimes reports whether both bounds are set.
func (o DateOverride) HasExplicitTimes() bool {
	return o.Start != nil && o.End != nil
}

// Policy carries the provider settings the slot generator needs.
type Policy struct {
	DurationMinutes int
	BufferMinutes   int
	MinNoticeHours  int
	MaxDaysAhead    int
	Location        *time.Location
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// Today returns the current date in the provider's time zone.
func (p Policy) Today(now time.Time) Date {
	return DateOf(now, p.location())
}
