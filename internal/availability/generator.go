package availability

import (
	"fmt"
	"time"

	"github.com/wolfman30/booking-engine/internal/apperr"
)

// Generate steps each open range into fixed-duration candidates separated by
// the buffer, dropping candidates that overlap a busy interval, overlap a slot
// already emitted from an earlier range, or start inside the minimum notice
// window on the current day. The output depends only on the arguments.
func Generate(ranges []Range, busy []Interval, p Policy, now time.Time, date Date) []Slot {
	slots := []Slot{}
	duration := p.DurationMinutes
	if duration <= 0 {
		return slots
	}
	buffer := p.BufferMinutes
	if buffer < 0 {
		buffer = 0
	}
	step := duration + buffer

	loc := p.location()
	isToday := date == DateOf(now, loc)
	noticeCutoff := now.Add(time.Duration(p.MinNoticeHours) * time.Hour)

	var emitted []Interval
	for _, rg := range ranges {
		rangeStart, rangeEnd := rg.Start.Minutes(), rg.End.Minutes()
		if rangeStart < 0 || rangeEnd < 0 {
			continue
		}
		for cursor := rangeStart; cursor+duration <= rangeEnd; cursor += step {
			start, end := cursor, cursor+duration
			if overlapsAny(start, end, busy) || overlapsAny(start, end, emitted) {
				continue
			}
			candidate := Slot{Start: ClockFromMinutes(start), End: ClockFromMinutes(end)}
			if isToday && date.At(candidate.Start, loc).Before(noticeCutoff) {
				continue
			}
			slots = append(slots, candidate)
			emitted = append(emitted, Interval(candidate))
		}
	}
	return slots
}

// CheckWindow rejects dates before today or after today + MaxDaysAhead in the
// provider's time zone.
func CheckWindow(date Date, now time.Time, p Policy) error {
	today := p.Today(now)
	horizon := today.AddDays(maxInt(p.MaxDaysAhead, 0))
	if date.Before(today) {
		return fmt.Errorf("%w: %s is before %s", apperr.ErrDateOutOfWindow, date, today)
	}
	if date.After(horizon) {
		return fmt.Errorf("%w: %s is after %s", apperr.ErrDateOutOfWindow, date, horizon)
	}
	return nil
}

// Contains reports whether slots holds exactly start-end.
func Contains(slots []Slot, start, end Clock) bool {
	for _, s := range slots {
		if s.Start == start && s.End == end {
			return true
		}
	}
	return false
}

func overlapsAny(start, end int, intervals []Interval) bool {
	for _, iv := range intervals {
		if iv.Overlaps(start, end) {
			return true
		}
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
