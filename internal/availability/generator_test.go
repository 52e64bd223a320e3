package availability

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/booking-engine/internal/apperr"
)

func slotsOf(pairs ...string) []Slot {
	out := make([]Slot, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, Slot{Start: MustClock(pairs[i]), End: MustClock(pairs[i+1])})
	}
	return out
}

// A date well in the future so the notice window never applies.
var future = Date{Year: 2026, Month: time.November, Day: 2}

var fixedNow = time.Date(2026, time.October, 17, 14, 0, 0, 0, time.UTC)

func TestGenerateStepsByDurationPlusBuffer(t *testing.T) {
	policy := Policy{DurationMinutes: 30, BufferMinutes: 15, Location: time.UTC}
	got := Generate([]Range{{Start: "09:00", End: "12:00"}}, nil, policy, fixedNow, future)

	assert.Equal(t, slotsOf(
		"09:00", "09:30",
		"09:45", "10:15",
		"10:30", "11:00",
		"11:15", "11:45",
	), got)
}

func TestGenerateSkipsBusyIntervals(t *testing.T) {
	policy := Policy{DurationMinutes: 30, BufferMinutes: 15, Location: time.UTC}
	busy := []Interval{{Start: "10:00", End: "10:30"}}
	got := Generate([]Range{{Start: "09:00", End: "12:00"}}, busy, policy, fixedNow, future)

	assert.Equal(t, slotsOf(
		"09:00", "09:30",
		"10:30", "11:00",
		"11:15", "11:45",
	), got)
}

func TestGenerateTouchingIntervalsDoNotOverlap(t *testing.T) {
	policy := Policy{DurationMinutes: 60, Location: time.UTC}
	busy := []Interval{{Start: "08:00", End: "09:00"}, {Start: "10:00", End: "11:00"}}
	got := Generate([]Range{{Start: "09:00", End: "11:00"}}, busy, policy, fixedNow, future)

	assert.Equal(t, slotsOf("09:00", "10:00"), got)
}

func TestGenerateNoSlotPastRangeEnd(t *testing.T) {
	policy := Policy{DurationMinutes: 45, Location: time.UTC}
	got := Generate([]Range{{Start: "09:00", End: "10:00"}}, nil, policy, fixedNow, future)
	assert.Equal(t, slotsOf("09:00", "09:45"), got)

	got = Generate([]Range{{Start: "09:00", End: "09:30"}}, nil, policy, fixedNow, future)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestGenerateEndOfDayRange(t *testing.T) {
	policy := Policy{DurationMinutes: 60, Location: time.UTC}
	got := Generate([]Range{{Start: "22:00", End: "24:00"}}, nil, policy, fixedNow, future)
	assert.Equal(t, slotsOf("22:00", "23:00", "23:00", "24:00"), got)
}

func TestGenerateOverlappingRangesNeverOverlap(t *testing.T) {
	policy := Policy{DurationMinutes: 30, BufferMinutes: 0, Location: time.UTC}
	ranges := []Range{{Start: "09:00", End: "11:00"}, {Start: "09:45", End: "12:00"}}
	got := Generate(ranges, nil, policy, fixedNow, future)

	for i := range got {
		for j := i + 1; j < len(got); j++ {
			a, b := got[i], got[j]
			overlap := a.Start.Minutes() < b.End.Minutes() && a.End.Minutes() > b.Start.Minutes()
			assert.Falsef(t, overlap, "%v overlaps %v", a, b)
		}
	}
	// 09:45 conflicts with 09:30-10:00 from the first range, 11:15 onward is new.
	assert.True(t, Contains(got, "11:15", "11:45"))
	assert.False(t, Contains(got, "09:45", "10:15"))
}

func TestGenerateLaterRangeYieldsToEarlierSlots(t *testing.T) {
	policy := Policy{DurationMinutes: 60, Location: time.UTC}
	ranges := []Range{{Start: "09:00", End: "10:00"}, {Start: "09:30", End: "10:30"}}

	got := Generate(ranges, nil, policy, fixedNow, future)
	assert.Equal(t, slotsOf("09:00", "10:00"), got)

	// swapping the ranges keeps whichever range comes first
	got = Generate([]Range{ranges[1], ranges[0]}, nil, policy, fixedNow, future)
	assert.Equal(t, slotsOf("09:30", "10:30"), got)
}

func TestGenerateIsDeterministic(t *testing.T) {
	policy := Policy{DurationMinutes: 20, BufferMinutes: 5, Location: time.UTC}
	ranges := []Range{{Start: "13:00", End: "17:00"}, {Start: "08:00", End: "12:00"}}
	busy := []Interval{{Start: "09:10", End: "09:50"}, {Start: "15:00", End: "15:20"}}

	first := Generate(ranges, busy, policy, fixedNow, future)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Generate(ranges, busy, policy, fixedNow, future))
	}
	// range order is preserved, not sorted
	require.NotEmpty(t, first)
	assert.Equal(t, Clock("13:00"), first[0].Start)
}

func TestGenerateAppliesNoticeOnlyToday(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 10:10 in New York on 2026-10-17
	now := time.Date(2026, time.October, 17, 14, 10, 0, 0, time.UTC)
	today := Date{Year: 2026, Month: time.October, Day: 17}
	policy := Policy{DurationMinutes: 60, MinNoticeHours: 2, Location: ny}
	ranges := []Range{{Start: "09:00", End: "17:00"}}

	got := Generate(ranges, nil, policy, now, today)
	assert.Equal(t, slotsOf(
		"13:00", "14:00",
		"14:00", "15:00",
		"15:00", "16:00",
		"16:00", "17:00",
	), got)

	tomorrow := Generate(ranges, nil, policy, now, today.AddDays(1))
	assert.Len(t, tomorrow, 8)
}

func TestGenerateZeroDuration(t *testing.T) {
	got := Generate([]Range{{Start: "09:00", End: "12:00"}}, nil, Policy{}, fixedNow, future)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCheckWindow(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 22:00 on 2026-10-16 in New York
	now := time.Date(2026, time.October, 17, 2, 0, 0, 0, time.UTC)
	policy := Policy{MaxDaysAhead: 30, Location: ny}
	today := Date{Year: 2026, Month: time.October, Day: 16}

	assert.NoError(t, CheckWindow(today, now, policy))
	assert.NoError(t, CheckWindow(today.AddDays(30), now, policy))

	err = CheckWindow(today.AddDays(31), now, policy)
	assert.True(t, errors.Is(err, apperr.ErrDateOutOfWindow))

	err = CheckWindow(today.AddDays(-1), now, policy)
	assert.True(t, errors.Is(err, apperr.ErrDateOutOfWindow))
}
