package availability

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// Clock is a zero-padded "HH:MM" time of day. Values are always normalised so
// that lexicographic and chronological order agree; "24:00" is the end of day.
type Clock string

// ParseClock accepts "HH:MM" or "HH:MM:SS" and returns the normalised "HH:MM".
// Seconds are dropped.
func ParseClock(raw string) (Clock, error) {
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return "", fmt.Errorf("invalid time of day %q", raw)
	}
	for _, p := range parts {
		if len(p) != 2 {
			return "", fmt.Errorf("invalid time of day %q: expected zero-padded fields", raw)
		}
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return "", fmt.Errorf("invalid hour in %q", raw)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", fmt.Errorf("invalid minute in %q", raw)
	}
	if len(parts) == 3 {
		if s, err := strconv.Atoi(parts[2]); err != nil || s < 0 || s > 59 {
			return "", fmt.Errorf("invalid second in %q", raw)
		}
	}
	if m < 0 || m > 59 || h < 0 || h > 24 || (h == 24 && m != 0) {
		return "", fmt.Errorf("time of day %q out of range", raw)
	}
	return ClockFromMinutes(h*60 + m), nil
}

// MustClock is ParseClock for literals; it panics on malformed input.
func MustClock(raw string) Clock {
	c, err := ParseClock(raw)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockFromMinutes formats minutes since midnight, clamped to [0, 24:00].
func ClockFromMinutes(minutes int) Clock {
	if minutes < 0 {
		minutes = 0
	}
	if minutes > minutesPerDay {
		minutes = minutesPerDay
	}
	return Clock(fmt.Sprintf("%02d:%02d", minutes/60, minutes%60))
}

// ClockOf returns the wall-clock time of t.
func ClockOf(t time.Time) Clock {
	return ClockFromMinutes(t.Hour()*60 + t.Minute())
}

// Minutes returns minutes since midnight. Malformed values report -1.
func (c Clock) Minutes() int {
	s := string(c)
	if len(s) < 5 || s[2] != ':' {
		return -1
	}
	h, err := strconv.Atoi(s[:2])
	if err != nil {
		return -1
	}
	m, err := strconv.Atoi(s[3:5])
	if err != nil {
		return -1
	}
	return h*60 + m
}

// Valid reports whether c is a normalised time of day.
func (c Clock) Valid() bool {
	n := c.Minutes()
	return n >= 0 && n <= minutesPerDay && len(c) == 5
}

func (c Clock) String() string { return string(c) }

// Date is a calendar date without time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseDate parses "YYYY-MM-DD".
func ParseDate(raw string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(raw))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", raw)
	}
	return DateOf(t, time.UTC), nil
}

// DateOf returns the calendar date of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

// At returns the instant at clock c on date d in loc. "24:00" maps to the
// following midnight.
func (d Date) At(c Clock, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	minutes := c.Minutes()
	if minutes < 0 {
		minutes = 0
	}
	return time.Date(d.Year, d.Month, d.Day, 0, minutes, 0, 0, loc)
}

// Midnight returns the start of d in loc.
func (d Date) Midnight(loc *time.Location) time.Time {
	return d.At("00:00", loc)
}

// AddDays returns the date n days after d.
func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC), time.UTC)
}

// Weekday returns the day of week (Sunday = 0).
func (d Date) Weekday() time.Weekday {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC).Weekday()
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool { return d.compare(other) < 0 }

// After reports whether d is strictly later than other.
func (d Date) After(other Date) bool { return d.compare(other) > 0 }

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d == Date{} }

// Time returns d as midnight UTC, the representation used for SQL date columns.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) compare(other Date) int {
	switch {
	case d.Year != other.Year:
		return d.Year - other.Year
	case d.Month != other.Month:
		return int(d.Month) - int(other.Month)
	default:
		return d.Day - other.Day
	}
}
