// Package providers loads provider profiles, schedule settings and recurrence
// data for the availability engine.
package providers

import (
	"fmt"
	"time"

	"github.com/wolfman30/booking-engine/internal/availability"
)

// CalendarKind identifies the external calendar a provider has connected.
type CalendarKind string

const (
	CalendarNone      CalendarKind = ""
	CalendarGoogle    CalendarKind = "google"
	CalendarMicrosoft CalendarKind = "microsoft"
)

// ScheduleConfig holds the per-provider booking policy.
type ScheduleConfig struct {
	SlotDurationMinutes        int    `json:"slot_duration_minutes"`
	BufferMinutes              int    `json:"buffer_minutes"`
	MinNoticeHours             int    `json:"min_notice_hours"`
	MaxDaysAhead               int    `json:"max_days_ahead"`
	Timezone                   string `json:"timezone"`
	OnlineBookingEnabled       bool   `json:"online_booking_enabled"`
	GoogleCalendarConnected    bool   `json:"google_calendar_connected"`
	MicrosoftCalendarConnected bool   `json:"microsoft_calendar_connected"`
}

// ConnectedCalendar picks Google when connected, else Microsoft, else none.
func (c ScheduleConfig) ConnectedCalendar() CalendarKind {
	switch {
	case c.GoogleCalendarConnected:
		return CalendarGoogle
	case c.MicrosoftCalendarConnected:
		return CalendarMicrosoft
	default:
		return CalendarNone
	}
}

// Location loads the configured IANA zone. An empty zone means UTC.
func (c ScheduleConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("providers: load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Policy converts the settings into the generator's policy.
func (c ScheduleConfig) Policy() (availability.Policy, error) {
	loc, err := c.Location()
	if err != nil {
		return availability.Policy{}, err
	}
	return availability.Policy{
		DurationMinutes: c.SlotDurationMinutes,
		BufferMinutes:   c.BufferMinutes,
		MinNoticeHours:  c.MinNoticeHours,
		MaxDaysAhead:    c.MaxDaysAhead,
		Location:        loc,
	}, nil
}

// Provider is a bookable provider with its schedule settings resolved.
type Provider struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Email       string         `json:"email"`
	Schedule    ScheduleConfig `json:"schedule"`
}
