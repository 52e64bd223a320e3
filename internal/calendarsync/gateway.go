// Package calendarsync reads busy time from and writes events to a
// provider's connected external calendar.
package calendarsync

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/booking-engine/internal/observability/metrics"
	"github.com/wolfman30/booking-engine/internal/providers"
	"github.com/wolfman30/booking-engine/pkg/logging"
)

// Busy is an externally observed busy period in absolute time.
type Busy struct {
	Start time.Time
	End   time.Time
}

// EventRequest describes a calendar event for a confirmed booking.
type EventRequest struct {
	Summary       string
	Description   string
	Start         time.Time
	End           time.Time
	TimeZone      string
	AttendeeEmail string
	AttendeeName  string
}

// EventResult reports the outcome of an event write. Error is set when
// Success is false; Unauthorized when the calendar rejected the grant.
type EventResult struct {
	Success      bool
	EventID      string
	Error        string
	Unauthorized bool
}

// Provider is one external calendar integration.
type Provider interface {
	FreeBusy(ctx context.Context, providerID string, start, end time.Time) ([]Busy, error)
	CreateEvent(ctx context.Context, providerID string, req EventRequest) EventResult
}

// Gateway routes calls to the calendar a provider has connected and turns
// failures into empty results.
type Gateway struct {
	calendars map[providers.CalendarKind]Provider
	revoker   Revoker
	logger    *logging.Logger
	metrics   *metrics.BookingMetrics
}

// Revoker disconnects a calendar whose credentials were rejected.
type Revoker interface {
	Disconnect(ctx context.Context, kind providers.CalendarKind, providerID string) error
}

// NewGateway builds a gateway. Either integration may be nil when not configured.
func NewGateway(google, microsoft Provider, logger *logging.Logger, m *metrics.BookingMetrics) *Gateway {
	if logger == nil {
		logger = logging.Default()
	}
	calendars := make(map[providers.CalendarKind]Provider, 2)
	if google != nil {
		calendars[providers.CalendarGoogle] = google
	}
	if microsoft != nil {
		calendars[providers.CalendarMicrosoft] = microsoft
	}
	return &Gateway{calendars: calendars, logger: logger, metrics: m}
}

// WithRevoker disconnects calendars that answer with rejected credentials.
func (g *Gateway) WithRevoker(r Revoker) *Gateway {
	g.revoker = r
	return g
}

// FreeBusy returns the busy periods between start and end. Any failure
// yields nil so availability is computed without external data.
func (g *Gateway) FreeBusy(ctx context.Context, kind providers.CalendarKind, providerID string, start, end time.Time) []Busy {
	cal, ok := g.lookup(kind)
	if !ok {
		return nil
	}
	began := time.Now()
	busy, err := cal.FreeBusy(ctx, providerID, start, end)
	g.metrics.ObserveCalendarLatency(string(kind), "freebusy", time.Since(began).Seconds())
	if err != nil {
		g.metrics.ObserveDegraded("calendar_freebusy")
		g.logger.Warn("calendar free/busy failed, continuing without external busy time",
			"calendar", kind, "provider_id", providerID, "error", err)
		if errors.Is(err, ErrUnauthorized) {
			g.revoke(ctx, kind, providerID)
		}
		return nil
	}
	return busy
}

// CreateEvent writes the event to the connected calendar.
func (g *Gateway) CreateEvent(ctx context.Context, kind providers.CalendarKind, providerID string, req EventRequest) EventResult {
	cal, ok := g.lookup(kind)
	if !ok {
		return EventResult{Error: "no calendar connected"}
	}
	began := time.Now()
	res := cal.CreateEvent(ctx, providerID, req)
	g.metrics.ObserveCalendarLatency(string(kind), "create_event", time.Since(began).Seconds())
	if !res.Success {
		g.metrics.ObserveDegraded("calendar_create_event")
		g.logger.Warn("calendar event creation failed",
			"calendar", kind, "provider_id", providerID, "error", res.Error)
		if res.Unauthorized {
			g.revoke(ctx, kind, providerID)
		}
	}
	return res
}

func (g *Gateway) revoke(ctx context.Context, kind providers.CalendarKind, providerID string) {
	if g.revoker == nil {
		return
	}
	if err := g.revoker.Disconnect(context.WithoutCancel(ctx), kind, providerID); err != nil {
		g.logger.Error("calendar disconnect failed", "calendar", kind, "provider_id", providerID, "error", err)
	}
}

func (g *Gateway) lookup(kind providers.CalendarKind) (Provider, bool) {
	if g == nil || kind == providers.CalendarNone {
		return nil, false
	}
	cal, ok := g.calendars[kind]
	return cal, ok
}
