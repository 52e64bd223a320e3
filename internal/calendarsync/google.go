package calendarsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/wolfman30/booking-engine/internal/providers"
	"github.com/wolfman30/booking-engine/pkg/logging"
)

const defaultCalendarID = "primary"

// Google talks to Google Calendar on behalf of a provider.
type Google struct {
	creds    CredentialSource
	endpoint string
	logger   *logging.Logger
}

// NewGoogle creates the integration. An empty endpoint uses Google's default.
func NewGoogle(creds CredentialSource, endpoint string, logger *logging.Logger) *Google {
	if creds == nil {
		panic("calendarsync: credential source required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Google{creds: creds, endpoint: strings.TrimSpace(endpoint), logger: logger}
}

func (g *Google) service(ctx context.Context, providerID string) (*calendar.Service, string, error) {
	creds, err := g.creds.Get(ctx, providers.CalendarGoogle, providerID)
	if err != nil {
		return nil, "", err
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken, TokenType: "Bearer"})
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, src))}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("calendarsync: google client: %w", err)
	}
	calendarID := creds.CalendarID
	if calendarID == "" {
		calendarID = defaultCalendarID
	}
	return svc, calendarID, nil
}

// FreeBusy queries the provider's calendar for busy periods.
func (g *Google) FreeBusy(ctx context.Context, providerID string, start, end time.Time) ([]Busy, error) {
	svc, calendarID, err := g.service(ctx, providerID)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin:  start.UTC().Format(time.RFC3339),
		TimeMax:  end.UTC().Format(time.RFC3339),
		TimeZone: "UTC",
		Items:    []*calendar.FreeBusyRequestItem{{Id: calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		if isUnauthorized(err) {
			return nil, fmt.Errorf("%w: google freebusy: %v", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("calendarsync: google freebusy: %w", err)
	}

	cal, ok := resp.Calendars[calendarID]
	if !ok {
		return nil, nil
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("calendarsync: google freebusy: %s", cal.Errors[0].Reason)
	}
	busy := make([]Busy, 0, len(cal.Busy))
	for _, period := range cal.Busy {
		s, err := time.Parse(time.RFC3339, period.Start)
		if err != nil {
			return nil, fmt.Errorf("calendarsync: google busy start %q: %w", period.Start, err)
		}
		e, err := time.Parse(time.RFC3339, period.End)
		if err != nil {
			return nil, fmt.Errorf("calendarsync: google busy end %q: %w", period.End, err)
		}
		busy = append(busy, Busy{Start: s, End: e})
	}
	return busy, nil
}

// CreateEvent inserts an event and returns its id.
func (g *Google) CreateEvent(ctx context.Context, providerID string, req EventRequest) EventResult {
	svc, calendarID, err := g.service(ctx, providerID)
	if err != nil {
		return EventResult{Error: err.Error()}
	}
	event := &calendar.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Start:       &calendar.EventDateTime{DateTime: req.Start.Format(time.RFC3339), TimeZone: req.TimeZone},
		End:         &calendar.EventDateTime{DateTime: req.End.Format(time.RFC3339), TimeZone: req.TimeZone},
	}
	if req.AttendeeEmail != "" {
		event.Attendees = []*calendar.EventAttendee{{Email: req.AttendeeEmail, DisplayName: req.AttendeeName}}
	}
	created, err := svc.Events.Insert(calendarID, event).Context(ctx).Do()
	if err != nil {
		unauthorized := isUnauthorized(err)
		if unauthorized {
			g.logger.Warn("google calendar rejected credentials", "provider_id", providerID)
		}
		return EventResult{Error: fmt.Sprintf("google insert event: %v", err), Unauthorized: unauthorized}
	}
	return EventResult{Success: true, EventID: created.Id}
}

func isUnauthorized(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized
}
