package calendarsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/booking-engine/internal/providers"
	"github.com/wolfman30/booking-engine/pkg/logging"
)

const (
	defaultGraphBaseURL = "https://graph.microsoft.com/v1.0"
	defaultGraphTimeout = 15 * time.Second
	graphDateTimeLayout = "2006-01-02T15:04:05.9999999"
	maxGraphPages       = 10
)

// Microsoft talks to Outlook calendars through Microsoft Graph.
type Microsoft struct {
	creds      CredentialSource
	httpClient *http.Client
	baseURL    string
	logger     *logging.Logger
}

// NewMicrosoft creates the integration. An empty baseURL uses Graph v1.0.
func NewMicrosoft(creds CredentialSource, baseURL string, logger *logging.Logger) *Microsoft {
	if creds == nil {
		panic("calendarsync: credential source required")
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultGraphBaseURL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Microsoft{
		creds:      creds,
		httpClient: &http.Client{Timeout: defaultGraphTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger,
	}
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

func (d graphDateTime) parse() (time.Time, error) {
	loc := time.UTC
	if d.TimeZone != "" && !strings.EqualFold(d.TimeZone, "UTC") {
		l, err := time.LoadLocation(d.TimeZone)
		if err != nil {
			return time.Time{}, fmt.Errorf("load zone %q: %w", d.TimeZone, err)
		}
		loc = l
	}
	return time.ParseInLocation(graphDateTimeLayout, d.DateTime, loc)
}

type graphEvent struct {
	ID     string        `json:"id,omitempty"`
	ShowAs string        `json:"showAs,omitempty"`
	Start  graphDateTime `json:"start"`
	End    graphDateTime `json:"end"`
}

type calendarViewPage struct {
	Value    []graphEvent `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

// FreeBusy lists the calendar view and keeps events not shown as free.
func (m *Microsoft) FreeBusy(ctx context.Context, providerID string, start, end time.Time) ([]Busy, error) {
	creds, err := m.creds.Get(ctx, providers.CalendarMicrosoft, providerID)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("startDateTime", start.UTC().Format(time.RFC3339))
	q.Set("endDateTime", end.UTC().Format(time.RFC3339))
	q.Set("$select", "showAs,start,end")
	next := m.baseURL + "/me/calendarView?" + q.Encode()

	var busy []Busy
	for page := 0; next != "" && page < maxGraphPages; page++ {
		var view calendarViewPage
		if err := m.doJSON(ctx, creds.AccessToken, http.MethodGet, next, nil, &view); err != nil {
			return nil, fmt.Errorf("calendarsync: microsoft calendar view: %w", err)
		}
		for _, ev := range view.Value {
			if strings.EqualFold(ev.ShowAs, "free") {
				continue
			}
			s, err := ev.Start.parse()
			if err != nil {
				return nil, fmt.Errorf("calendarsync: microsoft event start: %w", err)
			}
			e, err := ev.End.parse()
			if err != nil {
				return nil, fmt.Errorf("calendarsync: microsoft event end: %w", err)
			}
			busy = append(busy, Busy{Start: s, End: e})
		}
		next = view.NextLink
	}
	return busy, nil
}

type graphNewEvent struct {
	Subject   string          `json:"subject"`
	Body      graphBody       `json:"body"`
	Start     graphDateTime   `json:"start"`
	End       graphDateTime   `json:"end"`
	Attendees []graphAttendee `json:"attendees,omitempty"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphAttendee struct {
	EmailAddress struct {
		Address string `json:"address"`
		Name    string `json:"name,omitempty"`
	} `json:"emailAddress"`
	Type string `json:"type"`
}

// CreateEvent posts a new event to the provider's default calendar.
func (m *Microsoft) CreateEvent(ctx context.Context, providerID string, req EventRequest) EventResult {
	creds, err := m.creds.Get(ctx, providers.CalendarMicrosoft, providerID)
	if err != nil {
		return EventResult{Error: err.Error()}
	}
	tz := req.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return EventResult{Error: fmt.Sprintf("load zone %q: %v", tz, err)}
	}
	body := graphNewEvent{
		Subject: req.Summary,
		Body:    graphBody{ContentType: "text", Content: req.Description},
		Start:   graphDateTime{DateTime: req.Start.In(loc).Format(graphDateTimeLayout), TimeZone: tz},
		End:     graphDateTime{DateTime: req.End.In(loc).Format(graphDateTimeLayout), TimeZone: tz},
	}
	if req.AttendeeEmail != "" {
		var a graphAttendee
		a.EmailAddress.Address = req.AttendeeEmail
		a.EmailAddress.Name = req.AttendeeName
		a.Type = "required"
		body.Attendees = []graphAttendee{a}
	}

	var created graphEvent
	if err := m.doJSON(ctx, creds.AccessToken, http.MethodPost, m.baseURL+"/me/events", body, &created); err != nil {
		return EventResult{Error: fmt.Sprintf("microsoft create event: %v", err), Unauthorized: errors.Is(err, ErrUnauthorized)}
	}
	return EventResult{Success: true, EventID: created.ID}
}

func (m *Microsoft) doJSON(ctx context.Context, token, method, endpoint string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(respBody)
		if len(msg) > 300 {
			msg = msg[:300]
		}
		m.logger.Warn("graph API non-2xx response", "status", resp.StatusCode, "method", method, "body", msg)
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: graph API returned %d: %s", ErrUnauthorized, resp.StatusCode, msg)
		}
		return fmt.Errorf("graph API returned %d: %s", resp.StatusCode, msg)
	}
	if len(respBody) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
