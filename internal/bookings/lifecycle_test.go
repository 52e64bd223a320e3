package bookings

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/booking-engine/internal/apperr"
	"github.com/wolfman30/booking-engine/internal/audit"
	"github.com/wolfman30/booking-engine/internal/availability"
	"github.com/wolfman30/booking-engine/internal/calendarsync"
	"github.com/wolfman30/booking-engine/internal/events"
	"github.com/wolfman30/booking-engine/internal/notify"
	"github.com/wolfman30/booking-engine/internal/providers"
	"github.com/wolfman30/booking-engine/internal/verification"
)

// 2026-10-19 08:00 in New York; the test date is the following day.
var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

var testDate = availability.Date{Year: 2026, Month: time.October, Day: 20}

type memStore struct {
	mu       sync.Mutex
	bookings map[string]*Booking
	events   map[string]string
}

func newMemStore() *memStore {
	return &memStore{bookings: map[string]*Booking{}, events: map[string]string{}}
}

func (m *memStore) Create(_ context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.bookings {
		if other.ProviderID == b.ProviderID && other.Date == b.Date && other.Start == b.Start && other.Status != StatusCancelled {
			return apperr.ErrSlotUnavailable
		}
	}
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, apperr.NotFound("booking")
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) GetByAccessToken(_ context.Context, token string) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.AccessToken == token {
			cp := *b
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("booking")
}

func (m *memStore) GetByCancelToken(_ context.Context, token string) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.CancelToken == token {
			cp := *b
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("booking")
}

func (m *memStore) ListForProviderDate(_ context.Context, providerID string, date availability.Date) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Booking
	for _, b := range m.bookings {
		if b.ProviderID == providerID && b.Date == date {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memStore) ApplyTransition(_ context.Context, u TransitionUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[u.BookingID]
	if !ok || b.State() != u.From {
		return false, nil
	}
	b.Status, _ = u.To.Stored()
	return true, nil
}

func (m *memStore) SetCalendarEventID(_ context.Context, id, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[id] = eventID
	return nil
}

// BusyForDate and the token methods let memStore back the real verifier.
func (m *memStore) BusyForDate(_ context.Context, providerID string, date availability.Date) ([]availability.Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []availability.Interval
	for _, b := range m.bookings {
		if b.ProviderID == providerID && b.Date == date && (b.Status == StatusPending || b.Status == StatusConfirmed) {
			out = append(out, availability.Interval{Start: b.Start, End: b.End})
		}
	}
	return out, nil
}

func (m *memStore) FindByVerificationToken(_ context.Context, token string) (*verification.TokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.VerificationToken == token || "used:"+token == b.VerificationToken {
			return &verification.TokenRecord{
				BookingID:    b.ID,
				VisitorEmail: b.VisitorEmail,
				IsVerified:   b.IsVerified,
				Pending:      b.Status == StatusPending,
				ExpiresAt:    b.VerificationExpiresAt,
			}, nil
		}
	}
	return nil, nil
}

func (m *memStore) MarkVerified(_ context.Context, id, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bookings[id]
	if b == nil || b.IsVerified || b.Status != StatusPending || b.VerificationToken != token {
		return false, nil
	}
	b.IsVerified = true
	b.VerificationToken = "used:" + token
	return true, nil
}

type memTrusted struct {
	emails map[string]bool
	err    error
}

func (m *memTrusted) IsTrusted(_ context.Context, email string) (bool, error) {
	return m.emails[email], m.err
}

func (m *memTrusted) Trust(_ context.Context, email, _ string) error {
	m.emails[email] = true
	return nil
}

type staticProviders map[string]*providers.Provider

func (s staticProviders) GetProvider(_ context.Context, id string) (*providers.Provider, error) {
	p, ok := s[id]
	if !ok {
		return nil, apperr.NotFound("provider")
	}
	return p, nil
}

type staticRanges []availability.Range

func (s staticRanges) Resolve(context.Context, string, availability.Date) ([]availability.Range, error) {
	return s, nil
}

type storeBusy struct{ store *memStore }

func (s storeBusy) BusyIntervals(ctx context.Context, p *providers.Provider, date availability.Date) ([]availability.Interval, error) {
	return s.store.BusyForDate(ctx, p.ID, date)
}

type outbox struct{ messages []notify.Message }

func (o *outbox) Send(_ context.Context, msg notify.Message) notify.Result {
	o.messages = append(o.messages, msg)
	return notify.Result{Success: true, DeliveryID: "d-1"}
}

func (o *outbox) kinds() []string {
	var out []string
	for _, m := range o.messages {
		out = append(out, m.Kind)
	}
	return out
}

type fakeCalendar struct {
	calls  int
	result calendarsync.EventResult
}

func (f *fakeCalendar) CreateEvent(_ context.Context, _ providers.CalendarKind, _ string, _ calendarsync.EventRequest) calendarsync.EventResult {
	f.calls++
	return f.result
}

type recordedEvents struct{ types []string }

func (r *recordedEvents) Append(_ context.Context, ev events.BookingTransitionV1) error {
	r.types = append(r.types, events.BookingEventType(ev.Action))
	return nil
}

type recordedAudit struct {
	events []audit.Event
	err    error
}

func (r *recordedAudit) Record(_ context.Context, e audit.Event) error {
	r.events = append(r.events, e)
	return r.err
}

func (r *recordedAudit) Query(_ context.Context, f audit.Filter) ([]audit.Event, error) {
	var out []audit.Event
	for i := len(r.events) - 1; i >= 0; i-- {
		if e := r.events[i]; e.ProviderID == f.ProviderID && e.BookingID == f.BookingID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fixture struct {
	lifecycle *Lifecycle
	store     *memStore
	trusted   *memTrusted
	mail      *outbox
	calendar  *fakeCalendar
	events    *recordedEvents
	audit     *recordedAudit
	provider  *providers.Provider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	trusted := &memTrusted{emails: map[string]bool{}}
	provider := &providers.Provider{
		ID:          "prov-1",
		DisplayName: "Dr. Reyes",
		Email:       "reyes@example.com",
		Schedule: providers.ScheduleConfig{
			SlotDurationMinutes:     30,
			BufferMinutes:           15,
			MinNoticeHours:          2,
			MaxDaysAhead:            30,
			Timezone:                "America/New_York",
			OnlineBookingEnabled:    true,
			GoogleCalendarConnected: true,
		},
	}
	loader := staticProviders{provider.ID: provider}
	slots := NewSlotService(loader, staticRanges{{Start: "09:00", End: "12:00"}}, storeBusy{store}, nil, nil, nil).
		WithClock(func() time.Time { return testNow })
	verifier := verification.NewService(store, trusted, nil).WithClock(func() time.Time { return testNow })

	f := &fixture{
		store:    store,
		trusted:  trusted,
		mail:     &outbox{},
		calendar: &fakeCalendar{result: calendarsync.EventResult{Success: true, EventID: "evt-1"}},
		events:   &recordedEvents{},
		audit:    &recordedAudit{},
		provider: provider,
	}
	f.lifecycle = NewLifecycle(LifecycleDeps{
		Store:         store,
		Providers:     loader,
		Slots:         slots,
		Verifier:      verifier,
		Notifier:      f.mail,
		Calendar:      f.calendar,
		Events:        f.events,
		Audit:         f.audit,
		PublicBaseURL: "https://book.example.com/",
	}).WithClock(func() time.Time { return testNow })
	return f
}

func validRequest() CreateRequest {
	return CreateRequest{
		ProviderID:   "prov-1",
		Date:         testDate,
		Start:        "09:45",
		End:          "10:15",
		VisitorName:  " Ada Lovelace ",
		VisitorEmail: "ada@example.com",
	}
}

func TestCreateUnverifiedSendsVerificationLink(t *testing.T) {
	f := newFixture(t)

	res, err := f.lifecycle.Create(context.Background(), validRequest())
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, StatePendingUnverified, res.Booking.State())
	assert.Equal(t, "Ada Lovelace", res.Booking.VisitorName)
	assert.Equal(t, FormatInPerson, res.Booking.SessionFormat)
	assert.Len(t, res.Booking.AccessToken, 64)
	assert.Len(t, res.Booking.CancelToken, 64)
	assert.NotEqual(t, res.Booking.AccessToken, res.Booking.CancelToken)
	assert.Len(t, res.Booking.VerificationToken, 64)
	require.NotNil(t, res.Booking.VerificationExpiresAt)
	assert.Equal(t, testNow.Add(24*time.Hour), *res.Booking.VerificationExpiresAt)

	require.Len(t, f.mail.messages, 1)
	msg := f.mail.messages[0]
	assert.Equal(t, "ada@example.com", msg.To)
	assert.Contains(t, msg.Body, "https://book.example.com/bookings/verify?token="+res.Booking.VerificationToken)
	assert.Contains(t, msg.Body, "https://book.example.com/bookings/cancel?token="+res.Booking.CancelToken)
	assert.Equal(t, []string{"booking.created.v1"}, f.events.types)
	require.Len(t, f.audit.events, 1)
	assert.Equal(t, string(StatePendingUnverified), f.audit.events[0].ToState)
}

func TestCreatePreVerifiedNotifiesProvider(t *testing.T) {
	f := newFixture(t)
	f.trusted.emails["ada@example.com"] = true

	req := validRequest()
	req.VisitorEmail = "ada@example.com"
	res, err := f.lifecycle.Create(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, StatePendingVerified, res.Booking.State())
	assert.Empty(t, res.Booking.VerificationToken)
	assert.Nil(t, res.Booking.VerificationExpiresAt)
	require.Len(t, f.mail.messages, 1)
	assert.Equal(t, "reyes@example.com", f.mail.messages[0].To)
}

func TestCreateTrustedLookupFailureRequiresVerification(t *testing.T) {
	f := newFixture(t)
	f.trusted.err = errors.New("db down")

	res, err := f.lifecycle.Create(context.Background(), validRequest())
	require.NoError(t, err)
	assert.False(t, res.Verified)
}

func TestCreateRejectsSlotNotInSet(t *testing.T) {
	f := newFixture(t)
	req := validRequest()
	req.Start, req.End = "09:30", "10:00"

	_, err := f.lifecycle.Create(context.Background(), req)
	assert.True(t, errors.Is(err, apperr.ErrSlotUnavailable))
	assert.Empty(t, f.store.bookings)
	assert.Empty(t, f.mail.messages)
}

func TestCreateSecondRequestForSameSlotFails(t *testing.T) {
	f := newFixture(t)
	_, err := f.lifecycle.Create(context.Background(), validRequest())
	require.NoError(t, err)

	req := validRequest()
	req.VisitorEmail = "grace@example.com"
	_, err = f.lifecycle.Create(context.Background(), req)
	assert.True(t, errors.Is(err, apperr.ErrSlotUnavailable))
	assert.Len(t, f.store.bookings, 1)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		mutate func(*CreateRequest)
		target error
	}{
		{"missing email", func(r *CreateRequest) { r.VisitorEmail = "" }, apperr.ErrValidation},
		{"bad email", func(r *CreateRequest) { r.VisitorEmail = "not-an-email" }, apperr.ErrValidation},
		{"end before start", func(r *CreateRequest) { r.End = "09:00" }, apperr.ErrValidation},
		{"bad format", func(r *CreateRequest) { r.SessionFormat = "carrier pigeon" }, apperr.ErrValidation},
		{"long notes", func(r *CreateRequest) { r.VisitorNotes = strings.Repeat("x", 2001) }, apperr.ErrValidation},
		{"past date", func(r *CreateRequest) { r.Date = availability.Date{Year: 2026, Month: time.October, Day: 1} }, apperr.ErrDateOutOfWindow},
		{"unknown provider", func(r *CreateRequest) { r.ProviderID = "prov-x" }, apperr.ErrNotFound},
		{"malformed service id", func(r *CreateRequest) { r.ServiceID = "consult" }, apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := f.lifecycle.Create(context.Background(), req)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}

func TestCreateOnlineBookingDisabled(t *testing.T) {
	f := newFixture(t)
	f.provider.Schedule.OnlineBookingEnabled = false

	_, err := f.lifecycle.Create(context.Background(), validRequest())
	assert.True(t, errors.Is(err, apperr.ErrState))
}

func TestVerifyThenVerifyAgain(t *testing.T) {
	f := newFixture(t)
	res, err := f.lifecycle.Create(context.Background(), validRequest())
	require.NoError(t, err)
	token := res.Booking.VerificationToken

	vr, err := f.lifecycle.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.False(t, vr.AlreadyVerified)
	assert.Equal(t, StatePendingVerified, vr.Booking.State())
	assert.True(t, f.trusted.emails["ada@example.com"])
	assert.Equal(t, []string{"verification", "provider_new_request"}, f.mail.kinds())

	again, err := f.lifecycle.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, again.AlreadyVerified)
	assert.Len(t, f.mail.messages, 2)
	assert.Equal(t, []string{"booking.created.v1", "booking.verified.v1"}, f.events.types)
}

func TestConfirmCreatesCalendarEvent(t *testing.T) {
	f := newFixture(t)
	f.trusted.emails["ada@example.com"] = true
	res, err := f.lifecycle.Create(context.Background(), validRequest())
	require.NoError(t, err)

	b, err := f.lifecycle.Confirm(context.Background(), "prov-1", res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, b.State())
	require.NotNil(t, b.ConfirmedAt)
	assert.Equal(t, testNow, *b.ConfirmedAt)
	assert.Equal(t, 1, f.calendar.calls)
	assert.Equal(t, "evt-1", f.store.events[b.ID])

	last := f.mail.messages[len(f.mail.messages)-1]
	assert.Equal(t, "visitor_confirmed", last.Kind)
	assert.Contains(t, last.Body, "https://book.example.com/bookings/access/"+b.AccessToken)
	assert.Contains(t, last.Body, "https://book.example.com/bookings/cancel?token="+b.CancelToken)

	auditEvent := f.audit.events[len(f.audit.events)-1]
	assert.Equal(t, []string{"calendar:created", "notify:visitor_confirmed:sent"}, auditEvent.SideEffects)
}

func TestConfirmCalendarFailureKeepsConfirmation(t *testing.T) {
	f := newFixture(t)
	f.trusted.emails["ada@example.com"] = true
	f.calendar.result = calendarsync.EventResult{Error: "401 unauthorized"}
	res, err := f.lifecycle.Create(context.Background(), validRequest())
	require.NoError(t, err)

	b, err := f.lifecycle.Confirm(context.Background(), "prov-1", res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, b.State())
	assert.Empty(t, f.store.events)
}

func TestConfirmRequiresVerification(t *testing.T) {
	f := newFixture(t)
	res, err := f.lifecycle.Create(context.Background(), validRequest())
	require.NoError(t, err)

	_, err = f.lifecycle.Confirm(context.Background(), "prov-1", res.Booking.ID)
	assert.True(t, errors.Is(err, apperr.ErrState))
	assert.Equal(t, 0, f.calendar.calls)
}

func TestConfirmCancelledBookingIsStateError(t *testing.T) {
	f := newFixture(t)
	f.trusted.emails["ada@example.com"] = true
	res, err := f.lifecycle.Create(context.Background(), validRequest())
	require.NoError(t, err)
	_, err = f.lifecycle.CancelByProvider(context.Background(), "prov-1", res.Booking.ID, "")
	require.NoError(t, err)

	_, err = f.lifecycle.Confirm(context.Background(), "prov-1", res.Booking.ID)
	assert.True(t, errors.Is(err, apperr.ErrState))
	assert.Equal(t, StateCancelled, f.store.bookings[res.Booking.ID].State())
	assert.Equal(t, 0, f.calendar.calls)
}

func TestConfirmOtherProvidersBookingIsNotFound(t *testing.T) {
	f := newFixture(t)
	f.trusted.emails["ada@example.com"] = true
	res, err := f.lifecycle.Create(context.Background(), validRequest())
	require.NoError(t, err)

	_, err = f.lifecycle.Confirm(context.Background(), "prov-2", res.Booking.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestConfirmTwiceIsRejected(t *testing.T) {
	f := newFixture(t)
	f.trusted.emails["ada@example.com"] = true
	res, err := f.lifecycle.Create(context.Background(), validRequest())
	require.NoError(t, err)

	_, err = f.lifecycle.Confirm(context.Background(), "prov-1", res.Booking.ID)
	require.NoError(t, err)
	_, err = f.lifecycle.Confirm(context.Background(), "prov-1", res.Booking.ID)
	assert.True(t, errors.Is(err, apperr.ErrState))
	assert.Equal(t, 1, f.calendar.calls)
}

func TestCancelByVisitorNotifiesProvider(t *testing.T) {
	f := newFixture(t)
	res, err := f.lifecycle.Create(context.Background(), validRequest())
	require.NoError(t, err)

	b, err := f.lifecycle.CancelByVisitor(context.Background(), res.Booking.CancelToken, "schedule conflict")
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, b.State())
	assert.Equal(t, ActorVisitor, b.CancelledBy)
	assert.Equal(t, "schedule conflict", b.CancellationReason)

	last := f.mail.messages[len(f.mail.messages)-1]
	assert.Equal(t, "reyes@example.com", last.To)
	assert.Contains(t, last.Body, "schedule conflict")

	_, err = f.lifecycle.CancelByVisitor(context.Background(), res.Booking.CancelToken, "")
	assert.True(t, errors.Is(err, apperr.ErrState))
}

func TestAccessTokenCannotCancel(t *testing.T) {
	f := newFixture(t)
	res, err := f.lifecycle.Create(context.Background(), validRequest())
	require.NoError(t, err)

	_, err = f.lifecycle.CancelByVisitor(context.Background(), res.Booking.AccessToken, "")
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "got %v", err)
	_, err = f.lifecycle.CancelByVisitor(context.Background(), "  ", "")
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "got %v", err)

	stored, err := f.store.Get(context.Background(), res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePendingUnverified, stored.State())
}

func TestHistoryIsScopedToOwner(t *testing.T) {
	f := newFixture(t)
	f.trusted.emails["ada@example.com"] = true
	res, err := f.lifecycle.Create(context.Background(), validRequest())
	require.NoError(t, err)
	_, err = f.lifecycle.Confirm(context.Background(), "prov-1", res.Booking.ID)
	require.NoError(t, err)

	history, err := f.lifecycle.History(context.Background(), "prov-1", res.Booking.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "confirm", history[0].Action)
	assert.Equal(t, []string{"calendar:created", "notify:visitor_confirmed:sent"}, history[0].SideEffects)
	assert.Equal(t, "create", history[1].Action)

	_, err = f.lifecycle.History(context.Background(), "prov-2", res.Booking.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestCancelFreesSlot(t *testing.T) {
	f := newFixture(t)
	res, err := f.lifecycle.Create(context.Background(), validRequest())
	require.NoError(t, err)
	_, err = f.lifecycle.CancelByProvider(context.Background(), "prov-1", res.Booking.ID, "")
	require.NoError(t, err)

	req := validRequest()
	req.VisitorEmail = "grace@example.com"
	_, err = f.lifecycle.Create(context.Background(), req)
	require.NoError(t, err)
}

func TestCompleteAndNoShowOnlyFromConfirmed(t *testing.T) {
	f := newFixture(t)
	f.trusted.emails["ada@example.com"] = true
	res, err := f.lifecycle.Create(context.Background(), validRequest())
	require.NoError(t, err)

	_, err = f.lifecycle.Complete(context.Background(), "prov-1", res.Booking.ID)
	assert.True(t, errors.Is(err, apperr.ErrState))

	_, err = f.lifecycle.Confirm(context.Background(), "prov-1", res.Booking.ID)
	require.NoError(t, err)
	b, err := f.lifecycle.NoShow(context.Background(), "prov-1", res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, StateNoShow, b.State())

	_, err = f.lifecycle.Complete(context.Background(), "prov-1", res.Booking.ID)
	assert.True(t, errors.Is(err, apperr.ErrState))
	_, err = f.lifecycle.CancelByProvider(context.Background(), "prov-1", res.Booking.ID, "")
	assert.True(t, errors.Is(err, apperr.ErrState))
}

func TestAuditFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture(t)
	f.audit.err = errors.New("audit db down")

	_, err := f.lifecycle.Create(context.Background(), validRequest())
	require.NoError(t, err)
}

func TestViewHidesInternalID(t *testing.T) {
	f := newFixture(t)
	res, err := f.lifecycle.Create(context.Background(), validRequest())
	require.NoError(t, err)

	view, err := f.lifecycle.View(context.Background(), res.Booking.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "Dr. Reyes", view.ProviderName)
	assert.Equal(t, "America/New_York", view.TimeZone)
	assert.Equal(t, StatePendingUnverified, view.State)

	_, err = f.lifecycle.View(context.Background(), "")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
