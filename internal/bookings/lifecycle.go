package bookings

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/booking-engine/internal/apperr"
	"github.com/wolfman30/booking-engine/internal/audit"
	"github.com/wolfman30/booking-engine/internal/availability"
	"github.com/wolfman30/booking-engine/internal/calendarsync"
	"github.com/wolfman30/booking-engine/internal/events"
	"github.com/wolfman30/booking-engine/internal/notify"
	"github.com/wolfman30/booking-engine/internal/observability/metrics"
	"github.com/wolfman30/booking-engine/internal/providers"
	"github.com/wolfman30/booking-engine/internal/verification"
	"github.com/wolfman30/booking-engine/pkg/logging"
)

var bookingsTracer = otel.Tracer("booking.internal.bookings")

const (
	visitorTokenBytes           = 32
	defaultCalendarEventTimeout = 10 * time.Second
)

// Store is the persistence the lifecycle needs. *Repository implements it.
type Store interface {
	Create(ctx context.Context, b *Booking) error
	Get(ctx context.Context, bookingID string) (*Booking, error)
	GetByAccessToken(ctx context.Context, accessToken string) (*Booking, error)
	GetByCancelToken(ctx context.Context, cancelToken string) (*Booking, error)
	ListForProviderDate(ctx context.Context, providerID string, date availability.Date) ([]Booking, error)
	ApplyTransition(ctx context.Context, u TransitionUpdate) (bool, error)
	SetCalendarEventID(ctx context.Context, bookingID, eventID string) error
}

// Verifier issues and redeems verification tokens.
type Verifier interface {
	Issue() (verification.Token, error)
	IsPreVerified(ctx context.Context, email string) (bool, error)
	Verify(ctx context.Context, token string) (verification.Result, error)
}

// CalendarWriter creates events on a provider's connected calendar.
type CalendarWriter interface {
	CreateEvent(ctx context.Context, kind providers.CalendarKind, providerID string, req calendarsync.EventRequest) calendarsync.EventResult
}

// Notifier delivers booking emails.
type Notifier interface {
	Send(ctx context.Context, msg notify.Message) notify.Result
}

// EventRecorder stores lifecycle events for asynchronous delivery.
type EventRecorder interface {
	Append(ctx context.Context, ev events.BookingTransitionV1) error
}

// Auditor appends transition records and reads them back.
type Auditor interface {
	Record(ctx context.Context, e audit.Event) error
	Query(ctx context.Context, f audit.Filter) ([]audit.Event, error)
}

const historyLimit = 100

// LifecycleDeps wires a Lifecycle. Calendar, Events and Audit are optional.
type LifecycleDeps struct {
	Store     Store
	Providers ProviderLoader
	Slots     *SlotService
	Verifier  Verifier
	Notifier  Notifier
	Calendar  CalendarWriter
	Events    EventRecorder
	Audit     Auditor
	Metrics   *metrics.BookingMetrics
	Logger    *logging.Logger
	// PublicBaseURL prefixes verification and access links.
	PublicBaseURL        string
	CalendarEventTimeout time.Duration
}

// Lifecycle drives bookings through the transition table. Each operation
// commits its state change first; notifications, calendar writes, events and
// audit records follow and never undo it.
type Lifecycle struct {
	store        Store
	providers    ProviderLoader
	slots        *SlotService
	verifier     Verifier
	notifier     Notifier
	calendar     CalendarWriter
	events       EventRecorder
	audit        Auditor
	metrics      *metrics.BookingMetrics
	logger       *logging.Logger
	baseURL      string
	eventTimeout time.Duration
	now          func() time.Time
	random       io.Reader
}

// NewLifecycle constructs the lifecycle service.
func NewLifecycle(deps LifecycleDeps) *Lifecycle {
	if deps.Store == nil || deps.Providers == nil || deps.Slots == nil || deps.Verifier == nil || deps.Notifier == nil {
		panic("bookings: lifecycle dependencies required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	timeout := deps.CalendarEventTimeout
	if timeout <= 0 {
		timeout = defaultCalendarEventTimeout
	}
	return &Lifecycle{
		store:        deps.Store,
		providers:    deps.Providers,
		slots:        deps.Slots,
		verifier:     deps.Verifier,
		notifier:     deps.Notifier,
		calendar:     deps.Calendar,
		events:       deps.Events,
		audit:        deps.Audit,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		baseURL:      strings.TrimRight(deps.PublicBaseURL, "/"),
		eventTimeout: timeout,
		now:          time.Now,
		random:       rand.Reader,
	}
}

// WithClock injects the time source used for transition timestamps.
func (l *Lifecycle) WithClock(now func() time.Time) *Lifecycle {
	if now != nil {
		l.now = now
	}
	return l
}

// CreateResult is returned to the visitor after submitting a request.
type CreateResult struct {
	Booking  *Booking
	Verified bool
}

// Create validates req against freshly computed slots and stores a pending
// booking. Trusted emails skip verification and the provider is notified at
// once; everyone else receives a verification link.
func (l *Lifecycle) Create(ctx context.Context, req CreateRequest) (_ *CreateResult, err error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.create")
	defer func() { l.finish(span, ActionCreate, err) }()
	req.Normalize()
	span.SetAttributes(
		attribute.String("booking.provider_id", req.ProviderID),
		attribute.String("booking.date", req.Date.String()),
	)

	if err := req.Validate(); err != nil {
		return nil, err
	}
	listing, p, err := l.slots.compute(ctx, req.ProviderID, req.Date)
	if err != nil {
		return nil, err
	}
	if !p.Schedule.OnlineBookingEnabled {
		return nil, apperr.State("provider is not accepting online bookings")
	}
	if !availability.Contains(listing.Slots, req.Start, req.End) {
		return nil, fmt.Errorf("%w: %s %s-%s", apperr.ErrSlotUnavailable, req.Date, req.Start, req.End)
	}

	preVerified, lookupErr := l.verifier.IsPreVerified(ctx, req.VisitorEmail)
	if lookupErr != nil {
		l.logger.Warn("bookings: trusted email lookup failed, requiring verification",
			"provider_id", p.ID, "error", lookupErr)
		preVerified = false
	}

	accessToken, err := l.newVisitorToken("access")
	if err != nil {
		return nil, err
	}
	cancelToken, err := l.newVisitorToken("cancel")
	if err != nil {
		return nil, err
	}
	b := &Booking{
		ID:              uuid.New().String(),
		ProviderID:      p.ID,
		ServiceID:       req.ServiceID,
		Date:            req.Date,
		Start:           req.Start,
		End:             req.End,
		DurationMinutes: req.End.Minutes() - req.Start.Minutes(),
		SessionFormat:   req.SessionFormat,
		VisitorName:     req.VisitorName,
		VisitorEmail:    req.VisitorEmail,
		VisitorPhone:    req.VisitorPhone,
		VisitorNotes:    req.VisitorNotes,
		Status:          StatusPending,
		IsVerified:      preVerified,
		AccessToken:     accessToken,
		CancelToken:     cancelToken,
	}
	if !preVerified {
		token, err := l.verifier.Issue()
		if err != nil {
			return nil, err
		}
		expires := token.ExpiresAt
		b.VerificationToken = token.Value
		b.VerificationExpiresAt = &expires
	}

	if err := l.store.Create(ctx, b); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("booking.id", b.ID), attribute.Bool("booking.pre_verified", preVerified))
	l.logger.Info("booking requested", "booking_id", b.ID, "provider_id", p.ID, "pre_verified", preVerified)

	details := l.details(b, p)
	var effects []string
	if preVerified {
		effects = append(effects, l.send(ctx, notify.ProviderNewRequest(details)))
	} else {
		effects = append(effects, l.send(ctx, notify.VerificationRequest(details, l.verifyURL(b.VerificationToken))))
	}
	l.record(ctx, b, ActionCreate, "", b.State(), ActorVisitor, "", effects)

	return &CreateResult{Booking: b, Verified: preVerified}, nil
}

// VerifyResult reports a redeemed token.
type VerifyResult struct {
	Booking         *Booking
	AlreadyVerified bool
}

// Verify redeems a verification token. A repeated redemption succeeds with
// AlreadyVerified and sends nothing.
func (l *Lifecycle) Verify(ctx context.Context, token string) (_ *VerifyResult, err error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.verify")
	defer func() { l.finish(span, ActionVerify, err) }()

	res, err := l.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	b, err := l.store.Get(ctx, res.BookingID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("booking.id", b.ID), attribute.Bool("booking.already_verified", res.AlreadyVerified))
	if res.AlreadyVerified {
		return &VerifyResult{Booking: b, AlreadyVerified: true}, nil
	}

	l.logger.Info("booking verified", "booking_id", b.ID, "provider_id", b.ProviderID)
	var effects []string
	if p, err := l.providers.GetProvider(ctx, b.ProviderID); err != nil {
		l.logger.Warn("bookings: provider lookup failed after verify", "booking_id", b.ID, "error", err)
		effects = append(effects, "notify:skipped")
	} else {
		effects = append(effects, l.send(ctx, notify.ProviderNewRequest(l.details(b, p))))
	}
	l.record(ctx, b, ActionVerify, StatePendingUnverified, StatePendingVerified, ActorVisitor, "", effects)
	return &VerifyResult{Booking: b}, nil
}

// Confirm accepts a verified request on behalf of its provider and creates
// the calendar event.
func (l *Lifecycle) Confirm(ctx context.Context, providerID, bookingID string) (_ *Booking, err error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.confirm")
	defer func() { l.finish(span, ActionConfirm, err) }()
	span.SetAttributes(attribute.String("booking.id", bookingID), attribute.String("booking.provider_id", providerID))

	b, p, err := l.loadOwned(ctx, providerID, bookingID)
	if err != nil {
		return nil, err
	}
	from, err := l.apply(ctx, b, ActionConfirm, ActorProvider, "")
	if err != nil {
		return nil, err
	}
	l.logger.Info("booking confirmed", "booking_id", b.ID, "provider_id", p.ID)

	effects := []string{l.createCalendarEvent(ctx, b, p)}
	effects = append(effects, l.send(ctx, notify.VisitorConfirmed(l.details(b, p))))
	l.record(ctx, b, ActionConfirm, from, b.State(), ActorProvider, "", effects)
	return b, nil
}

// CancelByProvider cancels one of the provider's bookings.
func (l *Lifecycle) CancelByProvider(ctx context.Context, providerID, bookingID, reason string) (*Booking, error) {
	return l.cancel(ctx, ActorProvider, reason, func(ctx context.Context) (*Booking, *providers.Provider, error) {
		return l.loadOwned(ctx, providerID, bookingID)
	})
}

// CancelByVisitor cancels the booking named by the cancellation token emailed
// to the visitor. The access token only ever reads.
func (l *Lifecycle) CancelByVisitor(ctx context.Context, cancelToken, reason string) (*Booking, error) {
	return l.cancel(ctx, ActorVisitor, reason, func(ctx context.Context) (*Booking, *providers.Provider, error) {
		cancelToken = strings.TrimSpace(cancelToken)
		if cancelToken == "" {
			return nil, nil, apperr.NotFound("booking")
		}
		b, err := l.store.GetByCancelToken(ctx, cancelToken)
		if err != nil {
			return nil, nil, err
		}
		p, err := l.providers.GetProvider(ctx, b.ProviderID)
		if err != nil {
			return nil, nil, err
		}
		return b, p, nil
	})
}

type loader func(ctx context.Context) (*Booking, *providers.Provider, error)

func (l *Lifecycle) cancel(ctx context.Context, actor, reason string, load loader) (_ *Booking, err error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.cancel")
	defer func() { l.finish(span, ActionCancel, err) }()
	span.SetAttributes(attribute.String("booking.actor", actor))

	reason = strings.TrimSpace(reason)
	if len(reason) > maxNotesLength {
		return nil, apperr.Validation("reason exceeds %d characters", maxNotesLength)
	}
	b, p, err := load(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("booking.id", b.ID))
	from, err := l.apply(ctx, b, ActionCancel, actor, reason)
	if err != nil {
		return nil, err
	}
	l.logger.Info("booking cancelled", "booking_id", b.ID, "provider_id", p.ID, "actor", actor)

	effects := []string{l.send(ctx, notify.Cancelled(l.details(b, p), actor == ActorProvider, reason))}
	l.record(ctx, b, ActionCancel, from, b.State(), actor, reason, effects)
	return b, nil
}

// Complete marks a confirmed booking as held.
func (l *Lifecycle) Complete(ctx context.Context, providerID, bookingID string) (*Booking, error) {
	return l.close(ctx, ActionComplete, ActorProvider, func(ctx context.Context) (*Booking, *providers.Provider, error) {
		return l.loadOwned(ctx, providerID, bookingID)
	})
}

// NoShow marks a confirmed booking the visitor did not attend.
func (l *Lifecycle) NoShow(ctx context.Context, providerID, bookingID string) (*Booking, error) {
	return l.close(ctx, ActionNoShow, ActorProvider, func(ctx context.Context) (*Booking, *providers.Provider, error) {
		return l.loadOwned(ctx, providerID, bookingID)
	})
}

// CompleteElapsed completes a booking on behalf of the system.
func (l *Lifecycle) CompleteElapsed(ctx context.Context, bookingID string) (*Booking, error) {
	return l.close(ctx, ActionComplete, ActorSystem, func(ctx context.Context) (*Booking, *providers.Provider, error) {
		b, err := l.store.Get(ctx, bookingID)
		return b, nil, err
	})
}

func (l *Lifecycle) close(ctx context.Context, action Action, actor string, load loader) (_ *Booking, err error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings."+string(action))
	defer func() { l.finish(span, action, err) }()
	span.SetAttributes(attribute.String("booking.actor", actor))

	b, _, err := load(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("booking.id", b.ID))
	from, err := l.apply(ctx, b, action, actor, "")
	if err != nil {
		return nil, err
	}
	l.logger.Info("booking closed", "booking_id", b.ID, "provider_id", b.ProviderID, "status", b.Status, "actor", actor)
	l.record(ctx, b, action, from, b.State(), actor, "", nil)
	return b, nil
}

// View returns the visitor's read-only view for an access token.
func (l *Lifecycle) View(ctx context.Context, accessToken string) (*VisitorView, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, apperr.NotFound("booking")
	}
	b, err := l.store.GetByAccessToken(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	p, err := l.providers.GetProvider(ctx, b.ProviderID)
	if err != nil {
		return nil, err
	}
	return &VisitorView{
		AccessToken:   b.AccessToken,
		ProviderName:  p.DisplayName,
		Date:          b.Date,
		Start:         b.Start,
		End:           b.End,
		TimeZone:      p.Schedule.Timezone,
		SessionFormat: b.SessionFormat,
		State:         b.State(),
		VisitorName:   b.VisitorName,
		ConfirmedAt:   b.ConfirmedAt,
		CancelledAt:   b.CancelledAt,
	}, nil
}

// ListForProvider returns a provider's bookings on date.
func (l *Lifecycle) ListForProvider(ctx context.Context, providerID string, date availability.Date) ([]Booking, error) {
	if date.IsZero() {
		return nil, apperr.Validation("date is required")
	}
	return l.store.ListForProviderDate(ctx, providerID, date)
}

// History returns the recorded transitions of one of the provider's
// bookings, newest first.
func (l *Lifecycle) History(ctx context.Context, providerID, bookingID string) ([]audit.Event, error) {
	b, err := l.store.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.ProviderID != providerID {
		return nil, apperr.NotFound("booking")
	}
	if l.audit == nil {
		return []audit.Event{}, nil
	}
	events, err := l.audit.Query(ctx, audit.Filter{ProviderID: providerID, BookingID: b.ID, Limit: historyLimit})
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []audit.Event{}
	}
	return events, nil
}

// apply moves b along the transition table and persists it with a
// conditional update. It returns the state b was in.
func (l *Lifecycle) apply(ctx context.Context, b *Booking, action Action, actor, reason string) (State, error) {
	from := b.State()
	to, err := Next(from, action)
	if err != nil {
		return from, err
	}
	at := l.now().UTC()
	ok, err := l.store.ApplyTransition(ctx, TransitionUpdate{
		BookingID: b.ID,
		From:      from,
		To:        to,
		At:        at,
		Actor:     actor,
		Reason:    reason,
	})
	if err != nil {
		return from, err
	}
	if !ok {
		current := from
		if fresh, err := l.store.Get(ctx, b.ID); err == nil {
			current = fresh.State()
		}
		return from, apperr.State("booking is %s and cannot %s", current, action)
	}

	status, _ := to.Stored()
	b.Status = status
	b.UpdatedAt = at
	switch to {
	case StateConfirmed:
		b.ConfirmedAt = &at
	case StateCancelled:
		b.CancelledAt = &at
		b.CancelledBy = actor
		b.CancellationReason = reason
	case StateCompleted:
		b.CompletedAt = &at
	case StateNoShow:
		b.NoShowAt = &at
	}
	return from, nil
}

func (l *Lifecycle) loadOwned(ctx context.Context, providerID, bookingID string) (*Booking, *providers.Provider, error) {
	b, err := l.store.Get(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if b.ProviderID != providerID {
		return nil, nil, apperr.NotFound("booking")
	}
	p, err := l.providers.GetProvider(ctx, providerID)
	if err != nil {
		return nil, nil, err
	}
	return b, p, nil
}

func (l *Lifecycle) createCalendarEvent(ctx context.Context, b *Booking, p *providers.Provider) string {
	kind := p.Schedule.ConnectedCalendar()
	if kind == providers.CalendarNone || l.calendar == nil {
		return "calendar:none"
	}
	loc, err := p.Schedule.Location()
	if err != nil {
		l.logger.Warn("bookings: calendar event skipped", "booking_id", b.ID, "error", err)
		return "calendar:failed"
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.eventTimeout)
	defer cancel()

	res := l.calendar.CreateEvent(ctx, kind, p.ID, calendarsync.EventRequest{
		Summary:       fmt.Sprintf("Booking: %s", b.VisitorName),
		Description:   calendarDescription(b),
		Start:         b.StartsAt(loc),
		End:           b.EndsAt(loc),
		TimeZone:      loc.String(),
		AttendeeEmail: b.VisitorEmail,
		AttendeeName:  b.VisitorName,
	})
	if !res.Success {
		l.logger.Warn("bookings: calendar event failed", "booking_id", b.ID,
			"error", apperr.Degraded(string(kind)+"_calendar", errors.New(res.Error)))
		return "calendar:failed"
	}
	if res.EventID != "" {
		if err := l.store.SetCalendarEventID(ctx, b.ID, res.EventID); err != nil {
			l.logger.Warn("bookings: storing calendar event id failed", "booking_id", b.ID, "error", err)
		} else {
			b.CalendarEventID = res.EventID
		}
	}
	return "calendar:created"
}

func calendarDescription(b *Booking) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Email: %s\n", b.VisitorEmail)
	if b.VisitorPhone != "" {
		fmt.Fprintf(&sb, "Phone: %s\n", b.VisitorPhone)
	}
	fmt.Fprintf(&sb, "Format: %s\n", b.SessionFormat)
	if b.VisitorNotes != "" {
		fmt.Fprintf(&sb, "\n%s\n", b.VisitorNotes)
	}
	return sb.String()
}

func (l *Lifecycle) send(ctx context.Context, msg notify.Message) string {
	res := l.notifier.Send(context.WithoutCancel(ctx), msg)
	if !res.Success {
		l.logger.Warn("bookings: notification not delivered", "kind", msg.Kind, "error", apperr.Degraded("email", nil))
		return "notify:" + msg.Kind + ":failed"
	}
	return "notify:" + msg.Kind + ":sent"
}

var eventActions = map[Action]string{
	ActionCreate:   events.ActionCreated,
	ActionVerify:   events.ActionVerified,
	ActionConfirm:  events.ActionConfirmed,
	ActionCancel:   events.ActionCancelled,
	ActionComplete: events.ActionCompleted,
	ActionNoShow:   events.ActionNoShow,
}

// record writes the outbox event and audit entry for a committed transition.
// Failures are logged only.
func (l *Lifecycle) record(ctx context.Context, b *Booking, action Action, from, to State, actor, reason string, effects []string) {
	ctx = context.WithoutCancel(ctx)
	name := eventActions[action]
	now := l.now().UTC()

	if l.events != nil {
		payload := events.BookingTransitionV1{
			EventID:     uuid.New().String(),
			BookingID:   b.ID,
			ProviderID:  b.ProviderID,
			Action:      name,
			FromState:   string(from),
			ToState:     string(to),
			Actor:       actor,
			BookingDate: b.Date.String(),
			StartTime:   string(b.Start),
			EndTime:     string(b.End),
			Reason:      reason,
			OccurredAt:  now,
		}
		if err := l.events.Append(ctx, payload); err != nil {
			l.logger.Warn("bookings: outbox insert failed", "booking_id", b.ID, "action", action, "error", err)
		}
	}
	if l.audit != nil {
		err := l.audit.Record(ctx, audit.Event{
			BookingID:   b.ID,
			ProviderID:  b.ProviderID,
			Action:      string(action),
			FromState:   string(from),
			ToState:     string(to),
			Actor:       actor,
			Reason:      reason,
			SideEffects: effects,
			CreatedAt:   now,
		})
		if err != nil {
			l.logger.Warn("bookings: audit record failed", "booking_id", b.ID, "action", action, "error", err)
		}
	}
}

func (l *Lifecycle) finish(span trace.Span, action Action, err error) {
	result := "ok"
	if err != nil {
		span.RecordError(err)
		result = transitionResult(err)
	}
	l.metrics.ObserveTransition(string(action), result)
	span.End()
}

func transitionResult(err error) string {
	if code := apperr.Code(err); code != "internal_error" {
		return code
	}
	return "error"
}

func (l *Lifecycle) details(b *Booking, p *providers.Provider) notify.BookingDetails {
	return notify.BookingDetails{
		ProviderName:  p.DisplayName,
		ProviderEmail: p.Email,
		VisitorName:   b.VisitorName,
		VisitorEmail:  b.VisitorEmail,
		VisitorPhone:  b.VisitorPhone,
		Notes:         b.VisitorNotes,
		Date:          b.Date.String(),
		Start:         string(b.Start),
		End:           string(b.End),
		TimeZone:      p.Schedule.Timezone,
		SessionFormat: b.SessionFormat,
		AccessURL:     l.accessURL(b.AccessToken),
		CancelURL:     l.cancelURL(b.CancelToken),
	}
}

func (l *Lifecycle) verifyURL(token string) string {
	return l.baseURL + "/bookings/verify?token=" + url.QueryEscape(token)
}

func (l *Lifecycle) accessURL(token string) string {
	return l.baseURL + "/bookings/access/" + url.PathEscape(token)
}

func (l *Lifecycle) cancelURL(token string) string {
	if token == "" {
		return ""
	}
	return l.baseURL + "/bookings/cancel?token=" + url.QueryEscape(token)
}

func (l *Lifecycle) newVisitorToken(kind string) (string, error) {
	buf := make([]byte, visitorTokenBytes)
	if _, err := io.ReadFull(l.random, buf); err != nil {
		return "", fmt.Errorf("bookings: %s token: %w", kind, err)
	}
	return hex.EncodeToString(buf), nil
}
