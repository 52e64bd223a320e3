package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/booking-engine/internal/apperr"
	"github.com/wolfman30/booking-engine/internal/audit"
	"github.com/wolfman30/booking-engine/internal/availability"
	"github.com/wolfman30/booking-engine/internal/bookings"
	"github.com/wolfman30/booking-engine/internal/tenancy"
	"github.com/wolfman30/booking-engine/pkg/logging"
)

// ProviderBookings is the provider side of the booking lifecycle.
type ProviderBookings interface {
	ListForProvider(ctx context.Context, providerID string, date availability.Date) ([]bookings.Booking, error)
	Confirm(ctx context.Context, providerID, bookingID string) (*bookings.Booking, error)
	CancelByProvider(ctx context.Context, providerID, bookingID, reason string) (*bookings.Booking, error)
	Complete(ctx context.Context, providerID, bookingID string) (*bookings.Booking, error)
	NoShow(ctx context.Context, providerID, bookingID string) (*bookings.Booking, error)
	History(ctx context.Context, providerID, bookingID string) ([]audit.Event, error)
}

// ProviderBookingHandler serves the authenticated provider endpoints. The
// provider id always comes from the token, never from the path.
type ProviderBookingHandler struct {
	bookings ProviderBookings
	logger   *logging.Logger
}

// NewProviderBookingHandler creates the provider handler.
func NewProviderBookingHandler(b ProviderBookings, logger *logging.Logger) *ProviderBookingHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ProviderBookingHandler{bookings: b, logger: logger}
}

// ProviderBookingView is a booking as its provider sees it.
type ProviderBookingView struct {
	ID                 string             `json:"id"`
	Date               availability.Date  `json:"date"`
	Start              availability.Clock `json:"start_time"`
	End                availability.Clock `json:"end_time"`
	Status             bookings.State     `json:"status"`
	SessionFormat      string             `json:"session_format"`
	VisitorName        string             `json:"visitor_name"`
	VisitorEmail       string             `json:"visitor_email"`
	VisitorPhone       string             `json:"visitor_phone,omitempty"`
	VisitorNotes       string             `json:"visitor_notes,omitempty"`
	CancelledBy        string             `json:"cancelled_by,omitempty"`
	CancellationReason string             `json:"cancellation_reason,omitempty"`
	CalendarEventID    string             `json:"calendar_event_id,omitempty"`
	ConfirmedAt        *time.Time         `json:"confirmed_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}

func providerView(b *bookings.Booking) ProviderBookingView {
	return ProviderBookingView{
		ID:                 b.ID,
		Date:               b.Date,
		Start:              b.Start,
		End:                b.End,
		Status:             b.State(),
		SessionFormat:      b.SessionFormat,
		VisitorName:        b.VisitorName,
		VisitorEmail:       b.VisitorEmail,
		VisitorPhone:       b.VisitorPhone,
		VisitorNotes:       b.VisitorNotes,
		CancelledBy:        b.CancelledBy,
		CancellationReason: b.CancellationReason,
		CalendarEventID:    b.CalendarEventID,
		ConfirmedAt:        b.ConfirmedAt,
		CreatedAt:          b.CreatedAt,
	}
}

// ListBookings handles GET /provider/bookings?date=YYYY-MM-DD.
func (h *ProviderBookingHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	providerID, ok := tenancy.ProviderIDFromContext(r.Context())
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	date, err := availability.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		jsonError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	list, err := h.bookings.ListForProvider(r.Context(), providerID, date)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	out := make([]ProviderBookingView, 0, len(list))
	for i := range list {
		out = append(out, providerView(&list[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "bookings": out})
}

// Confirm handles POST /provider/bookings/{bookingID}/confirm.
func (h *ProviderBookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.bookings.Confirm)
}

// Complete handles POST /provider/bookings/{bookingID}/complete.
func (h *ProviderBookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.bookings.Complete)
}

// NoShow handles POST /provider/bookings/{bookingID}/no-show.
func (h *ProviderBookingHandler) NoShow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.bookings.NoShow)
}

// Cancel handles POST /provider/bookings/{bookingID}/cancel.
func (h *ProviderBookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	reason, err := optionalReason(w, r)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	h.transition(w, r, func(ctx context.Context, providerID, bookingID string) (*bookings.Booking, error) {
		return h.bookings.CancelByProvider(ctx, providerID, bookingID, reason)
	})
}

func (h *ProviderBookingHandler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, providerID, bookingID string) (*bookings.Booking, error)) {
	providerID, ok := tenancy.ProviderIDFromContext(r.Context())
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	bookingID, err := bookingParam(r)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	b, err := op(r.Context(), providerID, bookingID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, providerView(b))
}

// History handles GET /provider/bookings/{bookingID}/history.
func (h *ProviderBookingHandler) History(w http.ResponseWriter, r *http.Request) {
	providerID, ok := tenancy.ProviderIDFromContext(r.Context())
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	bookingID, err := bookingParam(r)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	events, err := h.bookings.History(r.Context(), providerID, bookingID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking_id": bookingID, "events": events})
}

func bookingParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "bookingID")
	if !bookings.ValidID(id) {
		return "", apperr.NotFound("booking")
	}
	return id, nil
}
