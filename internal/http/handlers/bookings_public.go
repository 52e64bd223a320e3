package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/booking-engine/internal/apperr"
	"github.com/wolfman30/booking-engine/internal/availability"
	"github.com/wolfman30/booking-engine/internal/bookings"
	"github.com/wolfman30/booking-engine/pkg/logging"
)

// SlotLister serves slot and month availability.
type SlotLister interface {
	Slots(ctx context.Context, providerID string, date availability.Date) (*bookings.SlotListing, error)
	Month(ctx context.Context, providerID string, year int, month time.Month) ([]availability.DayIndicator, error)
}

// VisitorBookings is the visitor side of the booking lifecycle.
type VisitorBookings interface {
	Create(ctx context.Context, req bookings.CreateRequest) (*bookings.CreateResult, error)
	Verify(ctx context.Context, token string) (*bookings.VerifyResult, error)
	View(ctx context.Context, accessToken string) (*bookings.VisitorView, error)
	CancelByVisitor(ctx context.Context, cancelToken, reason string) (*bookings.Booking, error)
}

// PublicBookingHandler serves the unauthenticated visitor endpoints.
type PublicBookingHandler struct {
	slots    SlotLister
	bookings VisitorBookings
	logger   *logging.Logger
}

// NewPublicBookingHandler creates the visitor handler.
func NewPublicBookingHandler(slots SlotLister, visitor VisitorBookings, logger *logging.Logger) *PublicBookingHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &PublicBookingHandler{slots: slots, bookings: visitor, logger: logger}
}

// ListSlots handles GET /providers/{providerID}/slots?date=YYYY-MM-DD.
func (h *PublicBookingHandler) ListSlots(w http.ResponseWriter, r *http.Request) {
	date, err := availability.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		jsonError(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	providerID, err := providerParam(r)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	listing, err := h.slots.Slots(r.Context(), providerID, date)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// MonthAvailability handles GET /providers/{providerID}/availability?month=YYYY-MM.
func (h *PublicBookingHandler) MonthAvailability(w http.ResponseWriter, r *http.Request) {
	month, err := time.Parse("2006-01", r.URL.Query().Get("month"))
	if err != nil {
		jsonError(w, "month must be YYYY-MM", http.StatusBadRequest)
		return
	}
	providerID, err := providerParam(r)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	days, err := h.slots.Month(r.Context(), providerID, month.Year(), month.Month())
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider_id": providerID,
		"month":       month.Format("2006-01"),
		"days":        days,
	})
}

type createBookingRequest struct {
	ServiceID     string `json:"service_id"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	SessionFormat string `json:"session_format"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Notes         string `json:"notes"`
}

type createBookingResponse struct {
	AccessToken string         `json:"access_token"`
	Status      bookings.State `json:"status"`
	Verified    bool           `json:"verified"`
}

// CreateBooking handles POST /providers/{providerID}/bookings.
func (h *PublicBookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	providerID, err := providerParam(r)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	var body createBookingRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	req, err := body.toDomain(providerID)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	res, err := h.bookings.Create(r.Context(), req)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, createBookingResponse{
		AccessToken: res.Booking.AccessToken,
		Status:      res.Booking.State(),
		Verified:    res.Verified,
	})
}

func (b createBookingRequest) toDomain(providerID string) (bookings.CreateRequest, error) {
	if id := strings.TrimSpace(b.ServiceID); id != "" && !bookings.ValidID(id) {
		return bookings.CreateRequest{}, apperr.Validation("service_id must be a UUID")
	}
	date, err := availability.ParseDate(b.Date)
	if err != nil {
		return bookings.CreateRequest{}, apperr.Validation("date must be YYYY-MM-DD")
	}
	start, err := availability.ParseClock(b.StartTime)
	if err != nil {
		return bookings.CreateRequest{}, apperr.Validation("start_time must be HH:MM")
	}
	end, err := availability.ParseClock(b.EndTime)
	if err != nil {
		return bookings.CreateRequest{}, apperr.Validation("end_time must be HH:MM")
	}
	return bookings.CreateRequest{
		ProviderID:    providerID,
		ServiceID:     b.ServiceID,
		Date:          date,
		Start:         start,
		End:           end,
		SessionFormat: b.SessionFormat,
		VisitorName:   b.Name,
		VisitorEmail:  b.Email,
		VisitorPhone:  b.Phone,
		VisitorNotes:  b.Notes,
	}, nil
}

// VerifyBooking handles POST /bookings/verify with {"token": "..."}. The
// emailed link uses GET with ?token=.
func (h *PublicBookingHandler) VerifyBooking(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if r.Method == http.MethodPost {
		var body struct {
			Token string `json:"token"`
		}
		if err := decodeJSON(w, r, &body); err != nil {
			writeAppError(w, r, h.logger, err)
			return
		}
		token = body.Token
	}
	if strings.TrimSpace(token) == "" {
		jsonError(w, "token is required", http.StatusBadRequest)
		return
	}
	res, err := h.bookings.Verify(r.Context(), token)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           res.Booking.State(),
		"access_token":     res.Booking.AccessToken,
		"already_verified": res.AlreadyVerified,
	})
}

// ViewBooking handles GET /bookings/access/{accessToken}.
func (h *PublicBookingHandler) ViewBooking(w http.ResponseWriter, r *http.Request) {
	view, err := h.bookings.View(r.Context(), chi.URLParam(r, "accessToken"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// CancelBooking handles POST /bookings/cancel with {"token": "...", "reason": "..."}.
// The token is the cancellation token from the visitor's emails; the access
// token is rejected.
func (h *PublicBookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token  string `json:"token"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	if strings.TrimSpace(body.Token) == "" {
		jsonError(w, "token is required", http.StatusBadRequest)
		return
	}
	b, err := h.bookings.CancelByVisitor(r.Context(), body.Token, body.Reason)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": b.State()})
}

// providerParam returns the {providerID} path value. Ids that cannot exist
// are reported as an unknown provider.
func providerParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "providerID")
	if !bookings.ValidID(id) {
		return "", apperr.NotFound("provider")
	}
	return id, nil
}

// optionalReason reads {"reason": "..."} when a body is present.
func optionalReason(w http.ResponseWriter, r *http.Request) (string, error) {
	if r.ContentLength == 0 {
		return "", nil
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		return "", err
	}
	return body.Reason, nil
}
