package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/booking-engine/internal/apperr"
	"github.com/wolfman30/booking-engine/internal/audit"
	"github.com/wolfman30/booking-engine/internal/availability"
	"github.com/wolfman30/booking-engine/internal/bookings"
	"github.com/wolfman30/booking-engine/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/booking-engine/internal/http/middleware"
	"github.com/wolfman30/booking-engine/pkg/logging"
)

const (
	routerProviderID = "3c1a9f6e-2b4d-4e8f-a1c3-5d7e9f0a2b4c"
	routerBookingID  = "e4b2c6d8-1f3a-4c5e-9b7d-2a4c6e8f0a1b"
)

type stubSlots struct{}

func (stubSlots) Slots(_ context.Context, providerID string, date availability.Date) (*bookings.SlotListing, error) {
	return &bookings.SlotListing{ProviderID: providerID, Date: date, Slots: []availability.Slot{{Start: "09:00", End: "09:30"}}}, nil
}

func (stubSlots) Month(context.Context, string, int, time.Month) ([]availability.DayIndicator, error) {
	return nil, nil
}

type stubLifecycle struct{}

func (stubLifecycle) Create(context.Context, bookings.CreateRequest) (*bookings.CreateResult, error) {
	return &bookings.CreateResult{Booking: &bookings.Booking{AccessToken: "acc", Status: bookings.StatusPending}}, nil
}

func (stubLifecycle) Verify(context.Context, string) (*bookings.VerifyResult, error) {
	return nil, apperr.NotFound("verification token")
}

func (stubLifecycle) View(context.Context, string) (*bookings.VisitorView, error) {
	return nil, apperr.NotFound("booking")
}

func (stubLifecycle) CancelByVisitor(_ context.Context, token, _ string) (*bookings.Booking, error) {
	if token != "cxl" {
		return nil, apperr.NotFound("booking")
	}
	return &bookings.Booking{Status: bookings.StatusCancelled, CancelledBy: bookings.ActorVisitor}, nil
}

func (stubLifecycle) ListForProvider(context.Context, string, availability.Date) ([]bookings.Booking, error) {
	return nil, nil
}

func (stubLifecycle) Confirm(_ context.Context, providerID, bookingID string) (*bookings.Booking, error) {
	return &bookings.Booking{ID: bookingID, ProviderID: providerID, Status: bookings.StatusConfirmed}, nil
}

func (stubLifecycle) CancelByProvider(context.Context, string, string, string) (*bookings.Booking, error) {
	return nil, apperr.NotFound("booking")
}

func (stubLifecycle) Complete(context.Context, string, string) (*bookings.Booking, error) {
	return nil, apperr.NotFound("booking")
}

func (stubLifecycle) NoShow(context.Context, string, string) (*bookings.Booking, error) {
	return nil, apperr.NotFound("booking")
}

func (stubLifecycle) History(_ context.Context, providerID, bookingID string) ([]audit.Event, error) {
	return []audit.Event{{BookingID: bookingID, ProviderID: providerID, Action: "create", ToState: "pending_verified", Actor: "visitor"}}, nil
}

func newTestRouter(t *testing.T, mutate func(*Config)) http.Handler {
	t.Helper()
	logger := logging.Default()
	cfg := &Config{
		Logger:            logger,
		PublicBookings:    handlers.NewPublicBookingHandler(stubSlots{}, stubLifecycle{}, logger),
		ProviderBookings:  handlers.NewProviderBookingHandler(stubLifecycle{}, logger),
		ProviderJWTSecret: "secret",
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
	}
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg)
}

func serve(h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthEndpoint(t *testing.T) {
	rr := serve(newTestRouter(t, nil), http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterHealthReportsDegraded(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) {
		cfg.Ready = func(context.Context) error { return errors.New("db unreachable") }
	})
	rr := serve(router, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	rr := serve(newTestRouter(t, nil), http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "# metrics") {
		t.Fatalf("expected metrics output, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestRouterPublicSlots(t *testing.T) {
	rr := serve(newTestRouter(t, nil), http.MethodGet, "/providers/"+routerProviderID+"/slots?date=2026-10-20", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"provider_id":"`+routerProviderID+`"`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func providerBearer(t *testing.T) map[string]string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   routerProviderID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + signed}
}

func TestRouterProviderRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := serve(router, http.MethodPost, "/provider/bookings/"+routerBookingID+"/confirm", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}

	rr = serve(router, http.MethodPost, "/provider/bookings/"+routerBookingID+"/confirm", "", providerBearer(t))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"status":"confirmed"`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestRouterRateLimitsBookingSubmission(t *testing.T) {
	router := newTestRouter(t, func(cfg *Config) {
		cfg.BookingLimiter = httpmiddleware.NewRateLimiter(0, 1)
	})
	body := `{"date":"2026-10-20","start_time":"09:00","end_time":"09:30","name":"Ada","email":"ada@example.com"}`
	headers := map[string]string{"Content-Type": "application/json", "X-Real-Ip": "203.0.113.9"}

	if rr := serve(router, http.MethodPost, "/providers/"+routerProviderID+"/bookings", body, headers); rr.Code != http.StatusCreated {
		t.Fatalf("expected first submission to succeed, got %d", rr.Code)
	}
	if rr := serve(router, http.MethodPost, "/providers/"+routerProviderID+"/bookings", body, headers); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status %d, got %d", http.StatusTooManyRequests, rr.Code)
	}
	if rr := serve(router, http.MethodGet, "/providers/"+routerProviderID+"/slots?date=2026-10-20", "", headers); rr.Code != http.StatusOK {
		t.Fatalf("slot listing should not be rate limited, got %d", rr.Code)
	}
}

func TestRouterUnknownAccessToken(t *testing.T) {
	rr := serve(newTestRouter(t, nil), http.MethodGet, "/bookings/access/nope", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rr.Code)
	}
}

func TestRouterBookingHistory(t *testing.T) {
	router := newTestRouter(t, nil)
	rr := serve(router, http.MethodGet, "/provider/bookings/"+routerBookingID+"/history", "", providerBearer(t))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"action":"create"`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestRouterVisitorCancelUsesCancelToken(t *testing.T) {
	router := newTestRouter(t, nil)
	headers := map[string]string{"Content-Type": "application/json"}

	if rr := serve(router, http.MethodPost, "/bookings/access/acc/cancel", `{}`, headers); rr.Code != http.StatusNotFound && rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("access token cancel route should not exist, got %d", rr.Code)
	}
	if rr := serve(router, http.MethodPost, "/bookings/cancel", `{"token":"acc"}`, headers); rr.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rr.Code)
	}
	rr := serve(router, http.MethodPost, "/bookings/cancel", `{"token":"cxl","reason":"travel"}`, headers)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"cancelled"`) {
		t.Fatalf("expected cancellation, got %d %s", rr.Code, rr.Body.String())
	}
}
