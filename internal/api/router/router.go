package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/booking-engine/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/booking-engine/internal/http/middleware"
	"github.com/wolfman30/booking-engine/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	PublicBookings     *handlers.PublicBookingHandler
	ProviderBookings   *handlers.ProviderBookingHandler
	ProviderJWTSecret  string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// BookingLimiter throttles booking submission per client. Nil disables it.
	BookingLimiter *httpmiddleware.RateLimiter

	// Ready reports dependency health for /health. Nil always reports ok.
	Ready func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthHandler(cfg.Ready))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if pb := cfg.PublicBookings; pb != nil {
		r.Route("/providers/{providerID}", func(p chi.Router) {
			p.Get("/slots", pb.ListSlots)
			p.Get("/availability", pb.MonthAvailability)
			create := p.With()
			if cfg.BookingLimiter != nil {
				create = p.With(httpmiddleware.RateLimit(cfg.BookingLimiter))
			}
			create.Post("/bookings", pb.CreateBooking)
		})
		r.Route("/bookings", func(b chi.Router) {
			b.Get("/verify", pb.VerifyBooking)
			b.Post("/verify", pb.VerifyBooking)
			b.Get("/access/{accessToken}", pb.ViewBooking)
			b.Post("/cancel", pb.CancelBooking)
		})
	}

	if prov := cfg.ProviderBookings; prov != nil {
		r.Route("/provider/bookings", func(p chi.Router) {
			p.Use(httpmiddleware.ProviderJWT(cfg.ProviderJWTSecret))
			p.Get("/", prov.ListBookings)
			p.Post("/{bookingID}/confirm", prov.Confirm)
			p.Post("/{bookingID}/cancel", prov.Cancel)
			p.Post("/{bookingID}/complete", prov.Complete)
			p.Post("/{bookingID}/no-show", prov.NoShow)
			p.Get("/{bookingID}/history", prov.History)
		})
	}

	return r
}

func healthHandler(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}
