package bootstrap

import (
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/booking-engine/internal/audit"
	"github.com/wolfman30/booking-engine/internal/availability"
	"github.com/wolfman30/booking-engine/internal/bookings"
	"github.com/wolfman30/booking-engine/internal/busytime"
	"github.com/wolfman30/booking-engine/internal/calendarsync"
	appconfig "github.com/wolfman30/booking-engine/internal/config"
	"github.com/wolfman30/booking-engine/internal/events"
	"github.com/wolfman30/booking-engine/internal/notify"
	"github.com/wolfman30/booking-engine/internal/observability/metrics"
	"github.com/wolfman30/booking-engine/internal/providers"
	"github.com/wolfman30/booking-engine/internal/verification"
	"github.com/wolfman30/booking-engine/pkg/logging"
)

// EngineDeps are the connections an Engine is built on. DB is required.
type EngineDeps struct {
	DB      bookings.DB
	SQLDB   *sql.DB
	Redis   *redis.Client
	Email   notify.EmailSender
	Metrics *metrics.BookingMetrics
	Logger  *logging.Logger
}

// Engine holds the wired booking services shared by the API and the worker.
type Engine struct {
	Repository *bookings.Repository
	Slots      *bookings.SlotService
	Lifecycle  *bookings.Lifecycle
	Outbox     *events.TransitionOutbox
	Calendars  *calendarsync.Gateway
}

// BuildEngine wires stores, integrations and services from cfg.
func BuildEngine(cfg *appconfig.Config, deps EngineDeps) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("bootstrap: database is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	settings := providers.NewStore(deps.DB)
	providerStore := providers.NewCachedStore(settings, deps.Redis, cfg.ScheduleCacheTTL, logger)
	repo := bookings.NewRepository(deps.DB)

	calendars := BuildCalendarGateway(cfg, deps.Redis, settings, providerStore, logger, deps.Metrics)
	busy := busytime.NewAggregator(repo, calendars, logger, deps.Metrics).
		WithCalendarTimeout(cfg.CalendarFreeBusyTimeout)

	slots := bookings.NewSlotService(
		providerStore,
		availability.NewResolver(providerStore),
		busy,
		availability.NewMonthResolver(providerStore),
		deps.Metrics,
		logger,
	)

	verifier := verification.NewService(repo, verification.NewTrustedStore(deps.DB), logger).
		WithTTL(cfg.VerificationTokenTTL)
	outbox := events.NewTransitionOutbox(deps.DB)

	lifecycleDeps := bookings.LifecycleDeps{
		Store:                repo,
		Providers:            providerStore,
		Slots:                slots,
		Verifier:             verifier,
		Notifier:             notify.NewGateway(deps.Email, logger, deps.Metrics),
		Calendar:             calendars,
		Events:               outbox,
		Metrics:              deps.Metrics,
		Logger:               logger,
		PublicBaseURL:        cfg.PublicBaseURL,
		CalendarEventTimeout: cfg.CalendarEventTimeout,
	}
	if deps.SQLDB != nil {
		lifecycleDeps.Audit = audit.NewService(deps.SQLDB)
	} else {
		logger.Warn("audit database not configured, transition audit disabled")
	}

	return &Engine{
		Repository: repo,
		Slots:      slots,
		Lifecycle:  bookings.NewLifecycle(lifecycleDeps),
		Outbox:     outbox,
		Calendars:  calendars,
	}, nil
}

// BuildCalendarGateway registers the Google and Microsoft integrations when
// credentials can be read from Redis. Without Redis no calendar is consulted.
// A calendar that rejects its credentials is disconnected through
// connections and evicted from cache.
func BuildCalendarGateway(cfg *appconfig.Config, redisClient *redis.Client, connections calendarsync.ConnectionStore, cache calendarsync.CacheInvalidator, logger *logging.Logger, m *metrics.BookingMetrics) *calendarsync.Gateway {
	if redisClient == nil {
		return calendarsync.NewGateway(nil, nil, logger, m)
	}
	creds := calendarsync.NewCredentialStore(redisClient)
	gw := calendarsync.NewGateway(
		calendarsync.NewGoogle(creds, cfg.GoogleCalendarEndpoint, logger),
		calendarsync.NewMicrosoft(creds, cfg.MicrosoftGraphBaseURL, logger),
		logger,
		m,
	)
	if connections != nil {
		gw.WithRevoker(calendarsync.NewDisconnector(creds, connections, cache, logger))
	}
	return gw
}
