package calendarsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/booking-engine/internal/providers"
	"github.com/wolfman30/booking-engine/pkg/logging"
)

// ErrUnauthorized marks a call the calendar rejected because the provider's
// grant is no longer valid.
var ErrUnauthorized = errors.New("calendarsync: credentials rejected")

// ConnectionStore persists the connected flag on a provider's schedule.
// *providers.Store implements it.
type ConnectionStore interface {
	SetCalendarConnected(ctx context.Context, providerID string, kind providers.CalendarKind, connected bool) error
}

// CacheInvalidator drops cached provider settings. *providers.CachedStore
// implements it.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, providerID string) error
}

// Disconnector forgets a calendar whose grant was revoked so availability and
// confirmations stop calling it until the provider reconnects.
type Disconnector struct {
	creds       *CredentialStore
	connections ConnectionStore
	cache       CacheInvalidator
	logger      *logging.Logger
}

// NewDisconnector wires the stores touched on revocation. cache may be nil.
func NewDisconnector(creds *CredentialStore, connections ConnectionStore, cache CacheInvalidator, logger *logging.Logger) *Disconnector {
	if creds == nil || connections == nil {
		panic("calendarsync: credential and connection stores required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Disconnector{creds: creds, connections: connections, cache: cache, logger: logger}
}

// Disconnect deletes the stored credentials, clears the connected flag and
// evicts the cached provider. Every step runs even if an earlier one fails.
func (d *Disconnector) Disconnect(ctx context.Context, kind providers.CalendarKind, providerID string) error {
	var errs []error
	if err := d.creds.Delete(ctx, kind, providerID); err != nil {
		errs = append(errs, err)
	}
	if err := d.connections.SetCalendarConnected(ctx, providerID, kind, false); err != nil {
		errs = append(errs, fmt.Errorf("calendarsync: clear connection: %w", err))
	}
	if d.cache != nil {
		if err := d.cache.Invalidate(ctx, providerID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	d.logger.Info("calendar disconnected after rejected credentials", "calendar", kind, "provider_id", providerID)
	return nil
}
