package calendarsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/booking-engine/internal/providers"
)

// ErrNoCredentials is returned when a provider has no stored calendar access.
var ErrNoCredentials = errors.New("calendarsync: no credentials")

// Credentials is the access a provider granted to an external calendar.
// Token acquisition and refresh happen elsewhere; this package reads them and
// deletes them once the calendar rejects them.
type Credentials struct {
	AccessToken string    `json:"access_token"`
	Expiry      time.Time `json:"expiry,omitempty"`
	CalendarID  string    `json:"calendar_id,omitempty"`
}

// CredentialSource looks up stored credentials.
type CredentialSource interface {
	Get(ctx context.Context, kind providers.CalendarKind, providerID string) (*Credentials, error)
}

// CredentialStore keeps calendar credentials in Redis.
type CredentialStore struct {
	redis *redis.Client
}

func NewCredentialStore(redisClient *redis.Client) *CredentialStore {
	return &CredentialStore{redis: redisClient}
}

func (s *CredentialStore) key(kind providers.CalendarKind, providerID string) string {
	return fmt.Sprintf("calendar:credentials:%s:%s", kind, providerID)
}

// Get returns ErrNoCredentials when nothing is stored or the token has expired.
func (s *CredentialStore) Get(ctx context.Context, kind providers.CalendarKind, providerID string) (*Credentials, error) {
	data, err := s.redis.Get(ctx, s.key(kind, providerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("calendarsync: get credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("calendarsync: unmarshal credentials: %w", err)
	}
	if creds.AccessToken == "" {
		return nil, ErrNoCredentials
	}
	if !creds.Expiry.IsZero() && time.Now().After(creds.Expiry) {
		return nil, fmt.Errorf("%w: access token expired", ErrNoCredentials)
	}
	return &creds, nil
}

// Delete removes the credentials of a revoked grant.
func (s *CredentialStore) Delete(ctx context.Context, kind providers.CalendarKind, providerID string) error {
	if err := s.redis.Del(ctx, s.key(kind, providerID)).Err(); err != nil {
		return fmt.Errorf("calendarsync: delete credentials: %w", err)
	}
	return nil
}
