package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/booking-engine/internal/availability"
	"github.com/wolfman30/booking-engine/pkg/logging"
)

// Source is everything the booking engine reads about a provider.
type Source interface {
	GetProvider(ctx context.Context, providerID string) (*Provider, error)
	OverrideForDate(ctx context.Context, providerID string, date availability.Date) (*availability.DateOverride, error)
	OverridesBetween(ctx context.Context, providerID string, from, to availability.Date) ([]availability.DateOverride, error)
	WeeklyRules(ctx context.Context, providerID string, weekday time.Weekday) ([]availability.WeeklyRule, error)
	AllWeeklyRules(ctx context.Context, providerID string) ([]availability.WeeklyRule, error)
}

// CachedStore keeps provider profiles and weekly rules in Redis. Overrides
// are always read through, they change per date and are cheap to query.
type CachedStore struct {
	next   Source
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedStore wraps next. A nil redis client disables caching.
func NewCachedStore(next Source, redisClient *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedStore {
	if next == nil {
		panic("providers: source required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{next: next, redis: redisClient, ttl: ttl, logger: logger}
}

func providerKey(providerID string) string {
	return fmt.Sprintf("booking:provider:%s", providerID)
}

func rulesKey(providerID string) string {
	return fmt.Sprintf("booking:rules:%s", providerID)
}

// GetProvider returns the cached provider, loading it on a miss.
func (c *CachedStore) GetProvider(ctx context.Context, providerID string) (*Provider, error) {
	var cached Provider
	if c.get(ctx, providerKey(providerID), &cached) {
		return &cached, nil
	}
	p, err := c.next.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	c.set(ctx, providerKey(providerID), p)
	return p, nil
}

// AllWeeklyRules returns the cached rules, loading them on a miss.
func (c *CachedStore) AllWeeklyRules(ctx context.Context, providerID string) ([]availability.WeeklyRule, error) {
	var cached []availability.WeeklyRule
	if c.get(ctx, rulesKey(providerID), &cached) {
		return cached, nil
	}
	rules, err := c.next.AllWeeklyRules(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []availability.WeeklyRule{}
	}
	c.set(ctx, rulesKey(providerID), rules)
	return rules, nil
}

// WeeklyRules filters the cached rule set by weekday, keeping stored order.
func (c *CachedStore) WeeklyRules(ctx context.Context, providerID string, weekday time.Weekday) ([]availability.WeeklyRule, error) {
	if c.redis == nil {
		return c.next.WeeklyRules(ctx, providerID, weekday)
	}
	all, err := c.AllWeeklyRules(ctx, providerID)
	if err != nil {
		return nil, err
	}
	out := make([]availability.WeeklyRule, 0, len(all))
	for _, rule := range all {
		if rule.DayOfWeek == weekday {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (c *CachedStore) OverrideForDate(ctx context.Context, providerID string, date availability.Date) (*availability.DateOverride, error) {
	return c.next.OverrideForDate(ctx, providerID, date)
}

func (c *CachedStore) OverridesBetween(ctx context.Context, providerID string, from, to availability.Date) ([]availability.DateOverride, error) {
	return c.next.OverridesBetween(ctx, providerID, from, to)
}

// Invalidate drops the cached entries for a provider.
func (c *CachedStore) Invalidate(ctx context.Context, providerID string) error {
	if c.redis == nil {
		return nil
	}
	if err := c.redis.Del(ctx, providerKey(providerID), rulesKey(providerID)).Err(); err != nil {
		return fmt.Errorf("providers: invalidate cache: %w", err)
	}
	return nil
}

func (c *CachedStore) get(ctx context.Context, key string, dest any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		c.logger.Warn("provider cache read failed", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Warn("provider cache entry corrupt", "key", key, "error", err)
		return false
	}
	return true
}

func (c *CachedStore) set(ctx context.Context, key string, value any) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("provider cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("provider cache write failed", "key", key, "error", err)
	}
}
