package providers

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/booking-engine/internal/availability"
)

type countingSource struct {
	provider      *Provider
	rules         []availability.WeeklyRule
	providerCalls int
	ruleCalls     int
}

func (c *countingSource) GetProvider(context.Context, string) (*Provider, error) {
	c.providerCalls++
	return c.provider, nil
}

func (c *countingSource) OverrideForDate(context.Context, string, availability.Date) (*availability.DateOverride, error) {
	return nil, nil
}

func (c *countingSource) OverridesBetween(context.Context, string, availability.Date, availability.Date) ([]availability.DateOverride, error) {
	return nil, nil
}

func (c *countingSource) WeeklyRules(_ context.Context, _ string, weekday time.Weekday) ([]availability.WeeklyRule, error) {
	var out []availability.WeeklyRule
	for _, r := range c.rules {
		if r.DayOfWeek == weekday {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *countingSource) AllWeeklyRules(context.Context, string) ([]availability.WeeklyRule, error) {
	c.ruleCalls++
	return c.rules, nil
}

func newCache(t *testing.T, src Source) (*CachedStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCachedStore(src, client, time.Minute, nil), mr
}

func TestCachedStoreCachesProvider(t *testing.T) {
	src := &countingSource{provider: &Provider{ID: "prov-1", DisplayName: "Dr. Reyes", Schedule: ScheduleConfig{Timezone: "UTC"}}}
	cache, mr := newCache(t, src)
	ctx := context.Background()

	first, err := cache.GetProvider(ctx, "prov-1")
	require.NoError(t, err)
	second, err := cache.GetProvider(ctx, "prov-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, src.providerCalls)
	assert.True(t, mr.Exists("booking:provider:prov-1"))

	mr.FastForward(2 * time.Minute)
	_, err = cache.GetProvider(ctx, "prov-1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.providerCalls)
}

func TestCachedStoreFiltersRulesByWeekday(t *testing.T) {
	src := &countingSource{rules: []availability.WeeklyRule{
		{ID: "r-2", DayOfWeek: time.Monday, Start: "13:00", End: "17:00", Active: true},
		{ID: "r-1", DayOfWeek: time.Monday, Start: "09:00", End: "12:00", Active: true},
		{ID: "r-3", DayOfWeek: time.Friday, Start: "09:00", End: "12:00", Active: true},
	}}
	cache, _ := newCache(t, src)
	ctx := context.Background()

	monday, err := cache.WeeklyRules(ctx, "prov-1", time.Monday)
	require.NoError(t, err)
	require.Len(t, monday, 2)
	assert.Equal(t, "r-2", monday[0].ID)

	friday, err := cache.WeeklyRules(ctx, "prov-1", time.Friday)
	require.NoError(t, err)
	assert.Len(t, friday, 1)
	assert.Equal(t, 1, src.ruleCalls)
}

func TestCachedStoreInvalidate(t *testing.T) {
	src := &countingSource{provider: &Provider{ID: "prov-1"}}
	cache, mr := newCache(t, src)
	ctx := context.Background()

	_, err := cache.GetProvider(ctx, "prov-1")
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, "prov-1"))
	assert.False(t, mr.Exists("booking:provider:prov-1"))

	_, err = cache.GetProvider(ctx, "prov-1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.providerCalls)
}

func TestCachedStoreWithoutRedis(t *testing.T) {
	src := &countingSource{provider: &Provider{ID: "prov-1"}}
	cache := NewCachedStore(src, nil, 0, nil)

	_, err := cache.GetProvider(context.Background(), "prov-1")
	require.NoError(t, err)
	_, err = cache.GetProvider(context.Background(), "prov-1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.providerCalls)
	assert.NoError(t, cache.Invalidate(context.Background(), "prov-1"))
}

func TestCachedStoreIgnoresCorruptEntries(t *testing.T) {
	src := &countingSource{provider: &Provider{ID: "prov-1"}}
	cache, mr := newCache(t, src)
	require.NoError(t, mr.Set("booking:provider:prov-1", "{not json"))

	p, err := cache.GetProvider(context.Background(), "prov-1")
	require.NoError(t, err)
	assert.Equal(t, "prov-1", p.ID)
	assert.Equal(t, 1, src.providerCalls)
}
