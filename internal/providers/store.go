package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/booking-engine/internal/apperr"
	"github.com/wolfman30/booking-engine/internal/availability"
)

// DB is the subset of pgxpool.Pool used by the store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads provider profiles and recurrence data from Postgres.
type Store struct {
	db DB
}

// NewStore creates a store backed by db.
func NewStore(db DB) *Store {
	if db == nil {
		panic("providers: db required")
	}
	return &Store{db: db}
}

const providerQuery = `
	SELECT p.id::text, p.display_name, p.email,
		s.slot_duration_minutes, s.buffer_minutes, s.min_notice_hours, s.max_days_ahead,
		s.timezone, s.online_booking_enabled,
		s.google_calendar_connected, s.microsoft_calendar_connected
	FROM providers p
	JOIN provider_schedule_settings s ON s.provider_id = p.id
	WHERE p.id = $1
`

// GetProvider returns the provider with its schedule settings. Ids that are
// not UUIDs cannot exist and are reported as not found.
func (s *Store) GetProvider(ctx context.Context, providerID string) (*Provider, error) {
	if _, err := uuid.Parse(providerID); err != nil {
		return nil, apperr.NotFound("provider")
	}
	var p Provider
	err := s.db.QueryRow(ctx, providerQuery, providerID).Scan(
		&p.ID, &p.DisplayName, &p.Email,
		&p.Schedule.SlotDurationMinutes, &p.Schedule.BufferMinutes,
		&p.Schedule.MinNoticeHours, &p.Schedule.MaxDaysAhead,
		&p.Schedule.Timezone, &p.Schedule.OnlineBookingEnabled,
		&p.Schedule.GoogleCalendarConnected, &p.Schedule.MicrosoftCalendarConnected,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("provider")
	}
	if err != nil {
		return nil, fmt.Errorf("providers: get provider: %w", err)
	}
	return &p, nil
}

// SetCalendarConnected flips the connection flag for a calendar kind.
func (s *Store) SetCalendarConnected(ctx context.Context, providerID string, kind CalendarKind, connected bool) error {
	var column string
	switch kind {
	case CalendarGoogle:
		column = "google_calendar_connected"
	case CalendarMicrosoft:
		column = "microsoft_calendar_connected"
	default:
		return apperr.Validation("unknown calendar kind %q", kind)
	}
	query := fmt.Sprintf(`UPDATE provider_schedule_settings SET %s = $2, updated_at = now() WHERE provider_id = $1`, column)
	ct, err := s.db.Exec(ctx, query, providerID, connected)
	if err != nil {
		return fmt.Errorf("providers: set calendar connected: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("provider")
	}
	return nil
}

const overrideColumns = `id::text, provider_id::text, override_date, is_available,
	COALESCE(start_time::text, ''), COALESCE(end_time::text, '')`

// OverrideForDate returns the override for date or nil.
func (s *Store) OverrideForDate(ctx context.Context, providerID string, date availability.Date) (*availability.DateOverride, error) {
	query := `SELECT ` + overrideColumns + `
		FROM availability_overrides
		WHERE provider_id = $1 AND override_date = $2`
	override, err := scanOverride(s.db.QueryRow(ctx, query, providerID, date.Time()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("providers: get override: %w", err)
	}
	return override, nil
}

// OverridesBetween returns every override in the inclusive date range.
func (s *Store) OverridesBetween(ctx context.Context, providerID string, from, to availability.Date) ([]availability.DateOverride, error) {
	query := `SELECT ` + overrideColumns + `
		FROM availability_overrides
		WHERE provider_id = $1 AND override_date BETWEEN $2 AND $3
		ORDER BY override_date`
	rows, err := s.db.Query(ctx, query, providerID, from.Time(), to.Time())
	if err != nil {
		return nil, fmt.Errorf("providers: list overrides: %w", err)
	}
	defer rows.Close()

	var out []availability.DateOverride
	for rows.Next() {
		override, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("providers: scan override: %w", err)
		}
		out = append(out, *override)
	}
	return out, rows.Err()
}

// WeeklyRules returns the rules for a weekday in stored order.
func (s *Store) WeeklyRules(ctx context.Context, providerID string, weekday time.Weekday) ([]availability.WeeklyRule, error) {
	query := `SELECT id::text, provider_id::text, day_of_week, start_time::text, end_time::text, is_active, position
		FROM weekly_availability
		WHERE provider_id = $1 AND day_of_week = $2
		ORDER BY position, id`
	return s.queryRules(ctx, query, providerID, int(weekday))
}

// AllWeeklyRules returns every rule of the provider in stored order.
func (s *Store) AllWeeklyRules(ctx context.Context, providerID string) ([]availability.WeeklyRule, error) {
	query := `SELECT id::text, provider_id::text, day_of_week, start_time::text, end_time::text, is_active, position
		FROM weekly_availability
		WHERE provider_id = $1
		ORDER BY day_of_week, position, id`
	return s.queryRules(ctx, query, providerID)
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]availability.WeeklyRule, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("providers: list weekly rules: %w", err)
	}
	defer rows.Close()

	var out []availability.WeeklyRule
	for rows.Next() {
		var (
			rule       availability.WeeklyRule
			day        int
			start, end string
		)
		if err := rows.Scan(&rule.ID, &rule.ProviderID, &day, &start, &end, &rule.Active, &rule.Position); err != nil {
			return nil, fmt.Errorf("providers: scan weekly rule: %w", err)
		}
		if day < 0 || day > 6 {
			return nil, fmt.Errorf("providers: weekly rule %s: invalid day_of_week %d", rule.ID, day)
		}
		rule.DayOfWeek = time.Weekday(day)
		if rule.Start, err = availability.ParseClock(start); err != nil {
			return nil, fmt.Errorf("providers: weekly rule %s: %w", rule.ID, err)
		}
		if rule.End, err = availability.ParseClock(end); err != nil {
			return nil, fmt.Errorf("providers: weekly rule %s: %w", rule.ID, err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func scanOverride(row pgx.Row) (*availability.DateOverride, error) {
	var (
		o          availability.DateOverride
		day        time.Time
		start, end string
	)
	if err := row.Scan(&o.ID, &o.ProviderID, &day, &o.IsAvailable, &start, &end); err != nil {
		return nil, err
	}
	o.Date = availability.DateOf(day, time.UTC)
	var err error
	if o.Start, err = optionalClock(start); err != nil {
		return nil, err
	}
	if o.End, err = optionalClock(end); err != nil {
		return nil, err
	}
	return &o, nil
}

func optionalClock(raw string) (*availability.Clock, error) {
	if raw == "" {
		return nil, nil
	}
	c, err := availability.ParseClock(raw)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
