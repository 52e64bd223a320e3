package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/booking-engine/internal/apperr"
	"github.com/wolfman30/booking-engine/internal/availability"
	"github.com/wolfman30/booking-engine/internal/verification"
)

const (
	uniqueViolation = "23505"
	activeSlotIndex = "bookings_active_slot_idx"
)

// DB is the subset of pgxpool.Pool used by the repository.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides persistence helpers for bookings.
type Repository struct {
	db DB
}

// NewRepository creates a repository backed by db.
func NewRepository(db DB) *Repository {
	if db == nil {
		panic("bookings: pgx pool required")
	}
	return &Repository{db: db}
}

const bookingColumns = `id::text, provider_id::text, COALESCE(service_id::text, ''), booking_date,
	start_time::text, end_time::text, duration_minutes, session_format,
	visitor_name, visitor_email, COALESCE(visitor_phone, ''), COALESCE(visitor_notes, ''),
	status, is_verified, COALESCE(verification_token, ''), verification_expires_at, access_token,
	cancel_token, confirmed_at, cancelled_at, COALESCE(cancelled_by, ''), COALESCE(cancellation_reason, ''),
	completed_at, no_show_at, COALESCE(calendar_event_id, ''), created_at, updated_at`

// Create inserts a pending booking in its own transaction. A conflict on the
// active slot index reports ErrSlotUnavailable.
func (r *Repository) Create(ctx context.Context, b *Booking) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("bookings: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query := `
		INSERT INTO bookings (
			id, provider_id, service_id, booking_date, start_time, end_time, duration_minutes,
			session_format, visitor_name, visitor_email, visitor_phone, visitor_notes,
			status, is_verified, verification_token, verification_expires_at, access_token, cancel_token
		) VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5::time, $6::time, $7, $8, $9, $10,
			NULLIF($11, ''), NULLIF($12, ''), $13, $14, NULLIF($15, ''), $16, $17, $18)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		b.ID, b.ProviderID, b.ServiceID, b.Date.Time(), string(b.Start), string(b.End), b.DurationMinutes,
		b.SessionFormat, b.VisitorName, b.VisitorEmail, b.VisitorPhone, b.VisitorNotes,
		string(b.Status), b.IsVerified, b.VerificationToken, b.VerificationExpiresAt, b.AccessToken, b.CancelToken,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == activeSlotIndex {
			return fmt.Errorf("%w: %s %s-%s was just taken", apperr.ErrSlotUnavailable, b.Date, b.Start, b.End)
		}
		return fmt.Errorf("bookings: insert: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("bookings: commit: %w", err)
	}
	return nil
}

// Get loads a booking by id. An id that is not a UUID is reported as not
// found instead of reaching the uuid column.
func (r *Repository) Get(ctx context.Context, bookingID string) (*Booking, error) {
	if !ValidID(bookingID) {
		return nil, apperr.NotFound("booking")
	}
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingID)
}

// GetByAccessToken loads a booking by its visitor access token.
func (r *Repository) GetByAccessToken(ctx context.Context, accessToken string) (*Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE access_token = $1`, accessToken)
}

// GetByCancelToken loads a booking by the cancellation token emailed to the
// visitor.
func (r *Repository) GetByCancelToken(ctx context.Context, cancelToken string) (*Booking, error) {
	return r.getOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE cancel_token = $1`, cancelToken)
}

func (r *Repository) getOne(ctx context.Context, query string, arg any) (*Booking, error) {
	b, err := scanBooking(r.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("booking")
	}
	if err != nil {
		return nil, fmt.Errorf("bookings: load: %w", err)
	}
	return b, nil
}

// ListForProviderDate returns all bookings on a date ordered by start time.
func (r *Repository) ListForProviderDate(ctx context.Context, providerID string, date availability.Date) ([]Booking, error) {
	if !ValidID(providerID) {
		return nil, apperr.NotFound("provider")
	}
	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE provider_id = $1 AND booking_date = $2
		ORDER BY start_time, created_at`
	rows, err := r.db.Query(ctx, query, providerID, date.Time())
	if err != nil {
		return nil, fmt.Errorf("bookings: list: %w", err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("bookings: scan: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// BusyForDate projects pending and confirmed bookings to time-of-day intervals.
func (r *Repository) BusyForDate(ctx context.Context, providerID string, date availability.Date) ([]availability.Interval, error) {
	query := `
		SELECT start_time::text, end_time::text
		FROM bookings
		WHERE provider_id = $1 AND booking_date = $2 AND status IN ('pending', 'confirmed')
		ORDER BY start_time
	`
	rows, err := r.db.Query(ctx, query, providerID, date.Time())
	if err != nil {
		return nil, fmt.Errorf("bookings: busy intervals: %w", err)
	}
	defer rows.Close()

	out := []availability.Interval{}
	for rows.Next() {
		var start, end string
		if err := rows.Scan(&start, &end); err != nil {
			return nil, fmt.Errorf("bookings: scan busy interval: %w", err)
		}
		var iv availability.Interval
		if iv.Start, err = availability.ParseClock(start); err != nil {
			return nil, fmt.Errorf("bookings: busy interval: %w", err)
		}
		if iv.End, err = availability.ParseClock(end); err != nil {
			return nil, fmt.Errorf("bookings: busy interval: %w", err)
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

// FindByVerificationToken resolves a live or already redeemed token.
func (r *Repository) FindByVerificationToken(ctx context.Context, token string) (*verification.TokenRecord, error) {
	query := `
		SELECT id::text, visitor_email, is_verified, status, verification_expires_at
		FROM bookings
		WHERE verification_token = $1 OR consumed_verification_token = $1
		LIMIT 1
	`
	var (
		rec    verification.TokenRecord
		status string
	)
	err := r.db.QueryRow(ctx, query, token).Scan(&rec.BookingID, &rec.VisitorEmail, &rec.IsVerified, &status, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bookings: find verification token: %w", err)
	}
	rec.Pending = Status(status) == StatusPending
	return &rec, nil
}

// MarkVerified redeems the token on an unverified pending booking.
func (r *Repository) MarkVerified(ctx context.Context, bookingID, token string) (bool, error) {
	query := `
		UPDATE bookings
		SET is_verified = true,
			consumed_verification_token = verification_token,
			verification_token = NULL,
			verification_expires_at = NULL,
			updated_at = now()
		WHERE id = $1 AND status = 'pending' AND is_verified = false AND verification_token = $2
	`
	ct, err := r.db.Exec(ctx, query, bookingID, token)
	if err != nil {
		return false, fmt.Errorf("bookings: mark verified: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// TransitionUpdate moves a booking from one state to the next.
type TransitionUpdate struct {
	BookingID string
	From      State
	To        State
	At        time.Time
	Actor     string
	Reason    string
}

// ApplyTransition writes the update only if the row is still in From. It
// reports false when the precondition no longer holds.
func (r *Repository) ApplyTransition(ctx context.Context, u TransitionUpdate) (bool, error) {
	fromStatus, fromVerified := u.From.Stored()
	toStatus, _ := u.To.Stored()

	var set string
	args := []any{u.BookingID, string(fromStatus), fromVerified, string(toStatus), u.At}
	switch u.To {
	case StateConfirmed:
		set = "confirmed_at = $5"
	case StateCancelled:
		set = "cancelled_at = $5, cancelled_by = $6, cancellation_reason = NULLIF($7, '')"
		args = append(args, u.Actor, u.Reason)
	case StateCompleted:
		set = "completed_at = $5"
	case StateNoShow:
		set = "no_show_at = $5"
	default:
		return false, fmt.Errorf("bookings: no stored transition to %s", u.To)
	}

	query := `UPDATE bookings SET status = $4, ` + set + `, updated_at = now()
		WHERE id = $1 AND status = $2 AND is_verified = $3`
	ct, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("bookings: apply %s: %w", u.To, err)
	}
	return ct.RowsAffected() == 1, nil
}

// SetCalendarEventID stores the external event created on confirmation.
func (r *Repository) SetCalendarEventID(ctx context.Context, bookingID, eventID string) error {
	_, err := r.db.Exec(ctx, `UPDATE bookings SET calendar_event_id = $2, updated_at = now() WHERE id = $1`, bookingID, eventID)
	if err != nil {
		return fmt.Errorf("bookings: set calendar event: %w", err)
	}
	return nil
}

// ListDueForCompletion returns confirmed bookings whose end instant, in the
// provider's zone, is before cutoff.
func (r *Repository) ListDueForCompletion(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	query := `
		SELECT b.id::text
		FROM bookings b
		JOIN provider_schedule_settings s ON s.provider_id = b.provider_id
		WHERE b.status = 'confirmed'
			AND ((b.booking_date + b.end_time) AT TIME ZONE s.timezone) < $1
		ORDER BY b.booking_date, b.end_time
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("bookings: list due: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("bookings: scan due: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b          Booking
		day        time.Time
		start, end string
		status     string
	)
	err := row.Scan(
		&b.ID, &b.ProviderID, &b.ServiceID, &day,
		&start, &end, &b.DurationMinutes, &b.SessionFormat,
		&b.VisitorName, &b.VisitorEmail, &b.VisitorPhone, &b.VisitorNotes,
		&status, &b.IsVerified, &b.VerificationToken, &b.VerificationExpiresAt, &b.AccessToken,
		&b.CancelToken, &b.ConfirmedAt, &b.CancelledAt, &b.CancelledBy, &b.CancellationReason,
		&b.CompletedAt, &b.NoShowAt, &b.CalendarEventID, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Date = availability.DateOf(day, time.UTC)
	b.Status = Status(status)
	if b.Start, err = availability.ParseClock(start); err != nil {
		return nil, err
	}
	if b.End, err = availability.ParseClock(end); err != nil {
		return nil, err
	}
	return &b, nil
}
