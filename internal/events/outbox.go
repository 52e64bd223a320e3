package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/booking-engine/pkg/logging"
)

// DefaultMaxAttempts is how often a transition is offered to the publisher
// before it is parked for manual replay.
const DefaultMaxAttempts = 8

// Transition is a committed booking transition waiting to be published.
type Transition struct {
	ID         uuid.UUID
	BookingID  string
	ProviderID string
	Type       string
	Attempts   int
	Payload    json.RawMessage
	CreatedAt  time.Time
}

// Publisher hands a transition to a downstream transport.
type Publisher interface {
	Publish(ctx context.Context, t Transition) error
}

// DB is the subset of pgxpool.Pool used by the outbox.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TransitionOutbox stores booking transitions in Postgres until a relay
// publishes them. The event id is the row key, so appending the same
// transition twice leaves one row.
type TransitionOutbox struct {
	db          DB
	maxAttempts int
}

// NewTransitionOutbox returns an outbox backed by db.
func NewTransitionOutbox(db DB) *TransitionOutbox {
	if db == nil {
		panic("events: pgx pool required")
	}
	return &TransitionOutbox{db: db, maxAttempts: DefaultMaxAttempts}
}

// Append enqueues ev under its versioned event type.
func (o *TransitionOutbox) Append(ctx context.Context, ev BookingTransitionV1) error {
	id, err := uuid.Parse(ev.EventID)
	if err != nil {
		return fmt.Errorf("events: transition %q has no usable event id: %w", ev.EventID, err)
	}
	if ev.BookingID == "" || ev.Action == "" {
		return errors.New("events: transition needs a booking and an action")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal transition: %w", err)
	}
	_, err = o.db.Exec(ctx, `
		INSERT INTO outbox (id, booking_id, provider_id, type, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, id, ev.BookingID, ev.ProviderID, BookingEventType(ev.Action), data)
	if err != nil {
		return fmt.Errorf("events: append %s for booking %s: %w", ev.Action, ev.BookingID, err)
	}
	return nil
}

// Due returns unpublished transitions that still have attempts left, in the
// order they were committed.
func (o *TransitionOutbox) Due(ctx context.Context, limit int) ([]Transition, error) {
	rows, err := o.db.Query(ctx, `
		SELECT id, booking_id, provider_id, type, attempts, payload, created_at
		FROM outbox
		WHERE delivered_at IS NULL AND attempts < $1
		ORDER BY created_at, id
		LIMIT $2
	`, o.maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("events: load due transitions: %w", err)
	}
	defer rows.Close()

	var due []Transition
	for rows.Next() {
		var t Transition
		var payload []byte
		if err := rows.Scan(&t.ID, &t.BookingID, &t.ProviderID, &t.Type, &t.Attempts, &payload, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan transition: %w", err)
		}
		t.Payload = append(json.RawMessage(nil), payload...)
		due = append(due, t)
	}
	return due, rows.Err()
}

// Acknowledge marks a transition as published.
func (o *TransitionOutbox) Acknowledge(ctx context.Context, id uuid.UUID) error {
	if _, err := o.db.Exec(ctx, `UPDATE outbox SET delivered_at = now() WHERE id = $1 AND delivered_at IS NULL`, id); err != nil {
		return fmt.Errorf("events: acknowledge %s: %w", id, err)
	}
	return nil
}

// Retry records a failed publish and returns the attempt count so far.
func (o *TransitionOutbox) Retry(ctx context.Context, id uuid.UUID, cause error) (int, error) {
	var attempts int
	err := o.db.QueryRow(ctx, `
		UPDATE outbox SET attempts = attempts + 1, last_error = $2
		WHERE id = $1
		RETURNING attempts
	`, id, cause.Error()).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("events: record failed publish of %s: %w", id, err)
	}
	return attempts, nil
}

// Relay drains the outbox into a Publisher on a fixed interval.
type Relay struct {
	outbox    *TransitionOutbox
	publisher Publisher
	logger    *logging.Logger
	batch     int
	every     time.Duration
}

// NewRelay builds a relay. A non-positive every falls back to two seconds.
func NewRelay(outbox *TransitionOutbox, publisher Publisher, logger *logging.Logger, every time.Duration) *Relay {
	if logger == nil {
		logger = logging.Default()
	}
	if every <= 0 {
		every = 2 * time.Second
	}
	return &Relay{outbox: outbox, publisher: publisher, logger: logger, batch: 25, every: every}
}

// Run flushes until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	if r.outbox == nil || r.publisher == nil {
		return
	}
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil {
				r.logger.Error("outbox flush failed", "error", err)
			}
		}
	}
}

// Flush publishes one batch and returns how many transitions went out.
// Once a transition of a booking fails, the rest of that booking's
// transitions wait for the next flush so consumers see them in order.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	due, err := r.outbox.Due(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	held := map[string]bool{}
	sent := 0
	for _, t := range due {
		if held[t.BookingID] {
			continue
		}
		if err := r.publisher.Publish(ctx, t); err != nil {
			held[t.BookingID] = true
			r.retry(ctx, t, err)
			continue
		}
		if err := r.outbox.Acknowledge(ctx, t.ID); err != nil {
			// published but not acknowledged; the SQS dedup id absorbs the resend
			held[t.BookingID] = true
			r.logger.Error("outbox acknowledge failed", "event_id", t.ID, "error", err)
			continue
		}
		sent++
		r.logger.Debug("transition published", "event_id", t.ID, "booking_id", t.BookingID, "type", t.Type)
	}
	return sent, nil
}

func (r *Relay) retry(ctx context.Context, t Transition, cause error) {
	attempts, err := r.outbox.Retry(ctx, t.ID, cause)
	if err != nil {
		r.logger.Error("outbox retry bookkeeping failed", "event_id", t.ID, "error", err)
		return
	}
	if attempts >= r.outbox.maxAttempts {
		r.logger.Error("transition parked after repeated publish failures",
			"event_id", t.ID, "booking_id", t.BookingID, "type", t.Type, "attempts", attempts, "error", cause)
		return
	}
	r.logger.Warn("transition publish failed", "event_id", t.ID, "booking_id", t.BookingID, "attempts", attempts, "error", cause)
}
