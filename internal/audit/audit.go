// Package audit keeps an append-only trail of booking lifecycle transitions.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Event is one recorded transition. SideEffects lists best-effort follow-ups
// and their outcome, e.g. "notify:sent".
type Event struct {
	ID          string          `json:"id"`
	BookingID   string          `json:"booking_id"`
	ProviderID  string          `json:"provider_id"`
	Action      string          `json:"action"`
	FromState   string          `json:"from_state,omitempty"`
	ToState     string          `json:"to_state"`
	Actor       string          `json:"actor"`
	Reason      string          `json:"reason,omitempty"`
	SideEffects []string        `json:"side_effects,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Filter selects events for a booking or provider.
type Filter struct {
	ProviderID string
	BookingID  string
	Actions    []string
	Since      time.Time
	Limit      int
}

// Service writes and reads booking_audit_events.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Record appends an event.
func (s *Service) Record(ctx context.Context, e Event) error {
	if s == nil || s.db == nil {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	details := e.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO booking_audit_events (
			id, booking_id, provider_id, action, from_state, to_state,
			actor, reason, side_effects, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.BookingID,
		e.ProviderID,
		e.Action,
		nullString(e.FromState),
		e.ToState,
		e.Actor,
		nullString(e.Reason),
		pq.Array(e.SideEffects),
		[]byte(details),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to record event: %w", err)
	}
	return nil
}

// Query returns matching events, newest first. ProviderID is required.
func (s *Service) Query(ctx context.Context, f Filter) ([]Event, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if f.ProviderID == "" {
		return nil, fmt.Errorf("audit: provider id required")
	}
	query := `
		SELECT id, booking_id, provider_id, action, from_state, to_state,
			   actor, reason, side_effects, details, created_at
		FROM booking_audit_events
		WHERE provider_id = $1
	`
	args := []interface{}{f.ProviderID}
	argIdx := 2

	if f.BookingID != "" {
		query += fmt.Sprintf(" AND booking_id = $%d", argIdx)
		args = append(args, f.BookingID)
		argIdx++
	}
	if len(f.Actions) > 0 {
		query += fmt.Sprintf(" AND action = ANY($%d)", argIdx)
		args = append(args, pq.Array(f.Actions))
		argIdx++
	}
	if !f.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, f.Since)
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var (
			e            Event
			from, reason sql.NullString
			details      []byte
		)
		if err := rows.Scan(
			&e.ID, &e.BookingID, &e.ProviderID, &e.Action, &from, &e.ToState,
			&e.Actor, &reason, pq.Array(&e.SideEffects), &details, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		e.FromState = from.String
		e.Reason = reason.String
		if len(details) > 0 {
			e.Details = append(json.RawMessage(nil), details...)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
