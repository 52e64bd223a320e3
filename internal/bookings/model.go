package bookings

import (
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/booking-engine/internal/apperr"
	"github.com/wolfman30/booking-engine/internal/availability"
)

// Status is the stored booking status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
)

// State is the lifecycle state. The two pending states share the stored
// status "pending" and differ by the verification flag.
type State string

const (
	StatePendingUnverified State = "pending_unverified"
	StatePendingVerified   State = "pending_verified"
	StateConfirmed         State = "confirmed"
	StateCancelled         State = "cancelled"
	StateCompleted         State = "completed"
	StateNoShow            State = "no_show"
)

// Action names a lifecycle operation.
type Action string

const (
	ActionCreate   Action = "create"
	ActionVerify   Action = "verify"
	ActionConfirm  Action = "confirm"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
	ActionNoShow   Action = "no_show"
)

type edge struct {
	from   State
	action Action
}

// transitions is the closed transition table; anything absent is rejected.
var transitions = map[edge]State{
	{StatePendingUnverified, ActionVerify}: StatePendingVerified,
	{StatePendingVerified, ActionConfirm}:  StateConfirmed,
	{StatePendingUnverified, ActionCancel}: StateCancelled,
	{StatePendingVerified, ActionCancel}:   StateCancelled,
	{StateConfirmed, ActionCancel}:         StateCancelled,
	{StateConfirmed, ActionComplete}:       StateCompleted,
	{StateConfirmed, ActionNoShow}:         StateNoShow,
}

// Next returns the state reached by applying action in from.
func Next(from State, action Action) (State, error) {
	to, ok := transitions[edge{from, action}]
	if !ok {
		return "", apperr.State("cannot %s a booking in state %s", action, from)
	}
	return to, nil
}

// StateOf maps the stored representation to a lifecycle state.
func StateOf(status Status, verified bool) State {
	switch status {
	case StatusPending:
		if verified {
			return StatePendingVerified
		}
		return StatePendingUnverified
	case StatusConfirmed:
		return StateConfirmed
	case StatusCancelled:
		return StateCancelled
	case StatusCompleted:
		return StateCompleted
	case StatusNoShow:
		return StateNoShow
	default:
		return State(status)
	}
}

// Stored maps a lifecycle state back to status and verification flag.
// Every state other than pending_unverified implies a verified visitor.
func (s State) Stored() (Status, bool) {
	switch s {
	case StatePendingUnverified:
		return StatusPending, false
	case StatePendingVerified:
		return StatusPending, true
	default:
		return Status(s), true
	}
}

// Actor kinds recorded on cancellations and audit events.
const (
	ActorVisitor  = "visitor"
	ActorProvider = "provider"
	ActorSystem   = "system"
)

// ValidID reports whether id can be stored in a uuid column.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// Session formats a visitor can choose.
const (
	FormatInPerson = "in_person"
	FormatVideo    = "video"
	FormatPhone    = "phone"
)

// Booking is one appointment request and its lifecycle record.
type Booking struct {
	ID                    string
	ProviderID            string
	ServiceID             string
	Date                  availability.Date
	Start                 availability.Clock
	End                   availability.Clock
	DurationMinutes       int
	SessionFormat         string
	VisitorName           string
	VisitorEmail          string
	VisitorPhone          string
	VisitorNotes          string
	Status                Status
	IsVerified            bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	AccessToken           string
	CancelToken           string
	ConfirmedAt           *time.Time
	CancelledAt           *time.Time
	CancelledBy           string
	CancellationReason    string
	CompletedAt           *time.Time
	NoShowAt              *time.Time
	CalendarEventID       string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// State returns the lifecycle state of b.
func (b *Booking) State() State {
	return StateOf(b.Status, b.IsVerified)
}

// StartsAt returns the absolute start instant in loc.
func (b *Booking) StartsAt(loc *time.Location) time.Time {
	return b.Date.At(b.Start, loc)
}

// EndsAt returns the absolute end instant in loc.
func (b *Booking) EndsAt(loc *time.Location) time.Time {
	return b.Date.At(b.End, loc)
}

// CreateRequest is a visitor's booking submission.
type CreateRequest struct {
	ProviderID    string
	ServiceID     string
	Date          availability.Date
	Start         availability.Clock
	End           availability.Clock
	SessionFormat string
	VisitorName   string
	VisitorEmail  string
	VisitorPhone  string
	VisitorNotes  string
}

const maxNotesLength = 2000

// Normalize trims the free-text fields and applies defaults.
func (r *CreateRequest) Normalize() {
	r.ProviderID = strings.TrimSpace(r.ProviderID)
	r.ServiceID = strings.TrimSpace(r.ServiceID)
	r.VisitorName = strings.TrimSpace(r.VisitorName)
	r.VisitorEmail = strings.TrimSpace(r.VisitorEmail)
	r.VisitorPhone = strings.TrimSpace(r.VisitorPhone)
	r.VisitorNotes = strings.TrimSpace(r.VisitorNotes)
	r.SessionFormat = strings.ToLower(strings.TrimSpace(r.SessionFormat))
	if r.SessionFormat == "" {
		r.SessionFormat = FormatInPerson
	}
}

// Validate checks the request shape. Slot availability is checked separately.
func (r CreateRequest) Validate() error {
	if r.ProviderID == "" {
		return apperr.Validation("provider is required")
	}
	if r.ServiceID != "" && !ValidID(r.ServiceID) {
		return apperr.Validation("service_id %q is not a valid id", r.ServiceID)
	}
	if r.Date.IsZero() {
		return apperr.Validation("date is required")
	}
	if !r.Start.Valid() || !r.End.Valid() {
		return apperr.Validation("start and end must be HH:MM times")
	}
	if r.End.Minutes() <= r.Start.Minutes() {
		return apperr.Validation("end must be after start")
	}
	if r.VisitorName == "" {
		return apperr.Validation("name is required")
	}
	if r.VisitorEmail == "" {
		return apperr.Validation("email is required")
	}
	if addr, err := mail.ParseAddress(r.VisitorEmail); err != nil || addr.Address != r.VisitorEmail {
		return apperr.Validation("email %q is not a valid address", r.VisitorEmail)
	}
	switch r.SessionFormat {
	case FormatInPerson, FormatVideo, FormatPhone:
	default:
		return apperr.Validation("unsupported session format %q", r.SessionFormat)
	}
	if len(r.VisitorNotes) > maxNotesLength {
		return apperr.Validation("notes exceed %d characters", maxNotesLength)
	}
	return nil
}

// VisitorView is what the access token reveals. It never carries the internal id.
type VisitorView struct {
	AccessToken   string             `json:"access_token"`
	ProviderName  string             `json:"provider_name"`
	Date          availability.Date  `json:"date"`
	Start         availability.Clock `json:"start"`
	End           availability.Clock `json:"end"`
	TimeZone      string             `json:"timezone"`
	SessionFormat string             `json:"session_format"`
	State         State              `json:"status"`
	VisitorName   string             `json:"visitor_name"`
	ConfirmedAt   *time.Time         `json:"confirmed_at,omitempty"`
	CancelledAt   *time.Time         `json:"cancelled_at,omitempty"`
}
