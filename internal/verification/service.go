// Package verification issues and redeems visitor email verification tokens
// and maintains the set of trusted emails.
package verification

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/wolfman30/booking-engine/internal/apperr"
	"github.com/wolfman30/booking-engine/pkg/logging"
)

const (
	// DefaultTTL is how long an issued token stays redeemable.
	DefaultTTL = 24 * time.Hour

	tokenBytes  = 32
	trustSource = "booking_verification"
)

// Token is a freshly issued verification secret.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenRecord is the booking state a token resolves to.
type TokenRecord struct {
	BookingID    string
	VisitorEmail string
	IsVerified   bool
	// Pending is false once the booking left the pending status.
	Pending   bool
	ExpiresAt *time.Time
}

// BookingTokens reads and redeems tokens stored on bookings.
type BookingTokens interface {
	// FindByVerificationToken resolves live and already redeemed tokens.
	// It returns nil when no booking references the token.
	FindByVerificationToken(ctx context.Context, token string) (*TokenRecord, error)
	// MarkVerified flips an unverified pending booking holding token to
	// verified and clears the token. It reports whether a row changed.
	MarkVerified(ctx context.Context, bookingID, token string) (bool, error)
}

// TrustedEmails is the append-only trusted email set.
type TrustedEmails interface {
	IsTrusted(ctx context.Context, email string) (bool, error)
	Trust(ctx context.Context, email, source string) error
}

// Result describes a successful verification.
type Result struct {
	BookingID       string
	VisitorEmail    string
	AlreadyVerified bool
}

// Service implements token issuance and redemption.
type Service struct {
	bookings BookingTokens
	trusted  TrustedEmails
	ttl      time.Duration
	now      func() time.Time
	random   io.Reader
	logger   *logging.Logger
}

// NewService wires the service. bookings may be nil for issue-only use.
func NewService(bookings BookingTokens, trusted TrustedEmails, logger *logging.Logger) *Service {
	if trusted == nil {
		panic("verification: trusted email store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		bookings: bookings,
		trusted:  trusted,
		ttl:      DefaultTTL,
		now:      time.Now,
		random:   rand.Reader,
		logger:   logger,
	}
}

// WithTTL overrides the token lifetime.
func (s *Service) WithTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// WithClock injects the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Issue returns a new hex token and its expiry.
func (s *Service) Issue() (Token, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return Token{}, fmt.Errorf("verification: read random: %w", err)
	}
	return Token{
		Value:     hex.EncodeToString(buf),
		ExpiresAt: s.now().UTC().Add(s.ttl),
	}, nil
}

// IsPreVerified reports whether email was verified before.
func (s *Service) IsPreVerified(ctx context.Context, email string) (bool, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return false, nil
	}
	ok, err := s.trusted.IsTrusted(ctx, email)
	if err != nil {
		return false, fmt.Errorf("verification: trusted lookup: %w", err)
	}
	return ok, nil
}

// Verify redeems token. Redeeming an already used token succeeds with
// AlreadyVerified set and changes nothing.
func (s *Service) Verify(ctx context.Context, token string) (Result, error) {
	if s.bookings == nil {
		return Result{}, fmt.Errorf("verification: booking store not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Result{}, apperr.NotFound("verification token")
	}

	rec, err := s.bookings.FindByVerificationToken(ctx, token)
	if err != nil {
		return Result{}, fmt.Errorf("verification: find token: %w", err)
	}
	if rec == nil {
		return Result{}, apperr.NotFound("verification token")
	}
	res := Result{BookingID: rec.BookingID, VisitorEmail: rec.VisitorEmail}
	if rec.IsVerified {
		res.AlreadyVerified = true
		return res, nil
	}
	if !rec.Pending {
		return Result{}, apperr.State("booking is no longer pending")
	}
	if rec.ExpiresAt == nil || s.now().After(*rec.ExpiresAt) {
		return Result{}, fmt.Errorf("%w: booking %s", apperr.ErrExpiredToken, rec.BookingID)
	}

	changed, err := s.bookings.MarkVerified(ctx, rec.BookingID, token)
	if err != nil {
		return Result{}, fmt.Errorf("verification: mark verified: %w", err)
	}
	if !changed {
		// Lost a race with a concurrent redemption or cancellation.
		again, err := s.bookings.FindByVerificationToken(ctx, token)
		if err != nil {
			return Result{}, fmt.Errorf("verification: reload token: %w", err)
		}
		if again != nil && again.IsVerified {
			res.AlreadyVerified = true
			return res, nil
		}
		return Result{}, apperr.State("booking is no longer pending")
	}

	if err := s.trusted.Trust(ctx, NormalizeEmail(rec.VisitorEmail), trustSource); err != nil {
		s.logger.Error("failed to record trusted email", "booking_id", rec.BookingID, "error", err)
	}
	return res, nil
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
