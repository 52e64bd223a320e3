package verification

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool used by TrustedStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TrustedStore persists trusted emails in Postgres.
type TrustedStore struct {
	db DB
}

func NewTrustedStore(db DB) *TrustedStore {
	if db == nil {
		panic("verification: db required")
	}
	return &TrustedStore{db: db}
}

func (s *TrustedStore) IsTrusted(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM trusted_emails WHERE email = $1)`, NormalizeEmail(email)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("verification: query trusted email: %w", err)
	}
	return exists, nil
}

// Trust inserts email if absent. An existing entry keeps its source and first-seen time.
func (s *TrustedStore) Trust(ctx context.Context, email, source string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return nil
	}
	query := `
		INSERT INTO trusted_emails (email, source, first_seen_at)
		VALUES ($1, $2, now())
		ON CONFLICT (email) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query, email, source); err != nil {
		return fmt.Errorf("verification: insert trusted email: %w", err)
	}
	return nil
}
