// Package main runs end-to-end scenarios against a running booking API.
//
// It seeds a provider with weekday availability and a trusted visitor email
// directly in Postgres, then drives the public and provider HTTP surfaces.
//
// Usage:
//
//	DATABASE_URL=... PROVIDER_JWT_SECRET=... API_BASE_URL=... go run scripts/e2e/run_e2e.go [scenario-name]
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const trustedEmail = "e2e-visitor@example.com"

var (
	apiBase    string
	jwtSecret  string
	providerID string
	pool       *pgxpool.Pool
)

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T tracks pass/fail counts for a single scenario.
type T struct {
	passed int
	failed int
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
		return
	}
	fmt.Printf("    FAIL: %s\n", name)
	t.failed++
}

func main() {
	apiBase = getenv("API_BASE_URL", "http://localhost:8080")
	jwtSecret = os.Getenv("PROVIDER_JWT_SECRET")
	databaseURL := os.Getenv("DATABASE_URL")
	if jwtSecret == "" || databaseURL == "" {
		fmt.Println("DATABASE_URL and PROVIDER_JWT_SECRET are required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var err error
	pool, err = pgxpool.New(ctx, databaseURL)
	if err != nil {
		fmt.Printf("connect postgres: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	providerID = uuid.NewString()
	if err := seed(ctx, pool, providerID); err != nil {
		fmt.Printf("seed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded provider %s\n", providerID)

	scenarios := []scenario{
		{Name: "trusted-booking-confirm", Fn: trustedBookingConfirm},
		{Name: "visitor-cancel-frees-slot", Fn: visitorCancelFreesSlot},
		{Name: "unverified-confirm-rejected", Fn: unverifiedConfirmRejected},
	}

	only := ""
	if len(os.Args) > 1 {
		only = os.Args[1]
	}
	var passed, failed int
	for _, sc := range scenarios {
		if only != "" && sc.Name != only {
			continue
		}
		fmt.Printf("\n== %s\n", sc.Name)
		t := &T{}
		sc.Fn(t)
		passed += t.passed
		failed += t.failed
	}
	fmt.Printf("\n%d passed, %d failed\n", passed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func seed(ctx context.Context, pool *pgxpool.Pool, id string) error {
	stmts := []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO providers (id, display_name, email) VALUES ($1, 'E2E Provider', 'e2e-provider@example.com')`, []any{id}},
		{`INSERT INTO provider_schedule_settings (provider_id, slot_duration_minutes, buffer_minutes, min_notice_hours, max_days_ahead, timezone)
			VALUES ($1, 30, 0, 0, 30, 'UTC')`, []any{id}},
		{`INSERT INTO trusted_emails (email, source) VALUES ($1, 'e2e') ON CONFLICT (email) DO NOTHING`, []any{trustedEmail}},
	}
	for day := 0; day < 7; day++ {
		stmts = append(stmts, struct {
			sql  string
			args []any
		}{`INSERT INTO weekly_availability (provider_id, day_of_week, start_time, end_time, is_active, position)
			VALUES ($1, $2, '09:00', '17:00', true, 0)`, []any{id, day}})
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s.sql, s.args...); err != nil {
			return err
		}
	}
	return nil
}

type slot struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func bookingDate() string {
	return time.Now().UTC().AddDate(0, 0, 3).Format("2006-01-02")
}

func listSlots(t *T, date string) []slot {
	var listing struct {
		Slots []slot `json:"slots"`
	}
	status := call(http.MethodGet, fmt.Sprintf("/providers/%s/slots?date=%s", providerID, date), "", nil, &listing)
	t.check("slot listing returns 200", status == http.StatusOK)
	return listing.Slots
}

type created struct {
	AccessToken string `json:"access_token"`
	Status      string `json:"status"`
	Verified    bool   `json:"verified"`
}

func book(date string, s slot, email string) (int, created) {
	var out created
	status := call(http.MethodPost, fmt.Sprintf("/providers/%s/bookings", providerID), "", map[string]string{
		"date":       date,
		"start_time": s.Start,
		"end_time":   s.End,
		"name":       "E2E Visitor",
		"email":      email,
	}, &out)
	return status, out
}

func providerBookingID(t *T, date, accessToken string) string {
	var list struct {
		Bookings []struct {
			ID    string `json:"id"`
			Start string `json:"start_time"`
		} `json:"bookings"`
	}
	status := call(http.MethodGet, "/provider/bookings?date="+date, providerToken(), nil, &list)
	t.check("provider list returns 200", status == http.StatusOK)
	var view struct {
		Start string `json:"start"`
	}
	call(http.MethodGet, "/bookings/access/"+accessToken, "", nil, &view)
	for _, b := range list.Bookings {
		if b.Start == view.Start {
			return b.ID
		}
	}
	return ""
}

func trustedBookingConfirm(t *T) {
	date := bookingDate()
	slots := listSlots(t, date)
	if len(slots) == 0 {
		t.check("slots available", false)
		return
	}
	status, res := book(date, slots[0], trustedEmail)
	t.check("create returns 201", status == http.StatusCreated)
	t.check("trusted email is pre-verified", res.Verified && res.Status == "pending_verified")

	id := providerBookingID(t, date, res.AccessToken)
	t.check("provider sees booking", id != "")

	var confirmed struct {
		Status string `json:"status"`
	}
	status = call(http.MethodPost, "/provider/bookings/"+id+"/confirm", providerToken(), nil, &confirmed)
	t.check("confirm returns 200", status == http.StatusOK)
	t.check("booking confirmed", confirmed.Status == "confirmed")

	status = call(http.MethodPost, "/provider/bookings/"+id+"/confirm", providerToken(), nil, nil)
	t.check("second confirm is a state error", status == http.StatusConflict)
}

func visitorCancelFreesSlot(t *T) {
	date := bookingDate()
	slots := listSlots(t, date)
	if len(slots) < 2 {
		t.check("slots available", false)
		return
	}
	target := slots[1]
	status, res := book(date, target, trustedEmail)
	t.check("create returns 201", status == http.StatusCreated)

	status, _ = book(date, target, trustedEmail)
	t.check("same slot again is rejected", status == http.StatusConflict)

	status = call(http.MethodPost, "/bookings/cancel", "", map[string]string{"token": res.AccessToken, "reason": "e2e"}, nil)
	t.check("access token cannot cancel", status == http.StatusNotFound)

	// the cancel token only travels by email
	var cancelToken string
	err := pool.QueryRow(context.Background(), `SELECT cancel_token FROM bookings WHERE access_token = $1`, res.AccessToken).Scan(&cancelToken)
	t.check("booking has a cancel token", err == nil && cancelToken != "" && cancelToken != res.AccessToken)

	status = call(http.MethodPost, "/bookings/cancel", "", map[string]string{"token": cancelToken, "reason": "e2e"}, nil)
	t.check("visitor cancel returns 200", status == http.StatusOK)

	found := false
	for _, s := range listSlots(t, date) {
		if s.Start == target.Start {
			found = true
		}
	}
	t.check("cancelled slot is bookable again", found)
}

func unverifiedConfirmRejected(t *T) {
	date := bookingDate()
	slots := listSlots(t, date)
	if len(slots) == 0 {
		t.check("slots available", false)
		return
	}
	email := fmt.Sprintf("e2e-%d@example.com", time.Now().UnixNano())
	status, res := book(date, slots[len(slots)-1], email)
	t.check("create returns 201", status == http.StatusCreated)
	t.check("new email is unverified", !res.Verified && res.Status == "pending_unverified")

	id := providerBookingID(t, date, res.AccessToken)
	status = call(http.MethodPost, "/provider/bookings/"+id+"/confirm", providerToken(), nil, nil)
	t.check("confirm before verification is a state error", status == http.StatusConflict)
}

func providerToken() string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   providerID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(10 * time.Minute)),
	})
	signed, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		fmt.Printf("sign token: %v\n", err)
		os.Exit(1)
	}
	return signed
}

func call(method, path, bearer string, body any, out any) int {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, apiBase+path, reader)
	if err != nil {
		return 0
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("    request %s %s failed: %v\n", method, path, err)
		return 0
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
