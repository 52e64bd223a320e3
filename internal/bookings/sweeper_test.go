package bookings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/booking-engine/internal/apperr"
)

type dueList struct {
	ids    []string
	cutoff time.Time
	err    error
}

func (d *dueList) ListDueForCompletion(_ context.Context, cutoff time.Time, _ int) ([]string, error) {
	d.cutoff = cutoff
	return d.ids, d.err
}

type completions struct {
	done []string
	fail map[string]error
}

func (c *completions) CompleteElapsed(_ context.Context, id string) (*Booking, error) {
	if err := c.fail[id]; err != nil {
		return nil, err
	}
	c.done = append(c.done, id)
	return &Booking{ID: id, Status: StatusCompleted}, nil
}

func TestSweepOnceAppliesGrace(t *testing.T) {
	due := &dueList{ids: []string{"bk-1", "bk-2", "bk-3"}}
	done := &completions{fail: map[string]error{"bk-2": apperr.State("booking is cancelled")}}
	sweeper := NewSweeper(due, done, 30*time.Minute, nil).WithClock(func() time.Time { return testNow })

	n, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"bk-1", "bk-3"}, done.done)
	assert.Equal(t, testNow.Add(-30*time.Minute), due.cutoff)
}

func TestSweepOnceListError(t *testing.T) {
	sweeper := NewSweeper(&dueList{err: errors.New("db down")}, &completions{}, 0, nil)
	_, err := sweeper.SweepOnce(context.Background())
	assert.Error(t, err)
}

func TestSweeperCompletesThroughLifecycle(t *testing.T) {
	f := newFixture(t)
	f.trusted.emails["ada@example.com"] = true
	res, err := f.lifecycle.Create(context.Background(), validRequest())
	require.NoError(t, err)
	_, err = f.lifecycle.Confirm(context.Background(), "prov-1", res.Booking.ID)
	require.NoError(t, err)

	sweeper := NewSweeper(&dueList{ids: []string{res.Booking.ID}}, f.lifecycle, 0, nil)
	n, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, err := f.store.Get(context.Background(), res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, b.Status)
	last := f.audit.events[len(f.audit.events)-1]
	assert.Equal(t, ActorSystem, last.Actor)
}
