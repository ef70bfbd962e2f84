package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafikskola.se/payments/internal/common"
	"trafikskola.se/payments/internal/features/payments"
)

type fakeSweeper struct {
	n   int
	err error
}

func (f fakeSweeper) MarkOverdue(context.Context) (int, error) { return f.n, f.err }

type fakePending struct {
	ids    []uuid.UUID
	cutoff time.Time
}

func (f *fakePending) PendingPurchasesBefore(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	f.cutoff = cutoff
	return f.ids, nil
}

type fakeReminder struct {
	failFor uuid.UUID
	calls   []common.Decision
}

func (f *fakeReminder) Apply(_ context.Context, kind common.ResourceKind, id uuid.UUID, d common.Decision) (*payments.Outcome, error) {
	f.calls = append(f.calls, d)
	if id == f.failFor {
		return nil, common.NewResourceNotFound(kind)
	}
	return &payments.Outcome{Kind: kind, ResourceID: id, Decision: d, NotificationsSent: 1}, nil
}

func TestSendReminders(t *testing.T) {
	bad := uuid.New()
	pending := &fakePending{ids: []uuid.UUID{uuid.New(), bad, uuid.New()}}
	reminder := &fakeReminder{failFor: bad}

	s := NewScheduler(fakeSweeper{}, pending, reminder, 48*time.Hour)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	sent, err := s.SendReminders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, now.Add(-48*time.Hour), pending.cutoff)
	assert.Equal(t, []common.Decision{common.DecisionRemind, common.DecisionRemind, common.DecisionRemind}, reminder.calls)
}

func TestSweepOverdue(t *testing.T) {
	s := NewScheduler(fakeSweeper{n: 4}, &fakePending{}, &fakeReminder{}, time.Hour)
	n, err := s.SweepOverdue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	boom := errors.New("db down")
	s = NewScheduler(fakeSweeper{err: boom}, &fakePending{}, &fakeReminder{}, time.Hour)
	_, err = s.SweepOverdue(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(fakeSweeper{}, &fakePending{}, &fakeReminder{}, time.Hour)
	require.NoError(t, s.Start(context.Background()))
	assert.Len(t, s.cron.Entries(), 2)
	s.Stop()
}
