package statussync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazaarhq/payments/internal/domain"
)

// fakeGetter serves a scripted sequence of statuses, one per call.
type fakeGetter struct {
	mu       sync.Mutex
	statuses []domain.AttemptStatus
	calls    int
	reason   *string
}

func (f *fakeGetter) GetAttemptByID(_ context.Context, id uuid.UUID) (*domain.PaymentAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.calls
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	f.calls++

	return &domain.PaymentAttempt{
		ID:              id,
		Status:          f.statuses[idx],
		RejectionReason: f.reason,
	}, nil
}

func TestPoll_ReturnsSnapshot(t *testing.T) {
	getter := &fakeGetter{statuses: []domain.AttemptStatus{domain.AttemptStatusPendingConfirmation}}
	p := NewPoller(getter, time.Millisecond)

	view, err := p.Poll(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusPendingConfirmation, view.Status)
	assert.False(t, view.Terminal)
}

func TestWaitForTerminal_ImmediateTerminal(t *testing.T) {
	getter := &fakeGetter{statuses: []domain.AttemptStatus{domain.AttemptStatusPaid}}
	p := NewPoller(getter, time.Hour)

	view, err := p.WaitForTerminal(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, view.Terminal)
	assert.Equal(t, domain.AttemptStatusPaid, view.Status)
	assert.Equal(t, 1, getter.calls, "terminal on first read needs no ticker wait")
}

func TestWaitForTerminal_ObservesLaterTransition(t *testing.T) {
	reason := "no matching wire received"
	getter := &fakeGetter{
		statuses: []domain.AttemptStatus{
			domain.AttemptStatusPendingConfirmation,
			domain.AttemptStatusPendingConfirmation,
			domain.AttemptStatusRejected,
		},
		reason: &reason,
	}
	p := NewPoller(getter, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	view, err := p.WaitForTerminal(ctx, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusRejected, view.Status)
	require.NotNil(t, view.Reason)
	assert.Equal(t, reason, *view.Reason)
	assert.GreaterOrEqual(t, getter.calls, 3)
}

func TestWaitForTerminal_TimeoutReturnsLastSnapshot(t *testing.T) {
	getter := &fakeGetter{statuses: []domain.AttemptStatus{domain.AttemptStatusPendingConfirmation}}
	p := NewPoller(getter, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	view, err := p.WaitForTerminal(ctx, uuid.New())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, view)
	assert.False(t, view.Terminal)
	assert.Equal(t, domain.AttemptStatusPendingConfirmation, view.Status)
}

func TestNewPoller_DefaultsInterval(t *testing.T) {
	p := NewPoller(&fakeGetter{statuses: []domain.AttemptStatus{domain.AttemptStatusPaid}}, 0)
	assert.Equal(t, 2*time.Second, p.interval)
}
