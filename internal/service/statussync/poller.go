package statussync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bazaarhq/payments/internal/domain"
	"github.com/bazaarhq/payments/internal/logging"
)

// AttemptGetter reads the current state of an attempt. The reconciliation
// state machine stays authoritative; polling is a read-only convenience.
type AttemptGetter interface {
	GetAttemptByID(ctx context.Context, id uuid.UUID) (*domain.PaymentAttempt, error)
}

// StatusView is the per-poll snapshot handed back to the submitting client.
type StatusView struct {
	AttemptID uuid.UUID            `json:"attempt_id"`
	Status    domain.AttemptStatus `json:"status"`
	Terminal  bool                 `json:"terminal"`
	Reason    *string              `json:"reason,omitempty"`
}

// Poller implements the short-poll contract: read attempt status on a fixed
// interval until a terminal status appears or the caller's context expires.
// Each poll is a stateless read; nothing is held open server-side between
// polls.
type Poller struct {
	attempts AttemptGetter
	interval time.Duration
}

func NewPoller(attempts AttemptGetter, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{attempts: attempts, interval: interval}
}

// Poll returns the current snapshot for one attempt.
func (p *Poller) Poll(ctx context.Context, attemptID uuid.UUID) (*StatusView, error) {
	attempt, err := p.attempts.GetAttemptByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("Poll: %w", err)
	}
	return snapshot(attempt), nil
}

// WaitForTerminal polls until the attempt reaches a terminal status or ctx
// is done. The caller bounds the wait through ctx; there is no internal
// maximum.
func (p *Poller) WaitForTerminal(ctx context.Context, attemptID uuid.UUID) (*StatusView, error) {
	log := logging.FromContext(ctx)

	view, err := p.Poll(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("WaitForTerminal: %w", err)
	}
	if view.Terminal {
		return view, nil
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("status poll cancelled", "attempt_id", attemptID, "last_status", view.Status)
			return view, fmt.Errorf("WaitForTerminal: %w", ctx.Err())
		case <-ticker.C:
			view, err = p.Poll(ctx, attemptID)
			if err != nil {
				return nil, fmt.Errorf("WaitForTerminal: %w", err)
			}
			if view.Terminal {
				log.Debug("status poll observed terminal state",
					"attempt_id", attemptID, "status", view.Status)
				return view, nil
			}
		}
	}
}

func snapshot(a *domain.PaymentAttempt) *StatusView {
	return &StatusView{
		AttemptID: a.ID,
		Status:    a.Status,
		Terminal:  a.Status.IsTerminal(),
		Reason:    a.RejectionReason,
	}
}
