package recon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bazaarhq/payments/internal/domain"
	"github.com/bazaarhq/payments/internal/events"
	"github.com/bazaarhq/payments/internal/logging"
	"github.com/bazaarhq/payments/internal/notify"
)

var decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "payments_decisions_total",
	Help: "Reviewer decisions applied, labeled by outcome",
}, []string{"decision", "obligation"})

type attemptRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentAttempt, error)
	TransitionStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.AttemptStatus, decidedBy *uuid.UUID, reason *string, decidedAt *time.Time) error
}

type orderRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	UpdateShippingTaxStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.ShippingTaxStatus, paidAt *time.Time) error
}

// Service is the reconciliation state machine: the single writer of
// PaymentAttempt.status. Reviewers move claims out of pending_confirmation;
// the terminal transition links the settlement, flips the order's
// shipping/tax status where applicable, and notifies the payer.
type Service struct {
	attempts attemptRepo
	orders   orderRepo
	linker   *Linker
	db       *sql.DB
	notifier notify.Dispatcher
	handler  events.Handler
}

func NewService(attempts attemptRepo, orders orderRepo, linker *Linker, db *sql.DB, notifier notify.Dispatcher, handler events.Handler) *Service {
	if handler == nil {
		handler = events.NopHandler{}
	}
	return &Service{
		attempts: attempts,
		orders:   orders,
		linker:   linker,
		db:       db,
		notifier: notifier,
		handler:  handler,
	}
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

type DecideRequest struct {
	AttemptID  uuid.UUID
	ReviewerID uuid.UUID
	Decision   Decision
	Reason     string
}

// Decide applies a reviewer's verdict to a pending claim. Approval of an
// already-approved attempt is a no-op; every other move out of a terminal
// state is ErrInvalidTransition. Concurrent verdicts race on a status
// compare-and-set, so exactly one wins.
func (s *Service) Decide(ctx context.Context, req DecideRequest) (*domain.PaymentAttempt, error) {
	if req.Decision == DecisionReject && req.Reason == "" {
		return nil, fmt.Errorf("Decide: %w", domain.ErrReasonRequired)
	}

	attempt, err := s.attempts.GetByID(ctx, req.AttemptID)
	if err != nil {
		return nil, fmt.Errorf("Decide: %w", err)
	}

	if attempt.Status.IsTerminal() {
		if req.Decision == DecisionApprove && attempt.Status == domain.AttemptStatusPaid {
			return attempt, nil
		}
		return nil, fmt.Errorf("Decide: status %s: %w", attempt.Status, domain.ErrInvalidTransition)
	}
	if attempt.Status != domain.AttemptStatusPendingConfirmation {
		return nil, fmt.Errorf("Decide: status %s: %w", attempt.Status, domain.ErrInvalidTransition)
	}

	decided, err := s.applyDecision(ctx, attempt, req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return s.resolveLostRace(ctx, req)
		}
		return nil, fmt.Errorf("Decide: %w", err)
	}

	decisionsTotal.WithLabelValues(string(req.Decision), string(decided.Obligation)).Inc()
	s.afterDecision(ctx, decided)
	return decided, nil
}

func (s *Service) applyDecision(ctx context.Context, attempt *domain.PaymentAttempt, req DecideRequest) (*domain.PaymentAttempt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("applyDecision: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	to := domain.AttemptStatusPaid
	var reason *string
	if req.Decision == DecisionReject {
		to = domain.AttemptStatusRejected
		reason = &req.Reason
	}

	if err := s.attempts.TransitionStatus(ctx, tx, attempt.ID,
		domain.AttemptStatusPendingConfirmation, to, &req.ReviewerID, reason, &now); err != nil {
		return nil, fmt.Errorf("applyDecision: %w", err)
	}

	switch req.Decision {
	case DecisionApprove:
		if err := s.linker.Link(ctx, tx, attempt.OrderID, attempt.Obligation, attempt.ID, now); err != nil {
			return nil, fmt.Errorf("applyDecision: %w", err)
		}
		if attempt.Obligation == domain.ObligationShippingTax {
			if err := s.orders.UpdateShippingTaxStatus(ctx, tx, attempt.OrderID, domain.ShippingTaxPaid, &now); err != nil {
				return nil, fmt.Errorf("applyDecision: %w", err)
			}
		}
	case DecisionReject:
		if attempt.Obligation == domain.ObligationShippingTax {
			if err := s.orders.UpdateShippingTaxStatus(ctx, tx, attempt.OrderID, domain.ShippingTaxRejected, nil); err != nil {
				return nil, fmt.Errorf("applyDecision: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("applyDecision: commit: %w", err)
	}

	decided := *attempt
	decided.Status = to
	decided.DecidedBy = &req.ReviewerID
	decided.DecidedAt = &now
	decided.RejectionReason = reason
	return &decided, nil
}

// resolveLostRace re-reads the attempt after a lost compare-and-set. A
// concurrent approval that matches the caller's intent is confirmed as a
// no-op; anything else surfaces as ErrInvalidTransition so the caller
// re-fetches instead of retrying blindly.
func (s *Service) resolveLostRace(ctx context.Context, req DecideRequest) (*domain.PaymentAttempt, error) {
	current, err := s.attempts.GetByID(ctx, req.AttemptID)
	if err != nil {
		return nil, fmt.Errorf("resolveLostRace: %w", err)
	}
	if req.Decision == DecisionApprove && current.Status == domain.AttemptStatusPaid {
		return current, nil
	}
	return nil, fmt.Errorf("resolveLostRace: status %s: %w", current.Status, domain.ErrInvalidTransition)
}

// afterDecision runs the best-effort side effects of a terminal transition.
// Neither a notification failure nor a slow event handler can roll back the
// committed decision.
func (s *Service) afterDecision(ctx context.Context, attempt *domain.PaymentAttempt) {
	log := logging.FromContext(ctx)

	switch attempt.Status {
	case domain.AttemptStatusPaid:
		s.handler.OnPaymentSettled(&events.PaymentSettledEvent{
			AttemptID:  attempt.ID,
			OrderID:    attempt.OrderID,
			PayerID:    attempt.PayerID,
			Channel:    attempt.Channel,
			Obligation: attempt.Obligation,
			Amount:     attempt.Amount,
			Currency:   attempt.Currency,
		})
		dispatchAsync(s.notifier, attempt.PayerID, notify.Notification{
			Title:    "Payment confirmed",
			Body:     fmt.Sprintf("Your %s payment for order %s was verified.", attempt.Channel, attempt.OrderID),
			Severity: notify.SeverityInfo,
			LinkURL:  fmt.Sprintf("/orders/%s", attempt.OrderID),
			Category: "payment",
		})
	case domain.AttemptStatusRejected:
		reason := ""
		if attempt.RejectionReason != nil {
			reason = *attempt.RejectionReason
		}
		s.handler.OnPaymentRejected(&events.PaymentRejectedEvent{
			AttemptID: attempt.ID,
			OrderID:   attempt.OrderID,
			PayerID:   attempt.PayerID,
			Reason:    reason,
		})
		dispatchAsync(s.notifier, attempt.PayerID, notify.Notification{
			Title:    "Payment rejected",
			Body:     fmt.Sprintf("Your %s payment for order %s was rejected: %s", attempt.Channel, attempt.OrderID, reason),
			Severity: notify.SeverityWarning,
			LinkURL:  fmt.Sprintf("/orders/%s", attempt.OrderID),
			Category: "payment",
		})
	}

	log.Info("payment attempt decided",
		"attempt_id", attempt.ID,
		"order_id", attempt.OrderID,
		"status", attempt.Status,
	)
}

// dispatchAsync fires a notification without tying it to the request:
// the decision has already committed by the time this runs.
func dispatchAsync(d notify.Dispatcher, accountID uuid.UUID, n notify.Notification) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.Notify(ctx, accountID, n); err != nil {
			logging.FromContext(ctx).Warn("notification delivery failed",
				"account_id", accountID,
				"category", n.Category,
				"error", err,
			)
		}
	}()
}

func (s *Service) GetAttemptByID(ctx context.Context, id uuid.UUID) (*domain.PaymentAttempt, error) {
	a, err := s.attempts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetAttemptByID: %w", err)
	}
	return a, nil
}

// GetAttemptForPayer hides other payers' attempts behind ErrNotFound.
func (s *Service) GetAttemptForPayer(ctx context.Context, attemptID, payerID uuid.UUID) (*domain.PaymentAttempt, error) {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("GetAttemptForPayer: %w", err)
	}
	if a.PayerID != payerID {
		return nil, fmt.Errorf("GetAttemptForPayer: %w", domain.ErrNotFound)
	}
	return a, nil
}
