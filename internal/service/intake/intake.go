package intake

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bazaarhq/payments/internal/domain"
	"github.com/bazaarhq/payments/internal/events"
	"github.com/bazaarhq/payments/internal/logging"
	"github.com/bazaarhq/payments/internal/notify"
	"github.com/bazaarhq/payments/internal/service/recon"
)

type attemptRepo interface {
	Create(ctx context.Context, tx *sql.Tx, a *domain.PaymentAttempt) error
	GetActive(ctx context.Context, orderID uuid.UUID, channel domain.Channel, obligation domain.Obligation) (*domain.PaymentAttempt, error)
	TransitionStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.AttemptStatus, decidedBy *uuid.UUID, reason *string, decidedAt *time.Time) error
}

type orderRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	UpdateShippingTaxStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.ShippingTaxStatus, paidAt *time.Time) error
}

type accountRepo interface {
	GetByOwnerID(ctx context.Context, ownerID uuid.UUID) (*domain.Account, error)
}

type walletLedger interface {
	DebitTx(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount int64) (*domain.LedgerTransaction, error)
}

// Service normalizes payloads from every payment channel into PaymentAttempt
// records. Manually-reviewed channels park as pending_confirmation; the
// wallet channel debits the ledger synchronously and settles in the same
// database transaction.
type Service struct {
	attempts       attemptRepo
	orders         orderRepo
	accounts       accountRepo
	ledger         walletLedger
	linker         *recon.Linker
	db             *sql.DB
	toleranceMinor int64
	notifier       notify.Dispatcher
	handler        events.Handler
}

func NewService(
	attempts attemptRepo,
	orders orderRepo,
	accounts accountRepo,
	ledger walletLedger,
	linker *recon.Linker,
	db *sql.DB,
	toleranceMinor int64,
	notifier notify.Dispatcher,
	handler events.Handler,
) *Service {
	if handler == nil {
		handler = events.NopHandler{}
	}
	return &Service{
		attempts:       attempts,
		orders:         orders,
		accounts:       accounts,
		ledger:         ledger,
		linker:         linker,
		db:             db,
		toleranceMinor: toleranceMinor,
		notifier:       notifier,
		handler:        handler,
	}
}

type SubmitRequest struct {
	OrderID    uuid.UUID
	PayerID    uuid.UUID
	Channel    domain.Channel
	Obligation domain.Obligation
	Amount     decimal.Decimal
	Currency   domain.Currency
	Evidence   json.RawMessage
}

// Submit validates a payment claim and creates (or idempotently returns) the
// active attempt for its order/channel/obligation. Resubmitting identical
// evidence is a no-op; different evidence supersedes the unresolved attempt.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*domain.PaymentAttempt, error) {
	order, obligationMinor, err := s.resolveObligation(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Submit: %w", err)
	}

	amountMinor, err := minorUnits(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("Submit: %w", err)
	}
	if diff := amountMinor - obligationMinor; diff > s.toleranceMinor || diff < -s.toleranceMinor {
		return nil, fmt.Errorf("Submit: submitted %d against obligation %d: %w",
			amountMinor, obligationMinor, domain.ErrAmountMismatch)
	}

	evidence, err := domain.ParseEvidence(req.Channel, req.Evidence)
	if err != nil {
		return nil, fmt.Errorf("Submit: %w", err)
	}

	settled, err := s.linker.IsSettled(ctx, req.OrderID, req.Obligation)
	if err != nil {
		return nil, fmt.Errorf("Submit: %w", err)
	}
	if settled {
		return nil, fmt.Errorf("Submit: %w", domain.ErrAlreadySettled)
	}

	if req.Channel == domain.ChannelWallet {
		return s.submitWallet(ctx, req, order, amountMinor, evidence)
	}
	return s.submitReviewed(ctx, req, amountMinor, evidence)
}

// resolveObligation loads the order and returns the outstanding amount the
// submission must match, in minor units.
func (s *Service) resolveObligation(ctx context.Context, req SubmitRequest) (*domain.Order, int64, error) {
	if !req.Channel.IsValid() {
		return nil, 0, fmt.Errorf("channel %q: %w", req.Channel, domain.ErrInvalidEvidence)
	}
	if !req.Obligation.IsValid() {
		return nil, 0, fmt.Errorf("obligation %q: %w", req.Obligation, domain.ErrOrderNotPayable)
	}
	if req.Amount.Sign() <= 0 {
		return nil, 0, domain.ErrInvalidAmount
	}

	order, err := s.orders.GetByID(ctx, req.OrderID)
	if err != nil {
		return nil, 0, err
	}
	if order.PayerID != req.PayerID {
		return nil, 0, domain.ErrNotFound
	}
	if req.Currency != order.Currency {
		return nil, 0, domain.ErrCurrencyMismatch
	}

	switch req.Obligation {
	case domain.ObligationOrderTotal:
		return order, order.TotalAmount, nil
	case domain.ObligationShippingTax:
		if order.CounterpartyType != domain.CounterpartyDirect {
			return nil, 0, domain.ErrOrderNotPayable
		}
		if order.ShippingTaxPaymentStatus == domain.ShippingTaxNotRequired {
			return nil, 0, domain.ErrOrderNotPayable
		}
		obligation, ok := order.ShippingTaxObligation()
		if !ok {
			return nil, 0, domain.ErrOrderNotPayable
		}
		return order, obligation, nil
	default:
		return nil, 0, domain.ErrOrderNotPayable
	}
}

// submitReviewed creates (or supersedes toward) a pending_confirmation
// attempt for channels that a reviewer must verify.
func (s *Service) submitReviewed(ctx context.Context, req SubmitRequest, amountMinor int64, evidence json.RawMessage) (*domain.PaymentAttempt, error) {
	log := logging.FromContext(ctx)

	active, err := s.attempts.GetActive(ctx, req.OrderID, req.Channel, req.Obligation)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("submitReviewed: %w", err)
	}

	if active != nil && sameEvidence(req.Channel, active.Evidence, evidence) {
		log.Info("duplicate submission, returning active attempt",
			"attempt_id", active.ID, "order_id", req.OrderID, "channel", req.Channel)
		return active, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("submitReviewed: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	if active != nil {
		if err := s.attempts.TransitionStatus(ctx, tx, active.ID,
			active.Status, domain.AttemptStatusSuperseded, nil, nil, nil); err != nil {
			return nil, fmt.Errorf("submitReviewed: supersede: %w", err)
		}
		log.Info("attempt superseded by new evidence",
			"superseded_attempt_id", active.ID, "order_id", req.OrderID, "channel", req.Channel)
	}

	attempt := &domain.PaymentAttempt{
		ID:         uuid.New(),
		OrderID:    req.OrderID,
		PayerID:    req.PayerID,
		Channel:    req.Channel,
		Obligation: req.Obligation,
		Amount:     amountMinor,
		Currency:   req.Currency,
		Evidence:   evidence,
		Status:     domain.AttemptStatusPendingConfirmation,
		CreatedAt:  now,
	}
	if err := s.attempts.Create(ctx, tx, attempt); err != nil {
		return nil, fmt.Errorf("submitReviewed: %w", err)
	}

	if req.Obligation == domain.ObligationShippingTax {
		if err := s.orders.UpdateShippingTaxStatus(ctx, tx, req.OrderID,
			domain.ShippingTaxPendingConfirmation, nil); err != nil {
			return nil, fmt.Errorf("submitReviewed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("submitReviewed: commit: %w", err)
	}

	log.Info("payment attempt submitted",
		"attempt_id", attempt.ID,
		"order_id", req.OrderID,
		"channel", req.Channel,
		"obligation", req.Obligation,
		"amount", amountMinor,
	)
	return attempt, nil
}

// submitWallet captures a wallet payment synchronously: the debit, the paid
// attempt, and the settlement link are one atomic unit. An insufficient
// balance leaves only a failed attempt behind for the audit trail.
func (s *Service) submitWallet(ctx context.Context, req SubmitRequest, order *domain.Order, amountMinor int64, evidence json.RawMessage) (*domain.PaymentAttempt, error) {
	log := logging.FromContext(ctx)

	wallet, err := s.accounts.GetByOwnerID(ctx, req.PayerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("submitWallet: %w", domain.ErrWalletNotFound)
		}
		return nil, fmt.Errorf("submitWallet: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("submitWallet: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	if _, err := s.ledger.DebitTx(ctx, tx, wallet.ID, amountMinor); err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			tx.Rollback()
			s.recordFailedAttempt(ctx, req, amountMinor, evidence, now)
			return nil, fmt.Errorf("submitWallet: %w", domain.ErrInsufficientFunds)
		}
		return nil, fmt.Errorf("submitWallet: %w", err)
	}

	attempt := &domain.PaymentAttempt{
		ID:         uuid.New(),
		OrderID:    req.OrderID,
		PayerID:    req.PayerID,
		Channel:    domain.ChannelWallet,
		Obligation: req.Obligation,
		Amount:     amountMinor,
		Currency:   req.Currency,
		Evidence:   evidence,
		Status:     domain.AttemptStatusPaid,
		DecidedAt:  &now,
		CreatedAt:  now,
	}
	if err := s.attempts.Create(ctx, tx, attempt); err != nil {
		return nil, fmt.Errorf("submitWallet: %w", err)
	}

	if err := s.linker.Link(ctx, tx, req.OrderID, req.Obligation, attempt.ID, now); err != nil {
		return nil, fmt.Errorf("submitWallet: %w", err)
	}

	if req.Obligation == domain.ObligationShippingTax {
		if err := s.orders.UpdateShippingTaxStatus(ctx, tx, req.OrderID, domain.ShippingTaxPaid, &now); err != nil {
			return nil, fmt.Errorf("submitWallet: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("submitWallet: commit: %w", err)
	}

	s.handler.OnPaymentSettled(&events.PaymentSettledEvent{
		AttemptID:  attempt.ID,
		OrderID:    attempt.OrderID,
		PayerID:    attempt.PayerID,
		Channel:    attempt.Channel,
		Obligation: attempt.Obligation,
		Amount:     attempt.Amount,
		Currency:   attempt.Currency,
	})

	// Best-effort: the capture has already committed.
	go func() {
		nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.Notify(nctx, req.PayerID, notify.Notification{
			Title:    "Payment captured",
			Body:     fmt.Sprintf("Your wallet payment for order %s was captured.", req.OrderID),
			Severity: notify.SeverityInfo,
			LinkURL:  fmt.Sprintf("/orders/%s", req.OrderID),
			Category: "payment",
		}); err != nil {
			logging.FromContext(nctx).Warn("notification delivery failed",
				"account_id", req.PayerID, "error", err)
		}
	}()

	log.Info("wallet payment captured",
		"attempt_id", attempt.ID,
		"order_id", req.OrderID,
		"wallet_account", wallet.ID,
		"amount", amountMinor,
	)
	return attempt, nil
}

// recordFailedAttempt keeps a failed wallet capture visible to support
// tooling. Best-effort: a write failure here must not mask the
// insufficient-funds error the payer needs to see.
func (s *Service) recordFailedAttempt(ctx context.Context, req SubmitRequest, amountMinor int64, evidence json.RawMessage, now time.Time) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		logging.FromContext(ctx).Warn("failed attempt audit write skipped", "error", err)
		return
	}
	defer tx.Rollback()

	attempt := &domain.PaymentAttempt{
		ID:         uuid.New(),
		OrderID:    req.OrderID,
		PayerID:    req.PayerID,
		Channel:    domain.ChannelWallet,
		Obligation: req.Obligation,
		Amount:     amountMinor,
		Currency:   req.Currency,
		Evidence:   evidence,
		Status:     domain.AttemptStatusFailed,
		CreatedAt:  now,
	}
	if err := s.attempts.Create(ctx, tx, attempt); err != nil {
		logging.FromContext(ctx).Warn("failed attempt audit write skipped", "error", err)
		return
	}
	if err := tx.Commit(); err != nil {
		logging.FromContext(ctx).Warn("failed attempt audit write skipped", "error", err)
	}
}

// sameEvidence reports whether a stored blob matches a freshly canonicalized
// submission. The jsonb column rewrites key order and whitespace on the way
// back out, so the stored side must be re-canonicalized before comparing.
func sameEvidence(channel domain.Channel, stored, submitted json.RawMessage) bool {
	canon, err := domain.ParseEvidence(channel, stored)
	if err != nil {
		return false
	}
	return bytes.Equal(canon, submitted)
}

// minorUnits converts a decimal currency amount to minor units, rejecting
// sub-cent precision.
func minorUnits(amount decimal.Decimal) (int64, error) {
	shifted := amount.Shift(2)
	if !shifted.IsInteger() {
		return 0, domain.ErrInvalidAmount
	}
	return shifted.IntPart(), nil
}
