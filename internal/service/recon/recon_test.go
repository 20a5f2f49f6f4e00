package recon

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazaarhq/payments/internal/domain"
	"github.com/bazaarhq/payments/internal/events"
	"github.com/bazaarhq/payments/internal/notify"
	"github.com/bazaarhq/payments/internal/repository"
	"github.com/bazaarhq/payments/internal/service/visibility"
	"github.com/bazaarhq/payments/internal/testutil"
)

type capturingHandler struct {
	mu       sync.Mutex
	settled  []*events.PaymentSettledEvent
	rejected []*events.PaymentRejectedEvent
}

func (h *capturingHandler) OnPaymentSettled(e *events.PaymentSettledEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.settled = append(h.settled, e)
}

func (h *capturingHandler) OnPaymentRejected(e *events.PaymentRejectedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejected = append(h.rejected, e)
}

func setupReconTest(t *testing.T, db *sql.DB) (*Service, *capturingHandler) {
	t.Helper()

	handler := &capturingHandler{}
	linker := NewLinker(repository.NewSettlementRepository(db))
	svc := NewService(
		repository.NewAttemptRepository(db),
		repository.NewOrderRepository(db),
		linker,
		db,
		notify.NopDispatcher{},
		handler,
	)
	return svc, handler
}

func seedPendingAttempt(t *testing.T, db *sql.DB, orderID, payerID uuid.UUID, obligation domain.Obligation, amount int64) *domain.PaymentAttempt {
	t.Helper()

	a := &domain.PaymentAttempt{
		ID:         uuid.New(),
		OrderID:    orderID,
		PayerID:    payerID,
		Channel:    domain.ChannelBank,
		Obligation: obligation,
		Amount:     amount,
		Currency:   domain.CurrencyUSD,
		Evidence:   json.RawMessage(`{"proof_document_id":"doc-1","description":"wire"}`),
		Status:     domain.AttemptStatusPendingConfirmation,
		CreatedAt:  time.Now().UTC(),
	}

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, repository.NewAttemptRepository(db).Create(context.Background(), tx, a))
	require.NoError(t, tx.Commit())
	return a
}

func TestDecide_ApproveSettlesAttempt(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, handler := setupReconTest(t, db)

	payerID := uuid.New()
	order := testutil.SeedOrder(t, db, payerID, testutil.OrderOpts{TotalAmount: 12_000})
	attempt := seedPendingAttempt(t, db, order.ID, payerID, domain.ObligationOrderTotal, 12_000)

	reviewerID := uuid.New()
	decided, err := svc.Decide(ctx, DecideRequest{
		AttemptID:  attempt.ID,
		ReviewerID: reviewerID,
		Decision:   DecisionApprove,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusPaid, decided.Status)
	require.NotNil(t, decided.DecidedBy)
	assert.Equal(t, reviewerID, *decided.DecidedBy)
	assert.Equal(t, 1, testutil.CountSettlements(t, db, order.ID))
	require.Len(t, handler.settled, 1)
	assert.Equal(t, attempt.ID, handler.settled[0].AttemptID)
}

func TestDecide_RejectRequiresReason(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, _ := setupReconTest(t, db)

	payerID := uuid.New()
	order := testutil.SeedOrder(t, db, payerID, testutil.OrderOpts{TotalAmount: 12_000})
	attempt := seedPendingAttempt(t, db, order.ID, payerID, domain.ObligationOrderTotal, 12_000)

	_, err := svc.Decide(ctx, DecideRequest{
		AttemptID:  attempt.ID,
		ReviewerID: uuid.New(),
		Decision:   DecisionReject,
	})
	require.ErrorIs(t, err, domain.ErrReasonRequired)
	assert.Equal(t, domain.AttemptStatusPendingConfirmation, testutil.GetAttemptStatus(t, db, attempt.ID))
}

func TestDecide_RejectPersistsReason(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, handler := setupReconTest(t, db)

	payerID := uuid.New()
	order := testutil.SeedOrder(t, db, payerID, testutil.OrderOpts{TotalAmount: 12_000})
	attempt := seedPendingAttempt(t, db, order.ID, payerID, domain.ObligationOrderTotal, 12_000)

	decided, err := svc.Decide(ctx, DecideRequest{
		AttemptID:  attempt.ID,
		ReviewerID: uuid.New(),
		Decision:   DecisionReject,
		Reason:     "proof document does not match the wire amount",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusRejected, decided.Status)
	require.NotNil(t, decided.RejectionReason)
	assert.Equal(t, "proof document does not match the wire amount", *decided.RejectionReason)
	assert.Equal(t, 0, testutil.CountSettlements(t, db, order.ID))
	require.Len(t, handler.rejected, 1)
}

func TestDecide_DoubleApproveIsNoOp(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, handler := setupReconTest(t, db)

	payerID := uuid.New()
	order := testutil.SeedOrder(t, db, payerID, testutil.OrderOpts{TotalAmount: 12_000})
	attempt := seedPendingAttempt(t, db, order.ID, payerID, domain.ObligationOrderTotal, 12_000)

	req := DecideRequest{AttemptID: attempt.ID, ReviewerID: uuid.New(), Decision: DecisionApprove}

	first, err := svc.Decide(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusPaid, first.Status)

	second, err := svc.Decide(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusPaid, second.Status)

	assert.Equal(t, 1, testutil.CountSettlements(t, db, order.ID))
	assert.Len(t, handler.settled, 1, "side effects must not fire twice")
}

func TestDecide_RejectAfterApproveFails(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, _ := setupReconTest(t, db)

	payerID := uuid.New()
	order := testutil.SeedOrder(t, db, payerID, testutil.OrderOpts{TotalAmount: 12_000})
	attempt := seedPendingAttempt(t, db, order.ID, payerID, domain.ObligationOrderTotal, 12_000)

	_, err := svc.Decide(ctx, DecideRequest{AttemptID: attempt.ID, ReviewerID: uuid.New(), Decision: DecisionApprove})
	require.NoError(t, err)

	_, err = svc.Decide(ctx, DecideRequest{
		AttemptID:  attempt.ID,
		ReviewerID: uuid.New(),
		Decision:   DecisionReject,
		Reason:     "changed my mind",
	})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.AttemptStatusPaid, testutil.GetAttemptStatus(t, db, attempt.ID))
}

// Two reviewers deciding the same attempt at once: at most one transition
// happens, and a losing approve call resolves to a no-op confirmation.
func TestDecide_ConcurrentApprovals(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, handler := setupReconTest(t, db)

	payerID := uuid.New()
	order := testutil.SeedOrder(t, db, payerID, testutil.OrderOpts{TotalAmount: 12_000})
	attempt := seedPendingAttempt(t, db, order.ID, payerID, domain.ObligationOrderTotal, 12_000)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Decide(ctx, DecideRequest{
				AttemptID:  attempt.ID,
				ReviewerID: uuid.New(),
				Decision:   DecisionApprove,
			})
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, domain.AttemptStatusPaid, testutil.GetAttemptStatus(t, db, attempt.ID))
	assert.Equal(t, 1, testutil.CountSettlements(t, db, order.ID))
	assert.Len(t, handler.settled, 1)
}

// Direct order with shipping 15.00 and tax 3.00: the approval flips the
// order's shipping/tax status and opens the tracking/invoice gate.
func TestDecide_ShippingTaxApprovalOpensVisibility(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, _ := setupReconTest(t, db)

	payerID := uuid.New()
	order := testutil.SeedOrder(t, db, payerID, testutil.OrderOpts{
		TotalAmount:       12_000,
		ShippingFee:       testutil.Int64Ptr(1_500),
		TaxFee:            testutil.Int64Ptr(300),
		ShippingTaxStatus: domain.ShippingTaxPendingConfirmation,
	})
	attempt := seedPendingAttempt(t, db, order.ID, payerID, domain.ObligationShippingTax, 1_800)

	orderRepo := repository.NewOrderRepository(db)
	before, err := orderRepo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, visibility.CanViewTrackingAndInvoice(before))
	assert.True(t, visibility.ShouldShowPaymentPrompt(before))

	_, err = svc.Decide(ctx, DecideRequest{AttemptID: attempt.ID, ReviewerID: uuid.New(), Decision: DecisionApprove})
	require.NoError(t, err)

	after, err := orderRepo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShippingTaxPaid, after.ShippingTaxPaymentStatus)
	require.NotNil(t, after.ShippingTaxPaidAt)
	assert.True(t, visibility.CanViewTrackingAndInvoice(after))
	assert.False(t, visibility.ShouldShowPaymentPrompt(after))
}

func TestDecide_ShippingTaxRejectionMarksOrder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, _ := setupReconTest(t, db)

	payerID := uuid.New()
	order := testutil.SeedOrder(t, db, payerID, testutil.OrderOpts{
		TotalAmount:       12_000,
		ShippingFee:       testutil.Int64Ptr(1_500),
		TaxFee:            testutil.Int64Ptr(300),
		ShippingTaxStatus: domain.ShippingTaxPendingConfirmation,
	})
	attempt := seedPendingAttempt(t, db, order.ID, payerID, domain.ObligationShippingTax, 1_800)

	_, err := svc.Decide(ctx, DecideRequest{
		AttemptID:  attempt.ID,
		ReviewerID: uuid.New(),
		Decision:   DecisionReject,
		Reason:     "no matching wire received",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ShippingTaxRejected, testutil.GetShippingTaxStatus(t, db, order.ID))
}

// A second obligation settlement for the same order slot must fail even when
// driven through a fresh attempt.
func TestDecide_SecondSettlementBlocked(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, _ := setupReconTest(t, db)

	payerID := uuid.New()
	order := testutil.SeedOrder(t, db, payerID, testutil.OrderOpts{TotalAmount: 12_000})

	first := seedPendingAttempt(t, db, order.ID, payerID, domain.ObligationOrderTotal, 12_000)
	_, err := svc.Decide(ctx, DecideRequest{AttemptID: first.ID, ReviewerID: uuid.New(), Decision: DecisionApprove})
	require.NoError(t, err)

	// Simulate a stale attempt that slipped past intake before settlement.
	second := &domain.PaymentAttempt{
		ID:         uuid.New(),
		OrderID:    order.ID,
		PayerID:    payerID,
		Channel:    domain.ChannelCrypto,
		Obligation: domain.ObligationOrderTotal,
		Amount:     12_000,
		Currency:   domain.CurrencyUSD,
		Evidence:   json.RawMessage(`{"tx_hash":"0xccc","network":"ethereum"}`),
		Status:     domain.AttemptStatusPendingConfirmation,
		CreatedAt:  time.Now().UTC(),
	}
	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, repository.NewAttemptRepository(db).Create(ctx, tx, second))
	require.NoError(t, tx.Commit())

	_, err = svc.Decide(ctx, DecideRequest{AttemptID: second.ID, ReviewerID: uuid.New(), Decision: DecisionApprove})
	require.ErrorIs(t, err, domain.ErrAlreadySettled)
	assert.Equal(t, 1, testutil.CountSettlements(t, db, order.ID))

	// The failed approval must not have moved the attempt to paid.
	assert.Equal(t, domain.AttemptStatusPendingConfirmation, testutil.GetAttemptStatus(t, db, second.ID))
}

func TestGetAttemptForPayer_HidesOthers(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc, _ := setupReconTest(t, db)

	payerID := uuid.New()
	order := testutil.SeedOrder(t, db, payerID, testutil.OrderOpts{TotalAmount: 12_000})
	attempt := seedPendingAttempt(t, db, order.ID, payerID, domain.ObligationOrderTotal, 12_000)

	got, err := svc.GetAttemptForPayer(ctx, attempt.ID, payerID)
	require.NoError(t, err)
	assert.Equal(t, attempt.ID, got.ID)

	_, err = svc.GetAttemptForPayer(ctx, attempt.ID, uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}
