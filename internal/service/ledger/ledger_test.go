package ledger

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazaarhq/payments/internal/domain"
	"github.com/bazaarhq/payments/internal/repository"
	"github.com/bazaarhq/payments/internal/testutil"
)

func setupLedgerTest(t *testing.T, db *sql.DB) *Service {
	t.Helper()
	return NewService(
		repository.NewAccountRepository(db),
		repository.NewLedgerRepository(db),
		db,
	)
}

func TestDebit_HappyPath(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := setupLedgerTest(t, db)

	acct := testutil.SeedAccount(t, db, uuid.New(), 10_000, 0)

	txn, err := svc.Debit(ctx, acct.ID, 2_500)
	require.NoError(t, err)
	assert.Equal(t, int64(-2_500), txn.Amount)
	assert.Equal(t, domain.TransactionKindWithdrawal, txn.Kind)
	assert.Equal(t, domain.TransactionStatusCompleted, txn.Status)

	available, pending := testutil.GetBalances(t, db, acct.ID)
	assert.Equal(t, int64(7_500), available)
	assert.Equal(t, int64(0), pending)
}

func TestDebit_InsufficientFunds(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := setupLedgerTest(t, db)

	acct := testutil.SeedAccount(t, db, uuid.New(), 1_000, 0)

	_, err := svc.Debit(ctx, acct.ID, 1_001)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	available, _ := testutil.GetBalances(t, db, acct.ID)
	assert.Equal(t, int64(1_000), available)
	assert.Equal(t, int64(0), testutil.SumCompleted(t, db, acct.ID))
}

func TestDebit_InvalidAmount(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := setupLedgerTest(t, db)

	acct := testutil.SeedAccount(t, db, uuid.New(), 1_000, 0)

	_, err := svc.Debit(ctx, acct.ID, 0)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Debit(ctx, acct.ID, -50)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

// Two concurrent debits that each exceed half the balance: exactly one must
// win, and the balance must never go negative.
func TestDebit_ConcurrentRace(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := setupLedgerTest(t, db)

	acct := testutil.SeedAccount(t, db, uuid.New(), 10_000, 0)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Debit(ctx, acct.ID, 6_000)
		}()
	}
	wg.Wait()

	var failed int
	for _, err := range errs {
		if err != nil {
			require.ErrorIs(t, err, domain.ErrInsufficientFunds)
			failed++
		}
	}
	assert.Equal(t, 1, failed, "exactly one debit should lose the race")

	available, _ := testutil.GetBalances(t, db, acct.ID)
	assert.Equal(t, int64(4_000), available)
	assert.Equal(t, int64(-6_000), testutil.SumCompleted(t, db, acct.ID))
}

func TestCredit_DepositIsImmediatelyAvailable(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := setupLedgerTest(t, db)

	acct := testutil.SeedAccount(t, db, uuid.New(), 0, 0)

	txn, err := svc.Credit(ctx, acct.ID, 5_000, domain.TransactionKindDeposit)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, txn.Status)

	available, pending := testutil.GetBalances(t, db, acct.ID)
	assert.Equal(t, int64(5_000), available)
	assert.Equal(t, int64(0), pending)
}

func TestCredit_CommissionIsHeldPending(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := setupLedgerTest(t, db)

	acct := testutil.SeedAccount(t, db, uuid.New(), 0, 0)

	txn, err := svc.Credit(ctx, acct.ID, 750, domain.TransactionKindCommission)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusPending, txn.Status)

	available, pending := testutil.GetBalances(t, db, acct.ID)
	assert.Equal(t, int64(0), available)
	assert.Equal(t, int64(750), pending)
}

func TestClear_MovesPendingToAvailable(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := setupLedgerTest(t, db)

	acct := testutil.SeedAccount(t, db, uuid.New(), 0, 0)

	txn, err := svc.Credit(ctx, acct.ID, 750, domain.TransactionKindBonus)
	require.NoError(t, err)

	require.NoError(t, svc.Clear(ctx, txn.ID))

	available, pending := testutil.GetBalances(t, db, acct.ID)
	assert.Equal(t, int64(750), available)
	assert.Equal(t, int64(0), pending)

	// Clearing twice is rejected: the transaction is no longer pending.
	err = svc.Clear(ctx, txn.ID)
	require.ErrorIs(t, err, domain.ErrNotClearable)
}

func TestClear_RejectsCompletedTransaction(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := setupLedgerTest(t, db)

	acct := testutil.SeedAccount(t, db, uuid.New(), 0, 0)

	txn, err := svc.Credit(ctx, acct.ID, 100, domain.TransactionKindDeposit)
	require.NoError(t, err)

	err = svc.Clear(ctx, txn.ID)
	require.ErrorIs(t, err, domain.ErrNotClearable)
}

func TestReverse_NetsToZero(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := setupLedgerTest(t, db)

	acct := testutil.SeedAccount(t, db, uuid.New(), 0, 0)

	orig, err := svc.Credit(ctx, acct.ID, 3_000, domain.TransactionKindDeposit)
	require.NoError(t, err)

	rev, err := svc.Reverse(ctx, orig.ID)
	require.NoError(t, err)
	assert.Equal(t, -orig.Amount, rev.Amount)
	assert.Equal(t, domain.TransactionKindReversal, rev.Kind)
	require.NotNil(t, rev.ReversalOf)
	assert.Equal(t, orig.ID, *rev.ReversalOf)

	available, _ := testutil.GetBalances(t, db, acct.ID)
	assert.Equal(t, int64(0), available)
	assert.Equal(t, int64(0), testutil.SumCompleted(t, db, acct.ID))
}

func TestReverse_OnlyOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := setupLedgerTest(t, db)

	acct := testutil.SeedAccount(t, db, uuid.New(), 0, 0)

	orig, err := svc.Credit(ctx, acct.ID, 3_000, domain.TransactionKindDeposit)
	require.NoError(t, err)

	_, err = svc.Reverse(ctx, orig.ID)
	require.NoError(t, err)

	_, err = svc.Reverse(ctx, orig.ID)
	require.ErrorIs(t, err, domain.ErrAlreadyReversed)
}

func TestReverse_RejectsPendingTransaction(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := setupLedgerTest(t, db)

	acct := testutil.SeedAccount(t, db, uuid.New(), 0, 0)

	txn, err := svc.Credit(ctx, acct.ID, 500, domain.TransactionKindCommission)
	require.NoError(t, err)

	_, err = svc.Reverse(ctx, txn.ID)
	require.ErrorIs(t, err, domain.ErrNotReversible)
}

// The materialized balances must always equal the signed sums over the
// transaction log, bucketed by status.
func TestBalances_AgreeWithTransactionLog(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := setupLedgerTest(t, db)

	acct := testutil.SeedAccount(t, db, uuid.New(), 0, 0)

	_, err := svc.Credit(ctx, acct.ID, 10_000, domain.TransactionKindDeposit)
	require.NoError(t, err)
	bonus, err := svc.Credit(ctx, acct.ID, 2_000, domain.TransactionKindBonus)
	require.NoError(t, err)
	_, err = svc.Credit(ctx, acct.ID, 500, domain.TransactionKindCommission)
	require.NoError(t, err)
	_, err = svc.Debit(ctx, acct.ID, 4_000)
	require.NoError(t, err)
	require.NoError(t, svc.Clear(ctx, bonus.ID))

	balance, err := svc.GetBalance(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8_000), balance.Available)
	assert.Equal(t, int64(500), balance.Pending)
	assert.Equal(t, balance.Available, testutil.SumCompleted(t, db, acct.ID))
}

func TestListTransactions_Paginates(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	svc := setupLedgerTest(t, db)

	acct := testutil.SeedAccount(t, db, uuid.New(), 0, 0)
	for range 5 {
		_, err := svc.Credit(ctx, acct.ID, 100, domain.TransactionKindDeposit)
		require.NoError(t, err)
	}

	txns, total, err := svc.ListTransactions(ctx, acct.ID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, txns, 2)

	txns, total, err = svc.ListTransactions(ctx, acct.ID, 10, 4)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, txns, 1)
}
