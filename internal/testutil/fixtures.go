package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bazaarhq/payments/internal/domain"
)

func SeedAccount(t *testing.T, db *sql.DB, ownerID uuid.UUID, available, pending int64) *domain.Account {
	t.Helper()

	a := &domain.Account{
		ID:               uuid.New(),
		OwnerID:          ownerID,
		AvailableBalance: available,
		PendingBalance:   pending,
		Version:          0,
		CreatedAt:        time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO accounts (id, owner_id, available_balance, pending_balance, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.OwnerID, a.AvailableBalance, a.PendingBalance, a.Version, a.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed account for owner %s: %v", ownerID, err)
	}
	return a
}

type OrderOpts struct {
	CounterpartyType  domain.CounterpartyType
	TotalAmount       int64
	Currency          domain.Currency
	ShippingFee       *int64
	TaxFee            *int64
	ShippingTaxStatus domain.ShippingTaxStatus
}

func SeedOrder(t *testing.T, db *sql.DB, payerID uuid.UUID, opts OrderOpts) *domain.Order {
	t.Helper()

	if opts.CounterpartyType == "" {
		opts.CounterpartyType = domain.CounterpartyDirect
	}
	if opts.Currency == "" {
		opts.Currency = domain.CurrencyUSD
	}
	if opts.ShippingTaxStatus == "" {
		opts.ShippingTaxStatus = domain.ShippingTaxNotRequired
	}

	o := &domain.Order{
		ID:                       uuid.New(),
		PayerID:                  payerID,
		CounterpartyType:         opts.CounterpartyType,
		TotalAmount:              opts.TotalAmount,
		Currency:                 opts.Currency,
		ShippingFee:              opts.ShippingFee,
		TaxFee:                   opts.TaxFee,
		ShippingTaxPaymentStatus: opts.ShippingTaxStatus,
		CreatedAt:                time.Now().UTC(),
	}

	_, err := db.Exec(
		`INSERT INTO orders (id, payer_id, counterparty_type, total_amount, currency,
		                     shipping_fee, tax_fee, shipping_tax_payment_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.PayerID, o.CounterpartyType, o.TotalAmount, o.Currency,
		o.ShippingFee, o.TaxFee, o.ShippingTaxPaymentStatus, o.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed order for payer %s: %v", payerID, err)
	}
	return o
}

func Int64Ptr(v int64) *int64 { return &v }

func GetBalances(t *testing.T, db *sql.DB, accountID uuid.UUID) (available, pending int64) {
	t.Helper()

	err := db.QueryRow(
		`SELECT available_balance, pending_balance FROM accounts WHERE id = $1`, accountID,
	).Scan(&available, &pending)
	if err != nil {
		t.Fatalf("get balances %s: %v", accountID, err)
	}
	return available, pending
}

// SumCompleted is the signed sum of completed ledger transactions, the value
// the materialized balances must always agree with.
func SumCompleted(t *testing.T, db *sql.DB, accountID uuid.UUID) int64 {
	t.Helper()

	var sum int64
	err := db.QueryRow(
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_transactions
		 WHERE account_id = $1 AND status = 'completed'`, accountID,
	).Scan(&sum)
	if err != nil {
		t.Fatalf("sum completed transactions %s: %v", accountID, err)
	}
	return sum
}

func GetAttemptStatus(t *testing.T, db *sql.DB, attemptID uuid.UUID) domain.AttemptStatus {
	t.Helper()

	var status domain.AttemptStatus
	err := db.QueryRow(
		`SELECT status FROM payment_attempts WHERE id = $1`, attemptID,
	).Scan(&status)
	if err != nil {
		t.Fatalf("get attempt status %s: %v", attemptID, err)
	}
	return status
}

func GetShippingTaxStatus(t *testing.T, db *sql.DB, orderID uuid.UUID) domain.ShippingTaxStatus {
	t.Helper()

	var status domain.ShippingTaxStatus
	err := db.QueryRow(
		`SELECT shipping_tax_payment_status FROM orders WHERE id = $1`, orderID,
	).Scan(&status)
	if err != nil {
		t.Fatalf("get shipping tax status %s: %v", orderID, err)
	}
	return status
}

func CountSettlements(t *testing.T, db *sql.DB, orderID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM order_settlements WHERE order_id = $1`, orderID,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count settlements %s: %v", orderID, err)
	}
	return count
}
