package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bazaarhq/payments/internal/domain"
)

type accountRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Account, error)
	UpdateBalances(ctx context.Context, tx *sql.Tx, id uuid.UUID, available, pending, newVersion int64) error
}

type ledgerRepo interface {
	Create(ctx context.Context, tx *sql.Tx, txn *domain.LedgerTransaction) error
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.LedgerTransaction, error)
	UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.TransactionStatus) error
	HasReversal(ctx context.Context, tx *sql.Tx, id uuid.UUID) (bool, error)
	GetByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerTransaction, int, error)
}

// Service is the only component allowed to move wallet balances. Every
// mutation locks the account row, writes the ledger transaction, and updates
// the materialized balances in one database transaction, so a transaction
// without a balance change (or the reverse) cannot exist.
type Service struct {
	accounts accountRepo
	ledger   ledgerRepo
	db       *sql.DB
}

func NewService(accounts accountRepo, ledger ledgerRepo, db *sql.DB) *Service {
	return &Service{accounts: accounts, ledger: ledger, db: db}
}

// Debit withdraws amount from the account's available balance, failing with
// ErrInsufficientFunds before any state changes. Never partially debits.
func (s *Service) Debit(ctx context.Context, accountID uuid.UUID, amount int64) (*domain.LedgerTransaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Debit: begin tx: %w", err)
	}
	defer tx.Rollback()

	txn, err := s.DebitTx(ctx, tx, accountID, amount)
	if err != nil {
		return nil, fmt.Errorf("Debit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Debit: commit: %w", err)
	}
	return txn, nil
}

// DebitTx is Debit running inside a caller-owned transaction; the wallet
// payment channel uses it so the debit, the attempt record, and the
// settlement commit or roll back together.
func (s *Service) DebitTx(ctx context.Context, tx *sql.Tx, accountID uuid.UUID, amount int64) (*domain.LedgerTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("DebitTx: %w", domain.ErrInvalidAmount)
	}

	acct, err := s.accounts.GetForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, fmt.Errorf("DebitTx: %w", err)
	}

	if acct.AvailableBalance < amount {
		return nil, fmt.Errorf("DebitTx: %w", domain.ErrInsufficientFunds)
	}

	txn := &domain.LedgerTransaction{
		ID:            uuid.New(),
		AccountID:     accountID,
		Amount:        -amount,
		Kind:          domain.TransactionKindWithdrawal,
		Status:        domain.TransactionStatusCompleted,
		BalanceBefore: acct.AvailableBalance,
		BalanceAfter:  acct.AvailableBalance - amount,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.ledger.Create(ctx, tx, txn); err != nil {
		return nil, fmt.Errorf("DebitTx: %w", err)
	}

	if err := s.accounts.UpdateBalances(ctx, tx, accountID, acct.AvailableBalance-amount, acct.PendingBalance, acct.Version+1); err != nil {
		return nil, fmt.Errorf("DebitTx: %w", err)
	}

	return txn, nil
}

// Credit adds amount to the account. Deposits land in the available balance
// immediately; commissions and bonuses are held in the pending balance until
// an explicit Clear.
func (s *Service) Credit(ctx context.Context, accountID uuid.UUID, amount int64, kind domain.TransactionKind) (*domain.LedgerTransaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("Credit: %w", domain.ErrInvalidAmount)
	}

	var status domain.TransactionStatus
	switch kind {
	case domain.TransactionKindDeposit:
		status = domain.TransactionStatusCompleted
	case domain.TransactionKindCommission, domain.TransactionKindBonus:
		status = domain.TransactionStatusPending
	default:
		return nil, fmt.Errorf("Credit: kind %q not creditable", kind)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Credit: begin tx: %w", err)
	}
	defer tx.Rollback()

	acct, err := s.accounts.GetForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, fmt.Errorf("Credit: %w", err)
	}

	available, pending := acct.AvailableBalance, acct.PendingBalance
	var before, after int64
	if status == domain.TransactionStatusCompleted {
		before, after = available, available+amount
		available += amount
	} else {
		before, after = pending, pending+amount
		pending += amount
	}

	txn := &domain.LedgerTransaction{
		ID:            uuid.New(),
		AccountID:     accountID,
		Amount:        amount,
		Kind:          kind,
		Status:        status,
		BalanceBefore: before,
		BalanceAfter:  after,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.ledger.Create(ctx, tx, txn); err != nil {
		return nil, fmt.Errorf("Credit: %w", err)
	}

	if err := s.accounts.UpdateBalances(ctx, tx, accountID, available, pending, acct.Version+1); err != nil {
		return nil, fmt.Errorf("Credit: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Credit: commit: %w", err)
	}
	return txn, nil
}

// Clear moves a pending commission or bonus into the available balance. It
// is the only path from pending to spendable.
func (s *Service) Clear(ctx context.Context, transactionID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Clear: begin tx: %w", err)
	}
	defer tx.Rollback()

	txn, err := s.ledger.GetForUpdate(ctx, tx, transactionID)
	if err != nil {
		return fmt.Errorf("Clear: %w", err)
	}

	if txn.Status != domain.TransactionStatusPending {
		return fmt.Errorf("Clear: %w", domain.ErrNotClearable)
	}

	acct, err := s.accounts.GetForUpdate(ctx, tx, txn.AccountID)
	if err != nil {
		return fmt.Errorf("Clear: %w", err)
	}

	if err := s.ledger.UpdateStatus(ctx, tx, transactionID, domain.TransactionStatusPending, domain.TransactionStatusCompleted); err != nil {
		return fmt.Errorf("Clear: %w", err)
	}

	if err := s.accounts.UpdateBalances(ctx, tx, acct.ID,
		acct.AvailableBalance+txn.Amount, acct.PendingBalance-txn.Amount, acct.Version+1); err != nil {
		return fmt.Errorf("Clear: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Clear: commit: %w", err)
	}
	return nil
}

// Reverse undoes a completed transaction by appending a reversal that nets
// to zero against it. A transaction can be reversed at most once; the lock
// on the original row serializes racing reversals.
func (s *Service) Reverse(ctx context.Context, transactionID uuid.UUID) (*domain.LedgerTransaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("Reverse: begin tx: %w", err)
	}
	defer tx.Rollback()

	orig, err := s.ledger.GetForUpdate(ctx, tx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("Reverse: %w", err)
	}

	if orig.Status != domain.TransactionStatusCompleted {
		return nil, fmt.Errorf("Reverse: %w", domain.ErrNotReversible)
	}

	reversed, err := s.ledger.HasReversal(ctx, tx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("Reverse: %w", err)
	}
	if reversed {
		return nil, fmt.Errorf("Reverse: %w", domain.ErrAlreadyReversed)
	}

	acct, err := s.accounts.GetForUpdate(ctx, tx, orig.AccountID)
	if err != nil {
		return nil, fmt.Errorf("Reverse: %w", err)
	}

	newAvailable := acct.AvailableBalance - orig.Amount
	if newAvailable < 0 {
		return nil, fmt.Errorf("Reverse: %w", domain.ErrInsufficientFunds)
	}

	txn := &domain.LedgerTransaction{
		ID:            uuid.New(),
		AccountID:     orig.AccountID,
		Amount:        -orig.Amount,
		Kind:          domain.TransactionKindReversal,
		Status:        domain.TransactionStatusCompleted,
		ReversalOf:    &orig.ID,
		BalanceBefore: acct.AvailableBalance,
		BalanceAfter:  newAvailable,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.ledger.Create(ctx, tx, txn); err != nil {
		return nil, fmt.Errorf("Reverse: %w", err)
	}

	if err := s.accounts.UpdateBalances(ctx, tx, acct.ID, newAvailable, acct.PendingBalance, acct.Version+1); err != nil {
		return nil, fmt.Errorf("Reverse: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Reverse: commit: %w", err)
	}
	return txn, nil
}

func (s *Service) GetBalance(ctx context.Context, accountID uuid.UUID) (*domain.Balance, error) {
	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("GetBalance: %w", err)
	}
	return &domain.Balance{
		Available: acct.AvailableBalance,
		Pending:   acct.PendingBalance,
	}, nil
}

func (s *Service) ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerTransaction, int, error) {
	txns, total, err := s.ledger.GetByAccountID(ctx, accountID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ListTransactions: %w", err)
	}
	return txns, total, nil
}
