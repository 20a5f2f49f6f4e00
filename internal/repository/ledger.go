package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/bazaarhq/payments/internal/domain"
)

const ledgerColumns = `id, account_id, amount, kind, status, reversal_of,
	balance_before, balance_after, created_at`

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Create(ctx context.Context, tx *sql.Tx, txn *domain.LedgerTransaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_transactions (
			id, account_id, amount, kind, status, reversal_of,
			balance_before, balance_after, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		txn.ID, txn.AccountID, txn.Amount, txn.Kind, txn.Status, txn.ReversalOf,
		txn.BalanceBefore, txn.BalanceAfter, txn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *LedgerRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.LedgerTransaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_transactions WHERE id = $1`, id,
	)
	t, err := scanLedgerTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return t, nil
}

// GetForUpdate locks the transaction row; clearance and reversal both mutate
// state derived from it and must not race each other.
func (r *LedgerRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.LedgerTransaction, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_transactions WHERE id = $1 FOR UPDATE`, id,
	)
	t, err := scanLedgerTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return t, nil
}

// UpdateStatus moves a transaction between lifecycle states with a
// compare-and-set on the current status.
func (r *LedgerRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.TransactionStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE ledger_transactions SET status = $1 WHERE id = $2 AND status = $3`,
		to, id, from,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateStatus: %w", domain.ErrVersionConflict)
	}
	return nil
}

// HasReversal reports whether a reversal already references the transaction.
// Callers hold the original row's lock, so the check cannot race an insert.
func (r *LedgerRepository) HasReversal(ctx context.Context, tx *sql.Tx, id uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_transactions WHERE reversal_of = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("HasReversal: %w", err)
	}
	return exists, nil
}

func (r *LedgerRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerTransaction, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_transactions WHERE account_id = $1`, accountID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("GetByAccountID: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_transactions
		WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		accountID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("GetByAccountID: %w", err)
	}
	defer rows.Close()

	var txns []domain.LedgerTransaction
	for rows.Next() {
		t, err := scanLedgerTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("GetByAccountID: scan: %w", err)
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("GetByAccountID: rows: %w", err)
	}
	return txns, total, nil
}

// SumByStatus returns the signed sum of an account's transactions in the
// given status. The ledger is the source of truth; the materialized balances
// on the account row must always equal these sums.
func (r *LedgerRepository) SumByStatus(ctx context.Context, accountID uuid.UUID, status domain.TransactionStatus) (int64, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_transactions
		WHERE account_id = $1 AND status = $2`,
		accountID, status,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("SumByStatus: %w", err)
	}
	return sum, nil
}

func scanLedgerTransaction(s scanner) (*domain.LedgerTransaction, error) {
	var t domain.LedgerTransaction
	var reversalOf uuid.NullUUID

	err := s.Scan(
		&t.ID, &t.AccountID, &t.Amount, &t.Kind, &t.Status, &reversalOf,
		&t.BalanceBefore, &t.BalanceAfter, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if reversalOf.Valid {
		t.ReversalOf = &reversalOf.UUID
	}
	return &t, nil
}
