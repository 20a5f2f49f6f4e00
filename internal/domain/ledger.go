package domain

import (
	"time"

	"github.com/google/uuid"
)

type TransactionKind string

const (
	TransactionKindDeposit    TransactionKind = "deposit"
	TransactionKindWithdrawal TransactionKind = "withdrawal"
	TransactionKindCommission TransactionKind = "commission"
	TransactionKindBonus      TransactionKind = "bonus"
	TransactionKindReversal   TransactionKind = "reversal"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// LedgerTransaction is an append-only record of one balance movement.
// Amount is signed in minor currency units: credits positive, debits negative.
// A completed transaction counts toward the available balance, a pending one
// toward the pending balance; status is the only field that ever changes
// (pending -> completed via an explicit clearance).
type LedgerTransaction struct {
	ID            uuid.UUID
	AccountID     uuid.UUID
	Amount        int64
	Kind          TransactionKind
	Status        TransactionStatus
	ReversalOf    *uuid.UUID
	BalanceBefore int64
	BalanceAfter  int64
	CreatedAt     time.Time
}
