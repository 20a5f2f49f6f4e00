package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrAmountMismatch     = errors.New("amount does not match order obligation")
	ErrInvalidEvidence    = errors.New("evidence incomplete for channel")
	ErrInvalidCurrency    = errors.New("invalid currency")
	ErrAlreadySettled     = errors.New("obligation already settled")
	ErrInvalidTransition  = errors.New("attempt status already moved")
	ErrDuplicateAttempt   = errors.New("an unresolved attempt already exists for this order, channel and obligation")
	ErrReasonRequired     = errors.New("rejection requires a reason")
	ErrOrderNotPayable    = errors.New("order has no outstanding obligation for this payment")
	ErrVersionConflict    = errors.New("optimistic lock conflict")
	ErrAlreadyReversed    = errors.New("transaction already reversed")
	ErrNotReversible      = errors.New("only completed transactions can be reversed")
	ErrNotClearable       = errors.New("only pending transactions can be cleared")
	ErrWalletNotFound     = errors.New("payer has no wallet account")
	ErrCurrencyMismatch   = errors.New("currency mismatch")
)
