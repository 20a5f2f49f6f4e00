package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrForbidden        = &AppError{http.StatusForbidden, "FORBIDDEN", "Insufficient privileges for this operation"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInsufficientFunds = &AppError{http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", "Insufficient wallet funds, try another payment channel"}
	ErrWalletNotFound    = &AppError{http.StatusUnprocessableEntity, "WALLET_NOT_FOUND", "No wallet account exists for this payer"}
	ErrAmountMismatch    = &AppError{http.StatusUnprocessableEntity, "AMOUNT_MISMATCH", "Amount does not match the order's outstanding obligation"}
	ErrInvalidEvidence   = &AppError{http.StatusBadRequest, "INVALID_EVIDENCE", "Payment evidence is incomplete for this channel"}
	ErrAlreadySettled    = &AppError{http.StatusConflict, "ALREADY_SETTLED", "This obligation has already been settled"}
	ErrInvalidTransition = &AppError{http.StatusConflict, "INVALID_TRANSITION", "Attempt status already moved, re-fetch current status"}
	ErrDuplicateAttempt  = &AppError{http.StatusConflict, "DUPLICATE_ATTEMPT", "An unresolved attempt already exists, re-fetch and resubmit"}
	ErrReasonRequired    = &AppError{http.StatusBadRequest, "REASON_REQUIRED", "A rejection requires a reason"}
	ErrOrderNotPayable   = &AppError{http.StatusUnprocessableEntity, "ORDER_NOT_PAYABLE", "Order has no payable obligation of this kind"}
	ErrInvalidCurrency   = &AppError{http.StatusBadRequest, "INVALID_CURRENCY", "Invalid currency"}
	ErrCurrencyMismatch  = &AppError{http.StatusUnprocessableEntity, "CURRENCY_MISMATCH", "Currency does not match the order"}
	ErrInvalidAmount     = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero with at most two decimal places"}
	ErrVersionConflict   = &AppError{http.StatusConflict, "VERSION_CONFLICT", "Resource was modified concurrently, please retry"}
	ErrNotClearable      = &AppError{http.StatusUnprocessableEntity, "NOT_CLEARABLE", "Only pending transactions can be cleared"}
	ErrNotReversible     = &AppError{http.StatusUnprocessableEntity, "NOT_REVERSIBLE", "Only completed transactions can be reversed"}
	ErrAlreadyReversed   = &AppError{http.StatusConflict, "ALREADY_REVERSED", "Transaction has already been reversed"}
)
