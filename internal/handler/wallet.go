package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bazaarhq/payments/internal/auth"
	"github.com/bazaarhq/payments/internal/domain"
	"github.com/bazaarhq/payments/internal/logging"
)

type walletService interface {
	GetBalance(ctx context.Context, accountID uuid.UUID) (*domain.Balance, error)
	ListTransactions(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerTransaction, int, error)
}

type accountLookup interface {
	GetByOwnerID(ctx context.Context, ownerID uuid.UUID) (*domain.Account, error)
}

type WalletHandler struct {
	wallet   walletService
	accounts accountLookup
}

func NewWalletHandler(wallet walletService, accounts accountLookup) *WalletHandler {
	return &WalletHandler{wallet: wallet, accounts: accounts}
}

type balanceDTO struct {
	AccountID uuid.UUID `json:"account_id"`
	Available int64     `json:"available"`
	Pending   int64     `json:"pending"`
}

func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	acct, err := h.accounts.GetByOwnerID(r.Context(), claims.AccountID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("wallet lookup failed", "owner_id", claims.AccountID, "error", err)
		RespondDomainError(w, err)
		return
	}

	balance, err := h.wallet.GetBalance(r.Context(), acct.ID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, balanceDTO{
		AccountID: acct.ID,
		Available: balance.Available,
		Pending:   balance.Pending,
	})
}

type transactionDTO struct {
	ID            uuid.UUID  `json:"id"`
	Amount        int64      `json:"amount"`
	Kind          string     `json:"kind"`
	Status        string     `json:"status"`
	ReversalOf    *uuid.UUID `json:"reversal_of,omitempty"`
	BalanceBefore int64      `json:"balance_before"`
	BalanceAfter  int64      `json:"balance_after"`
	CreatedAt     time.Time  `json:"created_at"`
}

type transactionListDTO struct {
	Transactions []transactionDTO `json:"transactions"`
	Total        int              `json:"total"`
	Limit        int              `json:"limit"`
	Offset       int              `json:"offset"`
}

func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	limit, offset := parsePagination(r)

	acct, err := h.accounts.GetByOwnerID(r.Context(), claims.AccountID)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	txns, total, err := h.wallet.ListTransactions(r.Context(), acct.ID, limit, offset)
	if err != nil {
		logging.FromContext(r.Context()).Warn("transaction listing failed", "account_id", acct.ID, "error", err)
		RespondDomainError(w, err)
		return
	}

	dtos := make([]transactionDTO, 0, len(txns))
	for i := range txns {
		t := &txns[i]
		dtos = append(dtos, transactionDTO{
			ID:            t.ID,
			Amount:        t.Amount,
			Kind:          string(t.Kind),
			Status:        string(t.Status),
			ReversalOf:    t.ReversalOf,
			BalanceBefore: t.BalanceBefore,
			BalanceAfter:  t.BalanceAfter,
			CreatedAt:     t.CreatedAt,
		})
	}

	RespondSuccess(w, http.StatusOK, transactionListDTO{
		Transactions: dtos,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
	})
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit, offset = 20, 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}
