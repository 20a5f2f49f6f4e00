package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/bazaarhq/payments/internal/auth"
	"github.com/bazaarhq/payments/internal/logging"
	"github.com/bazaarhq/payments/internal/service/visibility"
)

type visibilityService interface {
	Evaluate(ctx context.Context, orderID, payerID uuid.UUID) (*visibility.Visibility, error)
}

type OrderHandler struct {
	visibility visibilityService
}

func NewOrderHandler(visibility visibilityService) *OrderHandler {
	return &OrderHandler{visibility: visibility}
}

func (h *OrderHandler) Visibility(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	orderID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	v, err := h.visibility.Evaluate(r.Context(), orderID, claims.AccountID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("visibility evaluation failed", "order_id", orderID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, v)
}
