package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bazaarhq/payments/internal/auth"
	"github.com/bazaarhq/payments/internal/domain"
	"github.com/bazaarhq/payments/internal/logging"
	"github.com/bazaarhq/payments/internal/service/intake"
	"github.com/bazaarhq/payments/internal/service/recon"
	"github.com/bazaarhq/payments/internal/service/statussync"
)

type intakeService interface {
	Submit(ctx context.Context, req intake.SubmitRequest) (*domain.PaymentAttempt, error)
}

type reconService interface {
	Decide(ctx context.Context, req recon.DecideRequest) (*domain.PaymentAttempt, error)
	GetAttemptForPayer(ctx context.Context, attemptID, payerID uuid.UUID) (*domain.PaymentAttempt, error)
}

type statusPoller interface {
	Poll(ctx context.Context, attemptID uuid.UUID) (*statussync.StatusView, error)
	WaitForTerminal(ctx context.Context, attemptID uuid.UUID) (*statussync.StatusView, error)
}

type PaymentHandler struct {
	intake intakeService
	recon  reconService
	poller statusPoller
}

func NewPaymentHandler(intake intakeService, recon reconService, poller statusPoller) *PaymentHandler {
	return &PaymentHandler{intake: intake, recon: recon, poller: poller}
}

type submitPaymentRequest struct {
	OrderID    string          `json:"order_id"`
	Channel    string          `json:"channel"`
	Obligation string          `json:"obligation"`
	Amount     string          `json:"amount"`
	Currency   string          `json:"currency"`
	Evidence   json.RawMessage `json:"evidence"`
}

func (r submitPaymentRequest) Validate() []FieldError {
	var errs []FieldError

	if r.OrderID == "" {
		errs = append(errs, FieldError{Field: "order_id", Message: "required"})
	} else if _, err := uuid.Parse(r.OrderID); err != nil {
		errs = append(errs, FieldError{Field: "order_id", Message: "must be a UUID"})
	}

	if r.Channel == "" {
		errs = append(errs, FieldError{Field: "channel", Message: "required"})
	} else if !domain.Channel(r.Channel).IsValid() {
		errs = append(errs, FieldError{Field: "channel", Message: "must be card, paypal, crypto, bank, or wallet"})
	}

	if r.Obligation == "" {
		errs = append(errs, FieldError{Field: "obligation", Message: "required"})
	} else if !domain.Obligation(r.Obligation).IsValid() {
		errs = append(errs, FieldError{Field: "obligation", Message: "must be order_total or shipping_tax"})
	}

	if r.Amount == "" {
		errs = append(errs, FieldError{Field: "amount", Message: "required"})
	} else if amt, err := decimal.NewFromString(r.Amount); err != nil {
		errs = append(errs, FieldError{Field: "amount", Message: "must be a decimal number"})
	} else if amt.Sign() <= 0 {
		errs = append(errs, FieldError{Field: "amount", Message: "must be greater than 0"})
	}

	if r.Currency == "" {
		errs = append(errs, FieldError{Field: "currency", Message: "required"})
	} else if !domain.Currency(r.Currency).IsValid() {
		errs = append(errs, FieldError{Field: "currency", Message: "must be USD, EUR, or GBP"})
	}

	if len(r.Evidence) == 0 {
		errs = append(errs, FieldError{Field: "evidence", Message: "required"})
	}

	return errs
}

type attemptDTO struct {
	ID              uuid.UUID       `json:"id"`
	OrderID         uuid.UUID       `json:"order_id"`
	Channel         string          `json:"channel"`
	Obligation      string          `json:"obligation"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	Evidence        json.RawMessage `json:"evidence"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
	DecidedAt       *time.Time      `json:"decided_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

func toAttemptDTO(a *domain.PaymentAttempt) attemptDTO {
	return attemptDTO{
		ID:              a.ID,
		OrderID:         a.OrderID,
		Channel:         string(a.Channel),
		Obligation:      string(a.Obligation),
		Amount:          a.Amount,
		Currency:        string(a.Currency),
		Status:          string(a.Status),
		Evidence:        a.Evidence,
		RejectionReason: a.RejectionReason,
		DecidedAt:       a.DecidedAt,
		CreatedAt:       a.CreatedAt,
	}
}

func (h *PaymentHandler) Submit(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	var req submitPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	orderID, _ := uuid.Parse(req.OrderID)
	amount, _ := decimal.NewFromString(req.Amount)

	attempt, err := h.intake.Submit(r.Context(), intake.SubmitRequest{
		OrderID:    orderID,
		PayerID:    claims.AccountID,
		Channel:    domain.Channel(req.Channel),
		Obligation: domain.Obligation(req.Obligation),
		Amount:     amount,
		Currency:   domain.Currency(req.Currency),
		Evidence:   req.Evidence,
	})
	if err != nil {
		log.Warn("payment submission failed", "order_id", orderID, "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/payments/%s", attempt.ID))
	RespondSuccess(w, http.StatusCreated, toAttemptDTO(attempt))
}

type decideRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

func (r decideRequest) Validate() []FieldError {
	var errs []FieldError

	switch recon.Decision(r.Decision) {
	case recon.DecisionApprove, recon.DecisionReject:
	default:
		errs = append(errs, FieldError{Field: "decision", Message: "must be approve or reject"})
	}

	if recon.Decision(r.Decision) == recon.DecisionReject && r.Reason == "" {
		errs = append(errs, FieldError{Field: "reason", Message: "required when rejecting"})
	}

	return errs
}

func (h *PaymentHandler) Decide(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	attemptID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	attempt, err := h.recon.Decide(r.Context(), recon.DecideRequest{
		AttemptID:  attemptID,
		ReviewerID: claims.AccountID,
		Decision:   recon.Decision(req.Decision),
		Reason:     req.Reason,
	})
	if err != nil {
		log.Warn("decision failed", "attempt_id", attemptID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toAttemptDTO(attempt))
}

// Status serves the short-poll contract. Without a `wait` query parameter it
// returns the current snapshot; with one it blocks until terminal status or
// the bound elapses, whichever comes first.
func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		RespondAppError(w, ErrMissingToken, nil)
		return
	}

	attemptID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondAppError(w, ErrResourceNotFound, nil)
		return
	}

	// Ownership check up front so polling another payer's attempt 404s.
	if _, err := h.recon.GetAttemptForPayer(r.Context(), attemptID, claims.AccountID); err != nil {
		RespondDomainError(w, err)
		return
	}

	waitSecs := 0
	if raw := r.URL.Query().Get("wait"); raw != "" {
		waitSecs, err = strconv.Atoi(raw)
		if err != nil || waitSecs < 0 || waitSecs > 60 {
			RespondValidationError(w, []FieldError{{Field: "wait", Message: "must be an integer between 0 and 60"}})
			return
		}
	}

	if waitSecs == 0 {
		view, err := h.poller.Poll(r.Context(), attemptID)
		if err != nil {
			RespondDomainError(w, err)
			return
		}
		RespondSuccess(w, http.StatusOK, view)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(waitSecs)*time.Second)
	defer cancel()

	view, err := h.poller.WaitForTerminal(ctx, attemptID)
	if view != nil {
		// Timeout with a non-terminal snapshot is still a successful poll.
		RespondSuccess(w, http.StatusOK, view)
		return
	}
	logging.FromContext(r.Context()).Warn("status poll failed", "attempt_id", attemptID, "error", err)
	RespondDomainError(w, err)
}
