package events

import (
	"github.com/google/uuid"

	"github.com/bazaarhq/payments/internal/domain"
)

type PaymentSettledEvent struct {
	AttemptID  uuid.UUID
	OrderID    uuid.UUID
	PayerID    uuid.UUID
	Channel    domain.Channel
	Obligation domain.Obligation
	Amount     int64
	Currency   domain.Currency
}

type PaymentRejectedEvent struct {
	AttemptID uuid.UUID
	OrderID   uuid.UUID
	PayerID   uuid.UUID
	Reason    string
}

// Handler receives terminal-transition notifications. It is passed into the
// services that own transitions rather than registered globally, and it runs
// after commit: a panicking or slow handler cannot undo a transition.
type Handler interface {
	OnPaymentSettled(e *PaymentSettledEvent)
	OnPaymentRejected(e *PaymentRejectedEvent)
}

// NopHandler is the default when no integration hooks in.
type NopHandler struct{}

func (NopHandler) OnPaymentSettled(*PaymentSettledEvent)   {}
func (NopHandler) OnPaymentRejected(*PaymentRejectedEvent) {}
