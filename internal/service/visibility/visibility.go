package visibility

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bazaarhq/payments/internal/domain"
)

type orderRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
}

// Service gates the order artifacts that depend on shipping/tax settlement.
// Partner-fulfilled orders carry no separate shipping/tax obligation, so
// their artifacts are always visible.
type Service struct {
	orders orderRepo
}

func NewService(orders orderRepo) *Service {
	return &Service{orders: orders}
}

// Visibility is the per-order gate evaluation returned to clients.
type Visibility struct {
	OrderID           uuid.UUID                `json:"order_id"`
	TrackingVisible   bool                     `json:"tracking_visible"`
	InvoiceVisible    bool                     `json:"invoice_visible"`
	ShowPaymentPrompt bool                     `json:"show_payment_prompt"`
	ShippingTaxStatus domain.ShippingTaxStatus `json:"shipping_tax_status"`
}

// Evaluate computes the gate for an order owned by payerID. Another payer's
// order is ErrNotFound.
func (s *Service) Evaluate(ctx context.Context, orderID, payerID uuid.UUID) (*Visibility, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("Evaluate: %w", err)
	}
	if order.PayerID != payerID {
		return nil, fmt.Errorf("Evaluate: %w", domain.ErrNotFound)
	}

	visible := CanViewTrackingAndInvoice(order)
	return &Visibility{
		OrderID:           order.ID,
		TrackingVisible:   visible,
		InvoiceVisible:    visible,
		ShowPaymentPrompt: ShouldShowPaymentPrompt(order),
		ShippingTaxStatus: order.ShippingTaxPaymentStatus,
	}, nil
}

// CanViewTrackingAndInvoice is true when the order is partner-fulfilled (no
// separate shipping/tax obligation) or when that obligation is settled.
func CanViewTrackingAndInvoice(order *domain.Order) bool {
	if order.CounterpartyType == domain.CounterpartyPartnerFulfilled {
		return true
	}
	return order.ShippingTaxPaymentStatus == domain.ShippingTaxPaid
}

// ShouldShowPaymentPrompt is true while a direct order's shipping/tax charge
// is still unresolved.
func ShouldShowPaymentPrompt(order *domain.Order) bool {
	if order.CounterpartyType != domain.CounterpartyDirect {
		return false
	}
	switch order.ShippingTaxPaymentStatus {
	case domain.ShippingTaxPending, domain.ShippingTaxPendingConfirmation:
		return true
	}
	return false
}
