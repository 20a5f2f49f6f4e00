package domain

import (
	"time"

	"github.com/google/uuid"
)

type CounterpartyType string

const (
	CounterpartyDirect           CounterpartyType = "direct"
	CounterpartyPartnerFulfilled CounterpartyType = "partner_fulfilled"
)

type ShippingTaxStatus string

const (
	ShippingTaxNotRequired         ShippingTaxStatus = "not_required"
	ShippingTaxPending             ShippingTaxStatus = "pending"
	ShippingTaxPendingConfirmation ShippingTaxStatus = "pending_confirmation"
	ShippingTaxPaid                ShippingTaxStatus = "paid"
	ShippingTaxRejected            ShippingTaxStatus = "rejected"
)

// Order is created by order placement, which lives outside this service.
// ShippingTaxPaymentStatus is owned exclusively by the reconciliation state
// machine; everything else is read-only here.
type Order struct {
	ID                       uuid.UUID
	PayerID                  uuid.UUID
	CounterpartyType         CounterpartyType
	TotalAmount              int64
	Currency                 Currency
	ShippingFee              *int64
	TaxFee                   *int64
	ShippingTaxPaymentStatus ShippingTaxStatus
	ShippingTaxPaidAt        *time.Time
	CreatedAt                time.Time
}

// ShippingTaxObligation returns the combined shipping+tax amount, or false
// when the reviewer has not set the fees yet.
func (o *Order) ShippingTaxObligation() (int64, bool) {
	if o.ShippingFee == nil || o.TaxFee == nil {
		return 0, false
	}
	return *o.ShippingFee + *o.TaxFee, true
}
