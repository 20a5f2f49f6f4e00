package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

func (c Currency) IsValid() bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP:
		return true
	}
	return false
}

type Channel string

const (
	ChannelCard   Channel = "card"
	ChannelPayPal Channel = "paypal"
	ChannelCrypto Channel = "crypto"
	ChannelBank   Channel = "bank"
	ChannelWallet Channel = "wallet"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelCard, ChannelPayPal, ChannelCrypto, ChannelBank, ChannelWallet:
		return true
	}
	return false
}

// Obligation names the distinct amount an order owes. The base total and the
// shipping/tax charge settle independently, each against its own attempt.
type Obligation string

const (
	ObligationOrderTotal  Obligation = "order_total"
	ObligationShippingTax Obligation = "shipping_tax"
)

func (o Obligation) IsValid() bool {
	return o == ObligationOrderTotal || o == ObligationShippingTax
}

type AttemptStatus string

const (
	AttemptStatusPending             AttemptStatus = "pending"
	AttemptStatusPendingConfirmation AttemptStatus = "pending_confirmation"
	AttemptStatusPaid                AttemptStatus = "paid"
	AttemptStatusRejected            AttemptStatus = "rejected"
	AttemptStatusSuperseded          AttemptStatus = "superseded"
	AttemptStatusFailed              AttemptStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed out of s,
// supersession by a fresh submission excepted.
func (s AttemptStatus) IsTerminal() bool {
	switch s {
	case AttemptStatusPaid, AttemptStatusRejected, AttemptStatusSuperseded, AttemptStatusFailed:
		return true
	}
	return false
}

// PaymentAttempt is the canonical payment claim: one submitted piece of
// evidence for one order obligation over one channel.
type PaymentAttempt struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	PayerID         uuid.UUID
	Channel         Channel
	Obligation      Obligation
	Amount          int64
	Currency        Currency
	Evidence        json.RawMessage
	Status          AttemptStatus
	RejectionReason *string
	DecidedBy       *uuid.UUID
	DecidedAt       *time.Time
	CreatedAt       time.Time
}
