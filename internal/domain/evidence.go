package domain

import (
	"encoding/json"
	"fmt"
)

// Channel evidence blobs. Producers (card tokenizer, PayPal, crypto wallet,
// document upload) hand over post-processed references only; raw card data
// never reaches this service.

type CardEvidence struct {
	MethodRef   string `json:"method_ref"`
	Last4       string `json:"last4"`
	Brand       string `json:"brand"`
	ExpiryMonth int    `json:"expiry_month"`
	ExpiryYear  int    `json:"expiry_year"`
	Country     string `json:"country"`
}

type PayPalEvidence struct {
	TransactionID string `json:"transaction_id"`
}

type CryptoEvidence struct {
	TxHash  string `json:"tx_hash"`
	Network string `json:"network"`
}

type BankEvidence struct {
	ProofDocumentID string `json:"proof_document_id"`
	Description     string `json:"description"`
}

type WalletEvidence struct {
	AccountID string `json:"account_id"`
}

// ParseEvidence decodes and validates the evidence blob for a channel and
// returns it re-marshalled in canonical field order, so that byte equality
// means "same evidence" when deciding whether a resubmission is a retry or a
// supersession.
func ParseEvidence(channel Channel, raw json.RawMessage) (json.RawMessage, error) {
	switch channel {
	case ChannelCard:
		var ev CardEvidence
		if err := strictUnmarshal(raw, &ev); err != nil {
			return nil, err
		}
		if ev.MethodRef == "" || ev.Last4 == "" || ev.Brand == "" {
			return nil, fmt.Errorf("card: %w", ErrInvalidEvidence)
		}
		return mustMarshal(ev), nil
	case ChannelPayPal:
		var ev PayPalEvidence
		if err := strictUnmarshal(raw, &ev); err != nil {
			return nil, err
		}
		if ev.TransactionID == "" {
			return nil, fmt.Errorf("paypal: %w", ErrInvalidEvidence)
		}
		return mustMarshal(ev), nil
	case ChannelCrypto:
		var ev CryptoEvidence
		if err := strictUnmarshal(raw, &ev); err != nil {
			return nil, err
		}
		if ev.TxHash == "" {
			return nil, fmt.Errorf("crypto: %w", ErrInvalidEvidence)
		}
		return mustMarshal(ev), nil
	case ChannelBank:
		var ev BankEvidence
		if err := strictUnmarshal(raw, &ev); err != nil {
			return nil, err
		}
		if ev.ProofDocumentID == "" || ev.Description == "" {
			return nil, fmt.Errorf("bank: %w", ErrInvalidEvidence)
		}
		return mustMarshal(ev), nil
	case ChannelWallet:
		var ev WalletEvidence
		if err := strictUnmarshal(raw, &ev); err != nil {
			return nil, err
		}
		return mustMarshal(ev), nil
	default:
		return nil, fmt.Errorf("channel %q: %w", channel, ErrInvalidEvidence)
	}
}

func strictUnmarshal(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return ErrInvalidEvidence
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvidence, err)
	}
	return nil
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
