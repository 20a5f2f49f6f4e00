package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bazaarhq/payments/internal/domain"
)

const orderColumns = `id, payer_id, counterparty_type, total_amount, currency,
	shipping_fee, tax_fee, shipping_tax_payment_status, shipping_tax_paid_at, created_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return o, nil
}

// UpdateShippingTaxStatus sets the shipping/tax payment status, which only
// the reconciliation state machine may do.
func (r *OrderRepository) UpdateShippingTaxStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.ShippingTaxStatus, paidAt *time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET shipping_tax_payment_status = $1, shipping_tax_paid_at = $2
		WHERE id = $3`,
		status, paidAt, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateShippingTaxStatus: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateShippingTaxStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateShippingTaxStatus: %w", domain.ErrNotFound)
	}
	return nil
}

func scanOrder(s scanner) (*domain.Order, error) {
	var o domain.Order
	err := s.Scan(
		&o.ID, &o.PayerID, &o.CounterpartyType, &o.TotalAmount, &o.Currency,
		&o.ShippingFee, &o.TaxFee, &o.ShippingTaxPaymentStatus, &o.ShippingTaxPaidAt,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
