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

const attemptColumns = `id, order_id, payer_id, channel, obligation, amount, currency,
	evidence, status, rejection_reason, decided_by, decided_at, created_at`

type AttemptRepository struct {
	db *sql.DB
}

func NewAttemptRepository(db *sql.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

func (r *AttemptRepository) Create(ctx context.Context, tx *sql.Tx, a *domain.PaymentAttempt) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO payment_attempts (
			id, order_id, payer_id, channel, obligation, amount, currency,
			evidence, status, rejection_reason, decided_by, decided_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.OrderID, a.PayerID, a.Channel, a.Obligation, a.Amount, a.Currency,
		a.Evidence, a.Status, a.RejectionReason, a.DecidedBy, a.DecidedAt, a.CreatedAt,
	)
	if err != nil {
		// Two first-time submissions racing for the same order/channel/
		// obligation hit the partial unique index; the loser gets a conflict
		// it can resolve by re-fetching, not a server error.
		if isUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateAttempt)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentAttempt, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts WHERE id = $1`, id,
	)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return a, nil
}

// GetActive returns the single unresolved attempt for an order/channel/
// obligation triple, or ErrNotFound. A partial unique index guarantees there
// is at most one.
func (r *AttemptRepository) GetActive(ctx context.Context, orderID uuid.UUID, channel domain.Channel, obligation domain.Obligation) (*domain.PaymentAttempt, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts
		WHERE order_id = $1 AND channel = $2 AND obligation = $3
		AND status IN ('pending', 'pending_confirmation')`,
		orderID, channel, obligation,
	)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetActive: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetActive: %w", err)
	}
	return a, nil
}

func (r *AttemptRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]domain.PaymentAttempt, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts
		WHERE order_id = $1 ORDER BY created_at`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByOrderID: %w", err)
	}
	defer rows.Close()

	var attempts []domain.PaymentAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("GetByOrderID: scan: %w", err)
		}
		attempts = append(attempts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetByOrderID: rows: %w", err)
	}
	return attempts, nil
}

// TransitionStatus is the only write path for attempt status. The WHERE
// clause on the current status makes concurrent approve/reject mutually
// exclusive: the loser of the race sees ErrInvalidTransition.
func (r *AttemptRepository) TransitionStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, from, to domain.AttemptStatus, decidedBy *uuid.UUID, reason *string, decidedAt *time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE payment_attempts
		SET status = $1, decided_by = $2, rejection_reason = $3, decided_at = $4
		WHERE id = $5 AND status = $6`,
		to, decidedBy, reason, decidedAt, id, from,
	)
	if err != nil {
		return fmt.Errorf("TransitionStatus: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("TransitionStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("TransitionStatus: %w", domain.ErrInvalidTransition)
	}
	return nil
}

func scanAttempt(s scanner) (*domain.PaymentAttempt, error) {
	var a domain.PaymentAttempt
	var decidedBy uuid.NullUUID

	err := s.Scan(
		&a.ID, &a.OrderID, &a.PayerID, &a.Channel, &a.Obligation, &a.Amount, &a.Currency,
		&a.Evidence, &a.Status, &a.RejectionReason, &decidedBy, &a.DecidedAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if decidedBy.Valid {
		a.DecidedBy = &decidedBy.UUID
	}
	return &a, nil
}
