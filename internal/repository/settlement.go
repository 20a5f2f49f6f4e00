package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/bazaarhq/payments/internal/domain"
)

type Settlement struct {
	OrderID    uuid.UUID
	Obligation domain.Obligation
	AttemptID  uuid.UUID
	SettledAt  time.Time
}

type SettlementRepository struct {
	db *sql.DB
}

func NewSettlementRepository(db *sql.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

// Create records the one settlement an obligation is allowed. The primary key
// on (order_id, obligation) turns a second settlement into ErrAlreadySettled.
func (r *SettlementRepository) Create(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, obligation domain.Obligation, attemptID uuid.UUID, settledAt time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO order_settlements (order_id, obligation, attempt_id, settled_at)
		VALUES ($1, $2, $3, $4)`,
		orderID, obligation, attemptID, settledAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrAlreadySettled)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *SettlementRepository) Get(ctx context.Context, orderID uuid.UUID, obligation domain.Obligation) (*Settlement, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT order_id, obligation, attempt_id, settled_at FROM order_settlements
		WHERE order_id = $1 AND obligation = $2`,
		orderID, obligation,
	)

	var s Settlement
	err := row.Scan(&s.OrderID, &s.Obligation, &s.AttemptID, &s.SettledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("Get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("Get: %w", err)
	}
	return &s, nil
}

func (r *SettlementRepository) Exists(ctx context.Context, orderID uuid.UUID, obligation domain.Obligation) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM order_settlements WHERE order_id = $1 AND obligation = $2)`,
		orderID, obligation,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("Exists: %w", err)
	}
	return exists, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
