package recon

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bazaarhq/payments/internal/domain"
)

type settlementRepo interface {
	Create(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, obligation domain.Obligation, attemptID uuid.UUID, settledAt time.Time) error
	Exists(ctx context.Context, orderID uuid.UUID, obligation domain.Obligation) (bool, error)
}

// Linker binds a settled attempt to its order obligation. The settlement
// table's primary key makes the binding exactly-once: a second Link for the
// same obligation fails with ErrAlreadySettled no matter who races whom.
type Linker struct {
	settlements settlementRepo
}

func NewLinker(settlements settlementRepo) *Linker {
	return &Linker{settlements: settlements}
}

func (l *Linker) Link(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, obligation domain.Obligation, attemptID uuid.UUID, at time.Time) error {
	if err := l.settlements.Create(ctx, tx, orderID, obligation, attemptID, at); err != nil {
		return fmt.Errorf("Link: %w", err)
	}
	return nil
}

// IsSettled reports whether an obligation already has its one settlement.
func (l *Linker) IsSettled(ctx context.Context, orderID uuid.UUID, obligation domain.Obligation) (bool, error) {
	settled, err := l.settlements.Exists(ctx, orderID, obligation)
	if err != nil {
		return false, fmt.Errorf("IsSettled: %w", err)
	}
	return settled, nil
}
