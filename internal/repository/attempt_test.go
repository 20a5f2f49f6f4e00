package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bazaarhq/payments/internal/domain"
	"github.com/bazaarhq/payments/internal/testutil"
)

// The partial unique index allows one unresolved attempt per order, channel
// and obligation. The loser of a racing duplicate insert must see a domain
// conflict, not a raw driver error.
func TestAttemptCreate_SecondActiveAttemptConflicts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := NewAttemptRepository(db)

	payerID := uuid.New()
	order := testutil.SeedOrder(t, db, payerID, testutil.OrderOpts{TotalAmount: 12_000})

	mk := func(doc string) *domain.PaymentAttempt {
		return &domain.PaymentAttempt{
			ID:         uuid.New(),
			OrderID:    order.ID,
			PayerID:    payerID,
			Channel:    domain.ChannelBank,
			Obligation: domain.ObligationOrderTotal,
			Amount:     12_000,
			Currency:   domain.CurrencyUSD,
			Evidence:   json.RawMessage(`{"proof_document_id":"` + doc + `","description":"wire sent"}`),
			Status:     domain.AttemptStatusPendingConfirmation,
			CreatedAt:  time.Now().UTC(),
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, tx, mk("doc-1")))
	require.NoError(t, tx.Commit())

	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	err = repo.Create(ctx, tx, mk("doc-2"))
	require.ErrorIs(t, err, domain.ErrDuplicateAttempt)
}
