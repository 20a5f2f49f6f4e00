package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account owns a wallet. Balances are mutated only by the ledger service;
// Version is the optimistic lock column guarding every balance write.
type Account struct {
	ID               uuid.UUID
	OwnerID          uuid.UUID
	AvailableBalance int64
	PendingBalance   int64
	Version          int64
	CreatedAt        time.Time
}

type Balance struct {
	Available int64
	Pending   int64
}
