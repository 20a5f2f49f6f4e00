package notify

import (
	"context"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Notification struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Severity Severity `json:"severity"`
	LinkURL  string   `json:"link_url,omitempty"`
	Category string   `json:"category"`
}

// Dispatcher delivers a notification to an account owner. Delivery is
// best-effort: callers fire it after commit and log failures instead of
// propagating them.
type Dispatcher interface {
	Notify(ctx context.Context, accountID uuid.UUID, n Notification) error
}

type NopDispatcher struct{}

func (NopDispatcher) Notify(context.Context, uuid.UUID, Notification) error { return nil }
