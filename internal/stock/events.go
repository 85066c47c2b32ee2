package stock

import (
	"context"
	"time"
)

// EventType names a post-commit ledger event.
type EventType string

const (
	// EventReserved is emitted after a reserve effect was written for a product.
	EventReserved EventType = "stock.reserved"
	// EventReleased is emitted after a release effect was written for a product.
	EventReleased EventType = "stock.released"
	// EventReconciled is emitted after a sweep rewrote a product row.
	EventReconciled EventType = "stock.reconciled"
	// EventSweepCompleted is emitted once per sweep with its counts.
	EventSweepCompleted EventType = "stock.sweep_completed"
)

// Event is published only after the underlying write committed.
type Event struct {
	ID         string       `json:"id"`
	Type       EventType    `json:"type"`
	ProductID  string       `json:"product_id,omitempty"`
	OrderID    string       `json:"order_id,omitempty"`
	RunID      string       `json:"run_id,omitempty"`
	Quantity   int64        `json:"quantity,omitempty"`
	Before     *LedgerEntry `json:"before,omitempty"`
	After      *LedgerEntry `json:"after,omitempty"`
	Counts     *Counts      `json:"counts,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// Publisher delivers events to notification and audit consumers.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}
