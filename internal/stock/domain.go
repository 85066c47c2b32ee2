package stock

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// OrderStatus enumerates order lifecycle states relevant to stock.
type OrderStatus string

const (
	// StatusPending marks an order awaiting approval.
	StatusPending OrderStatus = "pending"
	// StatusApproved marks an approved order; stock is held.
	StatusApproved OrderStatus = "approved"
	// StatusInTransit marks a shipped order.
	StatusInTransit OrderStatus = "in_transit"
	// StatusComplete marks a delivered order.
	StatusComplete OrderStatus = "complete"
	// StatusCancelled marks a cancelled order.
	StatusCancelled OrderStatus = "cancelled"
	// StatusPendingCancellation marks an order with an open cancellation request.
	StatusPendingCancellation OrderStatus = "pending_cancellation"
)

// ParseOrderStatus converts raw input into OrderStatus.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case StatusPending, StatusApproved, StatusInTransit, StatusComplete, StatusCancelled, StatusPendingCancellation:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
}

// IsReserving reports whether line quantities of an order in this status count as reserved.
func (s OrderStatus) IsReserving() bool {
	switch s {
	case StatusApproved, StatusInTransit, StatusComplete:
		return true
	case StatusPending, StatusCancelled, StatusPendingCancellation:
		return false
	default:
		return false
	}
}

// ReservingStatuses lists the statuses that hold stock.
func ReservingStatuses() []OrderStatus {
	return []OrderStatus{StatusApproved, StatusInTransit, StatusComplete}
}

// Effect is the ledger consequence of a status transition.
type Effect string

const (
	// EffectNone leaves the ledger untouched.
	EffectNone Effect = "none"
	// EffectReserve moves line quantities from display into reserved.
	EffectReserve Effect = "reserve"
	// EffectRelease moves line quantities from reserved back into display.
	EffectRelease Effect = "release"
)

// StockEffect maps a transition onto its ledger effect. Only membership in the
// reserving set matters, not which reserving status the order is in.
func StockEffect(from, to OrderStatus) Effect {
	was, is := from.IsReserving(), to.IsReserving()
	switch {
	case !was && is:
		return EffectReserve
	case was && !is:
		return EffectRelease
	default:
		return EffectNone
	}
}

// Order is the lifecycle collaborator's order header.
type Order struct {
	ID        string
	Status    OrderStatus
	CreatedAt time.Time
}

// OrderLine is a single product line on an order.
type OrderLine struct {
	OrderID   string `json:"order_id,omitempty"`
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// Validate rejects lines that must never contribute to reservations.
func (l OrderLine) Validate() error {
	if strings.TrimSpace(l.ProductID) == "" {
		return ErrMissingProduct
	}
	if l.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// LedgerEntry is the per-product stock ledger row. CurrentQuantity is owned by
// catalog sync and is nil while unknown.
type LedgerEntry struct {
	ProductID        string    `json:"product_id"`
	CurrentQuantity  *int64    `json:"current_quantity"`
	DisplayQuantity  int64     `json:"display_quantity"`
	ReservedQuantity int64     `json:"reserved_quantity"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// KnownCurrent returns the authoritative quantity and whether it is known.
func (e LedgerEntry) KnownCurrent() (int64, bool) {
	if e.CurrentQuantity == nil {
		return 0, false
	}
	return *e.CurrentQuantity, true
}

// SameQuantities compares the fields owned by this engine.
func (e LedgerEntry) SameQuantities(other LedgerEntry) bool {
	return e.DisplayQuantity == other.DisplayQuantity && e.ReservedQuantity == other.ReservedQuantity
}

// Transition describes one committed order status change.
type Transition struct {
	EventID   string
	OrderID   string
	OldStatus OrderStatus
	NewStatus OrderStatus
	Lines     []OrderLine
}

// Quantity returns a pointer for optional current quantities.
func Quantity(v int64) *int64 {
	return &v
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

var (
	// ErrUnknownStatus indicates an unsupported order status value.
	ErrUnknownStatus = errors.New("stock: unknown order status")
	// ErrMissingProduct indicates an order line without product id.
	ErrMissingProduct = errors.New("stock: order line product id required")
	// ErrInvalidQuantity indicates a non-positive order line quantity.
	ErrInvalidQuantity = errors.New("stock: order line quantity must be positive")
	// ErrEntryNotFound indicates a product without ledger row.
	ErrEntryNotFound = errors.New("stock: ledger entry not found")
	// ErrOrderSource indicates the order set could not be loaded.
	ErrOrderSource = errors.New("stock: order set unavailable")
	// ErrLedgerUnavailable indicates the ledger could not be listed.
	ErrLedgerUnavailable = errors.New("stock: ledger unavailable")
	// ErrOrderIDRequired indicates a transition without order id.
	ErrOrderIDRequired = errors.New("stock: order id required")
)
