package stock

import "context"

// UpdateFunc receives the locked row (found=false for a missing row, whose
// CurrentQuantity is nil) and returns the row to store and whether to write it.
type UpdateFunc func(entry LedgerEntry, found bool) (next LedgerEntry, write bool, err error)

// LedgerStore is the per-product read-modify-write contract of the ledger.
// UpdateEntry must be all-or-nothing for one row and must never modify
// current_quantity.
type LedgerStore interface {
	ListEntries(ctx context.Context) ([]LedgerEntry, error)
	GetEntry(ctx context.Context, productID string) (LedgerEntry, error)
	UpdateEntry(ctx context.Context, productID string, fn UpdateFunc) (LedgerEntry, bool, error)
}

// OrderSource loads the orders currently holding stock and their lines.
type OrderSource interface {
	ListReservingOrders(ctx context.Context) ([]Order, []OrderLine, error)
}
