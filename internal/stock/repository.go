package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockrecon/internal/platform/db"
)

// Repository persists the ledger in PostgreSQL and reads the order
// lifecycle collaborator's tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// errInsertRace signals that another writer created the row first.
var errInsertRace = errors.New("stock: ledger row created concurrently")

const selectEntry = `SELECT product_id, current_quantity, display_quantity, reserved_quantity, updated_at FROM stock_ledger`

// ListEntries returns every ledger row ordered by product.
func (r *Repository) ListEntries(ctx context.Context) ([]LedgerEntry, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("stock repository not initialised")
	}
	rows, err := r.pool.Query(ctx, selectEntry+` ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []LedgerEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetEntry loads one ledger row.
func (r *Repository) GetEntry(ctx context.Context, productID string) (LedgerEntry, error) {
	if r == nil || r.pool == nil {
		return LedgerEntry{}, errors.New("stock repository not initialised")
	}
	entry, err := scanEntry(r.pool.QueryRow(ctx, selectEntry+` WHERE product_id=$1`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return LedgerEntry{ProductID: productID}, ErrEntryNotFound
	}
	return entry, err
}

// UpdateEntry locks the row, applies fn and writes display/reserved when asked.
// current_quantity is never written; a missing row is inserted with it NULL.
func (r *Repository) UpdateEntry(ctx context.Context, productID string, fn UpdateFunc) (LedgerEntry, bool, error) {
	if r == nil || r.pool == nil {
		return LedgerEntry{}, false, errors.New("stock repository not initialised")
	}
	for attempt := 0; ; attempt++ {
		entry, written, err := r.updateOnce(ctx, productID, fn)
		if errors.Is(err, errInsertRace) && attempt == 0 {
			continue
		}
		return entry, written, err
	}
}

func (r *Repository) updateOnce(ctx context.Context, productID string, fn UpdateFunc) (LedgerEntry, bool, error) {
	var (
		result  LedgerEntry
		written bool
	)
	// Read committed: FOR UPDATE waits for a concurrent writer and then sees its row.
	err := db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		found := true
		entry, err := scanEntry(tx.QueryRow(ctx, selectEntry+` WHERE product_id=$1 FOR UPDATE`, productID))
		if errors.Is(err, pgx.ErrNoRows) {
			found = false
			entry = LedgerEntry{ProductID: productID}
		} else if err != nil {
			return fmt.Errorf("stock: lock row: %w", err)
		}

		next, write, err := fn(entry, found)
		if err != nil {
			return err
		}
		if !write {
			result = entry
			return nil
		}

		if found {
			result, err = scanEntry(tx.QueryRow(ctx, `UPDATE stock_ledger SET display_quantity=$2, reserved_quantity=$3, updated_at=NOW()
WHERE product_id=$1
RETURNING product_id, current_quantity, display_quantity, reserved_quantity, updated_at`, productID, next.DisplayQuantity, next.ReservedQuantity))
		} else {
			result, err = scanEntry(tx.QueryRow(ctx, `INSERT INTO stock_ledger (product_id, current_quantity, display_quantity, reserved_quantity, updated_at)
VALUES ($1, NULL, $2, $3, NOW())
ON CONFLICT (product_id) DO NOTHING
RETURNING product_id, current_quantity, display_quantity, reserved_quantity, updated_at`, productID, next.DisplayQuantity, next.ReservedQuantity))
			if errors.Is(err, pgx.ErrNoRows) {
				return errInsertRace
			}
		}
		if err != nil {
			return fmt.Errorf("stock: write row: %w", err)
		}
		written = true
		return nil
	})
	if err != nil {
		return LedgerEntry{}, false, err
	}
	return result, written, nil
}

// ListReservingOrders loads orders in a reserving status with their lines.
func (r *Repository) ListReservingOrders(ctx context.Context) ([]Order, []OrderLine, error) {
	if r == nil || r.pool == nil {
		return nil, nil, errors.New("stock repository not initialised")
	}
	statuses := make([]string, 0, 3)
	for _, status := range ReservingStatuses() {
		statuses = append(statuses, string(status))
	}
	rows, err := r.pool.Query(ctx, `SELECT o.id::text, o.status, o.created_at, COALESCE(oi.product_id::text, ''), COALESCE(oi.quantity, 0)::bigint
FROM orders o
LEFT JOIN order_items oi ON oi.order_id = o.id
WHERE o.status = ANY($1)
ORDER BY o.created_at, o.id`, statuses)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var (
		orders []Order
		lines  []OrderLine
		seen   = map[string]bool{}
	)
	for rows.Next() {
		var (
			order     Order
			status    string
			productID string
			qty       int64
		)
		if err := rows.Scan(&order.ID, &status, &order.CreatedAt, &productID, &qty); err != nil {
			return nil, nil, err
		}
		parsed, err := ParseOrderStatus(status)
		if err != nil {
			return nil, nil, err
		}
		order.Status = parsed
		if !seen[order.ID] {
			seen[order.ID] = true
			orders = append(orders, order)
		}
		if productID == "" && qty == 0 {
			continue
		}
		lines = append(lines, OrderLine{OrderID: order.ID, ProductID: productID, Quantity: qty})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return orders, lines, nil
}

func scanEntry(row pgx.Row) (LedgerEntry, error) {
	var entry LedgerEntry
	err := row.Scan(&entry.ProductID, &entry.CurrentQuantity, &entry.DisplayQuantity, &entry.ReservedQuantity, &entry.UpdatedAt)
	return entry, err
}
