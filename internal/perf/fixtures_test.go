package perf

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/odyssey-erp/stockrecon/internal/stock"
)

// ledger is an in-process LedgerStore and OrderSource for load scenarios.
type ledger struct {
	mu      sync.Mutex
	entries map[string]stock.LedgerEntry
	orders  []stock.Order
	lines   []stock.OrderLine
}

func newLedger(products, orders int) *ledger {
	l := &ledger{entries: make(map[string]stock.LedgerEntry, products)}
	for i := 0; i < products; i++ {
		id := fmt.Sprintf("P%05d", i)
		l.entries[id] = stock.LedgerEntry{ProductID: id, CurrentQuantity: stock.Quantity(1000), DisplayQuantity: 1000}
	}
	now := time.Now().UTC()
	for i := 0; i < orders; i++ {
		id := fmt.Sprintf("O%05d", i)
		status := stock.StatusApproved
		if i%4 == 0 {
			status = stock.StatusPending
		}
		l.orders = append(l.orders, stock.Order{ID: id, Status: status, CreatedAt: now})
		l.lines = append(l.lines, stock.OrderLine{OrderID: id, ProductID: fmt.Sprintf("P%05d", i%products), Quantity: int64(i%7 + 1)})
	}
	return l
}

func (l *ledger) ListEntries(ctx context.Context) ([]stock.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]stock.LedgerEntry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	return out, nil
}

func (l *ledger) GetEntry(ctx context.Context, productID string) (stock.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[productID]
	if !ok {
		return stock.LedgerEntry{ProductID: productID}, stock.ErrEntryNotFound
	}
	return e, nil
}

func (l *ledger) UpdateEntry(ctx context.Context, productID string, fn stock.UpdateFunc) (stock.LedgerEntry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, found := l.entries[productID]
	if !found {
		e = stock.LedgerEntry{ProductID: productID}
	}
	next, write, err := fn(e, found)
	if err != nil || !write {
		return e, false, err
	}
	l.entries[productID] = next
	return next, true, nil
}

func (l *ledger) ListReservingOrders(ctx context.Context) ([]stock.Order, []stock.OrderLine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]stock.Order(nil), l.orders...), append([]stock.OrderLine(nil), l.lines...), nil
}

func newService(l *ledger) *stock.Service {
	return stock.NewService(stock.Deps{Store: l}, l, nil, stock.ServiceConfig{SweepConcurrency: 8})
}
