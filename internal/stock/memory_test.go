package stock

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/stockrecon/internal/shared"
)

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]LedgerEntry
	fail    map[string]error
	listErr error
	writes  int
}

func newMemoryStore(entries ...LedgerEntry) *memoryStore {
	s := &memoryStore{entries: make(map[string]LedgerEntry), fail: make(map[string]error)}
	for _, e := range entries {
		s.entries[e.ProductID] = e
	}
	return s
}

func (s *memoryStore) ListEntries(ctx context.Context) ([]LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]LedgerEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *memoryStore) GetEntry(ctx context.Context, productID string) (LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[productID]
	if !ok {
		return LedgerEntry{ProductID: productID}, ErrEntryNotFound
	}
	return e, nil
}

func (s *memoryStore) UpdateEntry(ctx context.Context, productID string, fn UpdateFunc) (LedgerEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[productID]; err != nil {
		return LedgerEntry{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return LedgerEntry{}, false, err
	}
	entry, found := s.entries[productID]
	if !found {
		entry = LedgerEntry{ProductID: productID}
	}
	next, write, err := fn(entry, found)
	if err != nil || !write {
		return entry, false, err
	}
	next.UpdatedAt = time.Now().UTC()
	s.entries[productID] = next
	s.writes++
	return next, true, nil
}

func (s *memoryStore) entry(productID string) LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[productID]
}

func (s *memoryStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// setCurrent simulates catalog sync.
func (s *memoryStore) setCurrent(productID string, current int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[productID]
	e.ProductID = productID
	e.CurrentQuantity = Quantity(current)
	s.entries[productID] = e
}

type memoryOrders struct {
	mu     sync.Mutex
	orders map[string]Order
	lines  []OrderLine
	err    error
}

func newMemoryOrders() *memoryOrders {
	return &memoryOrders{orders: make(map[string]Order)}
}

func (o *memoryOrders) add(id string, status OrderStatus, lines ...OrderLine) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.orders[id] = Order{ID: id, Status: status, CreatedAt: time.Now().UTC()}
	for _, l := range lines {
		l.OrderID = id
		o.lines = append(o.lines, l)
	}
}

func (o *memoryOrders) setStatus(id string, status OrderStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	order := o.orders[id]
	order.Status = status
	o.orders[id] = order
}

func (o *memoryOrders) linesOf(id string) []OrderLine {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []OrderLine
	for _, l := range o.lines {
		if l.OrderID == id {
			out = append(out, l)
		}
	}
	return out
}

func (o *memoryOrders) ListReservingOrders(ctx context.Context) ([]Order, []OrderLine, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, nil, o.err
	}
	var (
		orders []Order
		lines  []OrderLine
	)
	for _, order := range o.orders {
		if !order.Status.IsReserving() {
			continue
		}
		orders = append(orders, order)
	}
	for _, l := range o.lines {
		if o.orders[l.OrderID].Status.IsReserving() {
			lines = append(lines, l)
		}
	}
	return orders, lines, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, evt Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) ofType(t EventType) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, evt := range p.events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

type recordingDisplay struct {
	mu     sync.Mutex
	values map[string]int64
}

func (d *recordingDisplay) SetDisplay(ctx context.Context, productID string, display int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.values == nil {
		d.values = make(map[string]int64)
	}
	d.values[productID] = display
	return nil
}

type memoryIdempotency struct {
	mu      sync.Mutex
	keys    map[string]string
	deleted []string
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: make(map[string]string)}
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key == "" {
		return errors.New("idempotency key required")
	}
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func fixedClock() func() time.Time {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func row(productID string, current *int64, display, reserved int64) LedgerEntry {
	return LedgerEntry{ProductID: productID, CurrentQuantity: current, DisplayQuantity: display, ReservedQuantity: reserved}
}
