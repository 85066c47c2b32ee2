package stock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sweepFixture struct {
	store     *memoryStore
	orders    *memoryOrders
	publisher *recordingPublisher
	deps      Deps
	sweeper   *Sweeper
}

func newSweepFixture(entries ...LedgerEntry) sweepFixture {
	f := sweepFixture{
		store:     newMemoryStore(entries...),
		orders:    newMemoryOrders(),
		publisher: &recordingPublisher{},
	}
	f.deps = Deps{Store: f.store, Locker: NewLocalLocker(), Publisher: f.publisher, Clock: fixedClock()}
	f.sweeper = NewSweeper(f.deps, f.orders, SweeperConfig{Concurrency: 4})
	return f
}

func TestSweepOrphanReset(t *testing.T) {
	f := newSweepFixture(row("p1", Quantity(100), 60, 40))

	report, err := f.sweeper.ReconcileAll(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Updated)
	require.Zero(t, f.store.entry("p1").ReservedQuantity)
	require.Equal(t, int64(100), f.store.entry("p1").DisplayQuantity)
}

func TestSweepIsIdempotent(t *testing.T) {
	f := newSweepFixture(
		row("p1", Quantity(20), 20, 0),
		row("p2", Quantity(8), 1, 1),
		row("p3", nil, 5, 9),
	)
	f.orders.add("o1", StatusApproved, OrderLine{ProductID: "p1", Quantity: 3}, OrderLine{ProductID: "p2", Quantity: 2})
	f.orders.add("o2", StatusInTransit, OrderLine{ProductID: "p1", Quantity: 1})
	f.orders.add("o3", StatusPending, OrderLine{ProductID: "p3", Quantity: 7})
	ctx := context.Background()

	first, err := f.sweeper.ReconcileAll(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 2, first.Updated)
	require.Equal(t, 1, first.Partial)
	writes := f.store.writeCount()
	require.Equal(t, 3, writes)

	second, err := f.sweeper.ReconcileAll(ctx, nil)
	require.NoError(t, err)
	require.Zero(t, second.Updated)
	require.Equal(t, 2, second.Skipped)
	require.Equal(t, 1, second.Partial)
	require.Equal(t, writes, f.store.writeCount())
	require.Len(t, f.publisher.ofType(EventReconciled), 3)
	require.Len(t, f.publisher.ofType(EventSweepCompleted), 2)
}

func TestSweepConservationAndReservation(t *testing.T) {
	f := newSweepFixture()
	for i := 0; i < 20; i++ {
		f.store.setCurrent(fmt.Sprintf("p%02d", i), int64(50+i))
	}
	for i := 0; i < 10; i++ {
		f.orders.add(fmt.Sprintf("o%d", i), StatusComplete,
			OrderLine{ProductID: fmt.Sprintf("p%02d", i), Quantity: int64(i + 1)},
			OrderLine{ProductID: fmt.Sprintf("p%02d", i+5), Quantity: 2},
		)
	}
	f.orders.add("cancelled", StatusCancelled, OrderLine{ProductID: "p00", Quantity: 30})

	report, err := f.sweeper.ReconcileAll(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 20, report.Candidates)
	require.Zero(t, report.Failed)

	expected, err := f.sweeper.ExpectedReservations(context.Background())
	require.NoError(t, err)
	entries, err := f.store.ListEntries(context.Background())
	require.NoError(t, err)
	for _, e := range entries {
		current, ok := e.KnownCurrent()
		require.True(t, ok)
		require.Equal(t, expected.Get(e.ProductID), e.ReservedQuantity, e.ProductID)
		require.Equal(t, current, e.DisplayQuantity+e.ReservedQuantity, e.ProductID)
		require.GreaterOrEqual(t, e.DisplayQuantity, int64(0))
	}
}

func TestSweepRecordsReservationsForProductsWithoutRow(t *testing.T) {
	f := newSweepFixture()
	f.orders.add("o1", StatusApproved, OrderLine{ProductID: "ghost", Quantity: 4})

	report, err := f.sweeper.ReconcileAll(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Partial)
	ghost := f.store.entry("ghost")
	require.Nil(t, ghost.CurrentQuantity)
	require.Equal(t, int64(4), ghost.ReservedQuantity)
	require.Zero(t, ghost.DisplayQuantity)
}

func TestSweepOrderSourceFailureIsSystemic(t *testing.T) {
	f := newSweepFixture(row("p1", Quantity(10), 0, 0))
	f.orders.err = errors.New("connection refused")

	report, err := f.sweeper.ReconcileAll(context.Background(), nil)
	require.ErrorIs(t, err, ErrOrderSource)
	require.NotEmpty(t, report.RunID)
	require.NotEmpty(t, report.Error)
	require.Zero(t, report.Updated)
	require.Zero(t, f.store.writeCount())
	require.Empty(t, f.publisher.events)
}

func TestSweepLedgerListFailureIsSystemic(t *testing.T) {
	f := newSweepFixture(row("p1", Quantity(10), 0, 0))
	f.store.listErr = errors.New("timeout")

	_, err := f.sweeper.ReconcileAll(context.Background(), nil)
	require.ErrorIs(t, err, ErrLedgerUnavailable)
	require.Zero(t, f.store.writeCount())
}

func TestSweepIsolatesProductFailures(t *testing.T) {
	f := newSweepFixture(row("p1", Quantity(10), 0, 0), row("p2", Quantity(10), 0, 0), row("p3", Quantity(10), 0, 0))
	f.store.fail["p2"] = errors.New("deadlock detected")

	report, err := f.sweeper.ReconcileAll(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 2, report.Updated)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, []Failure{{ProductID: "p2", Error: "deadlock detected"}}, report.Failures)
	require.Len(t, report.Results, 3)
	require.Equal(t, "p1", report.Results[0].ProductID)
	require.Equal(t, OutcomeFailed, report.Results[1].Outcome)
}

func TestSweepScopedToProducts(t *testing.T) {
	f := newSweepFixture(row("p1", Quantity(10), 0, 0), row("p2", Quantity(10), 0, 0))

	report, err := f.sweeper.ReconcileAll(context.Background(), []string{" p2 ", "p2", ""})
	require.NoError(t, err)
	require.Equal(t, []string{"p2"}, report.Scope)
	require.Equal(t, 1, report.Candidates)
	require.Equal(t, int64(10), f.store.entry("p2").DisplayQuantity)
	require.Zero(t, f.store.entry("p1").DisplayQuantity)
}

func TestSweepCancelledReturnsPartialReport(t *testing.T) {
	f := newSweepFixture(row("p1", Quantity(10), 0, 0), row("p2", Quantity(10), 0, 0))
	ctx, cancelFn := context.WithCancel(context.Background())
	cancelFn()

	report, err := f.sweeper.ReconcileAll(ctx, nil)
	require.NoError(t, err)
	require.True(t, report.Cancelled)
	require.Equal(t, context.Canceled.Error(), report.Error)
	require.Equal(t, 2, report.Candidates)
	require.Zero(t, report.Updated)
	require.Zero(t, report.Failed)
	require.Equal(t, []string{"p1", "p2"}, report.Unreached)
	require.Len(t, f.publisher.ofType(EventSweepCompleted), 1)
}

func TestSweepTimeoutLeavesLockedProductUnreached(t *testing.T) {
	f := newSweepFixture(row("a", Quantity(10), 0, 0), row("b", Quantity(10), 0, 0))
	unlock, err := f.deps.Locker.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	report, err := f.sweeper.ReconcileAll(ctx, nil)
	require.NoError(t, err)
	require.True(t, report.Cancelled)
	require.Equal(t, 1, report.Updated)
	require.Zero(t, report.Failed)
	require.Empty(t, report.Failures)
	require.Equal(t, []string{"a"}, report.Unreached)
	require.Len(t, report.Results, 1)
	require.Equal(t, "b", report.Results[0].ProductID)
	require.Zero(t, f.store.entry("a").DisplayQuantity)
}

func TestIncrementalAndSweepAgree(t *testing.T) {
	f := newSweepFixture(row("P100", Quantity(500), 500, 0))
	adjuster := NewAdjuster(f.deps)
	ctx := context.Background()

	o1 := OrderLine{ProductID: "P100", Quantity: 50}
	o2 := OrderLine{ProductID: "P100", Quantity: 30}

	f.orders.add("O1", StatusApproved, o1)
	adjuster.Apply(ctx, approve("O1", o1))
	require.Equal(t, int64(450), f.store.entry("P100").DisplayQuantity)
	require.Equal(t, int64(50), f.store.entry("P100").ReservedQuantity)

	f.orders.add("O2", StatusApproved, o2)
	adjuster.Apply(ctx, approve("O2", o2))
	require.Equal(t, int64(420), f.store.entry("P100").DisplayQuantity)
	require.Equal(t, int64(80), f.store.entry("P100").ReservedQuantity)

	f.orders.setStatus("O1", StatusCancelled)
	adjuster.Apply(ctx, cancel("O1", o1))
	require.Equal(t, int64(470), f.store.entry("P100").DisplayQuantity)
	require.Equal(t, int64(30), f.store.entry("P100").ReservedQuantity)

	writes := f.store.writeCount()
	report, err := f.sweeper.ReconcileAll(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 1, report.Skipped)
	require.Equal(t, writes, f.store.writeCount())
}

func TestConcurrentTransitionsAndSweepsConverge(t *testing.T) {
	f := newSweepFixture()
	products := []string{"a", "b", "c", "d"}
	for _, p := range products {
		f.store.setCurrent(p, 1000)
	}
	adjuster := NewAdjuster(f.deps)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		orderID := fmt.Sprintf("o%d", i)
		line := OrderLine{ProductID: products[i%len(products)], Quantity: int64(i%5 + 1)}
		f.orders.add(orderID, StatusPending, line)
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.orders.setStatus(orderID, StatusApproved)
			adjuster.Apply(ctx, approve(orderID, line))
			if i%3 == 0 {
				f.orders.setStatus(orderID, StatusCancelled)
				adjuster.Apply(ctx, cancel(orderID, line))
			}
		}()
		if i%10 == 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = f.sweeper.ReconcileAll(ctx, nil)
			}()
		}
	}
	wg.Wait()

	_, err := f.sweeper.ReconcileAll(ctx, nil)
	require.NoError(t, err)
	final, err := f.sweeper.ReconcileAll(ctx, nil)
	require.NoError(t, err)
	require.Zero(t, final.Updated)

	expected, err := f.sweeper.ExpectedReservations(ctx)
	require.NoError(t, err)
	for _, p := range products {
		e := f.store.entry(p)
		require.Equal(t, expected.Get(p), e.ReservedQuantity, p)
		require.Equal(t, int64(1000), e.DisplayQuantity+e.ReservedQuantity, p)
	}
}
