package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Sweeper recomputes every ledger row from the full order set. Running it
// again at the fixed point writes nothing.
type Sweeper struct {
	w           ledgerWriter
	orders      OrderSource
	concurrency int
}

// SweeperConfig tunes the sweep.
type SweeperConfig struct {
	Concurrency int
}

// NewSweeper constructs Sweeper.
func NewSweeper(deps Deps, orders OrderSource, cfg SweeperConfig) *Sweeper {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Sweeper{w: newLedgerWriter(deps), orders: orders, concurrency: cfg.Concurrency}
}

// ReconcileAll converges the ledger for productIDs, or for every known product
// when productIDs is empty. Only a failure to load the order set or the ledger
// is returned as an error; per-product failures are reported in the Report.
// Cancelling ctx yields the results processed so far.
func (s *Sweeper) ReconcileAll(ctx context.Context, productIDs []string) (Report, error) {
	ctx, span := tracer.Start(ctx, "stock.reconcile_all")
	defer span.End()

	report := Report{RunID: uuid.NewString(), StartedAt: s.w.Clock(), Scope: normaliseScope(productIDs)}
	report.Results = []ProductResult{}
	span.SetAttributes(attribute.String("stock.run_id", report.RunID), attribute.Int("stock.scope", len(report.Scope)))
	logger := s.log().With(slog.String("run_id", report.RunID))

	reservations, err := s.loadReservations(ctx, logger)
	if err != nil {
		return s.abort(span, report, err)
	}
	candidates, err := s.candidates(ctx, report.Scope, reservations)
	if err != nil {
		return s.abort(span, report, err)
	}
	report.Candidates = len(candidates)

	var (
		mu        sync.Mutex
		g         errgroup.Group
		unreached []string
	)
	skip := func(productID string) {
		mu.Lock()
		unreached = append(unreached, productID)
		mu.Unlock()
	}
	g.SetLimit(s.concurrency)
	for _, productID := range candidates {
		if ctx.Err() != nil {
			skip(productID)
			continue
		}
		expected := reservations.Get(productID)
		g.Go(func() error {
			if ctx.Err() != nil {
				skip(productID)
				return nil
			}
			res := s.w.apply(ctx, productID, func(entry LedgerEntry, _ bool) (LedgerEntry, bool, Outcome) {
				return PlanReconcile(entry, expected)
			})
			if interrupted(ctx, res) {
				skip(productID)
				return nil
			}
			mu.Lock()
			report.add(res)
			mu.Unlock()
			if res.After != nil {
				s.w.publish(ctx, Event{Type: EventReconciled, ProductID: productID, RunID: report.RunID, Quantity: expected, Before: res.Before, After: res.After})
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(unreached)
	report.Unreached = unreached
	report.sort()
	report.FinishedAt = s.w.Clock()
	if err := ctx.Err(); err != nil {
		report.Cancelled = true
		report.Error = err.Error()
		logger.Warn("sweep interrupted",
			slog.Int("processed", len(report.Results)),
			slog.Int("unreached", len(report.Unreached)),
			slog.Int("candidates", report.Candidates),
			slog.Any("error", err))
	}
	counts := report.Counts()
	s.w.publish(context.WithoutCancel(ctx), Event{Type: EventSweepCompleted, RunID: report.RunID, Counts: &counts})
	span.SetAttributes(
		attribute.Int("stock.updated", report.Updated),
		attribute.Int("stock.skipped", report.Skipped),
		attribute.Int("stock.partial", report.Partial),
		attribute.Int("stock.failed", report.Failed),
	)
	logger.Info("sweep finished",
		slog.Int("candidates", report.Candidates),
		slog.Int("updated", report.Updated),
		slog.Int("skipped", report.Skipped),
		slog.Int("partial", report.Partial),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}

// ExpectedReservations loads the order set and computes expected reservations.
func (s *Sweeper) ExpectedReservations(ctx context.Context) (Reservations, error) {
	return s.loadReservations(ctx, s.log())
}

func (s *Sweeper) loadReservations(ctx context.Context, logger *slog.Logger) (Reservations, error) {
	if s.orders == nil {
		return Reservations{}, fmt.Errorf("%w: source not configured", ErrOrderSource)
	}
	orders, lines, err := s.orders.ListReservingOrders(ctx)
	if err != nil {
		return Reservations{}, fmt.Errorf("%w: %w", ErrOrderSource, err)
	}
	reservations := ExpectedReservations(orders, lines)
	for _, issue := range reservations.Skipped {
		logger.Warn("skip invalid order line",
			slog.String("order_id", issue.Line.OrderID),
			slog.String("product_id", issue.Line.ProductID),
			slog.Int64("quantity", issue.Line.Quantity),
			slog.Any("error", issue.Err))
	}
	return reservations, nil
}

// candidates is every stored product plus every product with reservations,
// restricted to scope when one is given.
func (s *Sweeper) candidates(ctx context.Context, scope []string, reservations Reservations) ([]string, error) {
	if len(scope) > 0 {
		return scope, nil
	}
	entries, err := s.w.Store.ListEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	set := make(map[string]struct{}, len(entries)+len(reservations.Expected))
	for _, entry := range entries {
		set[entry.ProductID] = struct{}{}
	}
	for productID := range reservations.Expected {
		set[productID] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for productID := range set {
		out = append(out, productID)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Sweeper) abort(span trace.Span, report Report, err error) (Report, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	report.FinishedAt = s.w.Clock()
	report.Error = err.Error()
	s.log().Error("sweep aborted", slog.String("run_id", report.RunID), slog.Any("error", err))
	return report, err
}

func (s *Sweeper) log() *slog.Logger {
	return s.w.Logger.With(slog.String("component", "stock.sweep"))
}

// interrupted reports whether res failed only because the sweep's own context
// ended, in which case the product was not reached rather than broken.
func interrupted(ctx context.Context, res ProductResult) bool {
	if res.Outcome != OutcomeFailed || ctx.Err() == nil {
		return false
	}
	return errors.Is(res.Err, ctx.Err())
}

func normaliseScope(productIDs []string) []string {
	if len(productIDs) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(productIDs))
	out := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
