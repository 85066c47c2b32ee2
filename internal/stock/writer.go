package stock

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/odyssey-erp/stockrecon/internal/stock")

// DisplaySink mirrors committed display quantities for storefront readers.
type DisplaySink interface {
	SetDisplay(ctx context.Context, productID string, display int64) error
}

// Deps groups collaborators shared by the adjuster and the sweep.
type Deps struct {
	Store     LedgerStore
	Locker    Locker
	Publisher Publisher
	Display   DisplaySink
	Logger    *slog.Logger
	Clock     func() time.Time
}

// planFunc decides the next row for a locked entry.
type planFunc func(entry LedgerEntry, found bool) (next LedgerEntry, write bool, outcome Outcome)

// ledgerWriter is the single write path: lock, read-modify-write one row, mirror.
type ledgerWriter struct {
	Deps
}

func newLedgerWriter(deps Deps) ledgerWriter {
	if deps.Locker == nil {
		deps.Locker = NewLocalLocker()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	return ledgerWriter{Deps: deps}
}

func (w ledgerWriter) apply(ctx context.Context, productID string, plan planFunc) ProductResult {
	ctx, span := tracer.Start(ctx, "stock.update_entry")
	defer span.End()
	span.SetAttributes(attribute.String("stock.product_id", productID))

	result := ProductResult{ProductID: productID}
	unlock, err := w.Locker.Lock(ctx, productID)
	if err != nil {
		return w.fail(span, result, err)
	}
	defer unlock()

	var before LedgerEntry
	outcome := OutcomeSkipped
	stored, written, err := w.Store.UpdateEntry(ctx, productID, func(entry LedgerEntry, found bool) (LedgerEntry, bool, error) {
		before = entry
		before.ProductID = productID
		next, write, planned := plan(entry, found)
		outcome = planned
		next.ProductID = productID
		next.CurrentQuantity = entry.CurrentQuantity
		next.DisplayQuantity = clamp(next.DisplayQuantity)
		next.ReservedQuantity = clamp(next.ReservedQuantity)
		if write && next.SameQuantities(entry) {
			write = false
		}
		return next, write, nil
	})
	if err != nil {
		return w.fail(span, result, err)
	}
	if outcome == OutcomeUpdated && !written {
		outcome = OutcomeSkipped
	}
	result.Outcome = outcome
	result.Before = &before
	if written {
		result.After = &stored
		w.mirror(ctx, stored)
	}
	span.SetAttributes(attribute.String("stock.outcome", string(outcome)), attribute.Bool("stock.written", written))
	return result
}

func (w ledgerWriter) fail(span trace.Span, result ProductResult, err error) ProductResult {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	result.Outcome = OutcomeFailed
	result.Err = err
	result.Error = err.Error()
	w.Logger.Error("ledger update failed", slog.String("product_id", result.ProductID), slog.Any("error", err))
	return result
}

func (w ledgerWriter) mirror(ctx context.Context, entry LedgerEntry) {
	if w.Display == nil {
		return
	}
	if err := w.Display.SetDisplay(ctx, entry.ProductID, entry.DisplayQuantity); err != nil {
		w.Logger.Warn("display cache update failed", slog.String("product_id", entry.ProductID), slog.Any("error", err))
	}
}

func (w ledgerWriter) publish(ctx context.Context, evt Event) {
	if w.Publisher == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = w.Clock()
	}
	if err := w.Publisher.Publish(ctx, evt); err != nil {
		w.Logger.Warn("publish stock event failed", slog.String("type", string(evt.Type)), slog.String("product_id", evt.ProductID), slog.Any("error", err))
	}
}
