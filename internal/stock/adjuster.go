package stock

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
)

// Adjuster applies a single order transition to the ledger. It is the fast
// path; any drift it leaves behind is healed by the next sweep.
type Adjuster struct {
	w ledgerWriter
}

// NewAdjuster constructs Adjuster.
func NewAdjuster(deps Deps) *Adjuster {
	return &Adjuster{w: newLedgerWriter(deps)}
}

// Apply reserves or releases the transition's lines product by product. A
// failing product is recorded and does not stop the others.
func (a *Adjuster) Apply(ctx context.Context, t Transition) AdjustmentResult {
	ctx, span := tracer.Start(ctx, "stock.adjust")
	defer span.End()

	effect := StockEffect(t.OldStatus, t.NewStatus)
	span.SetAttributes(
		attribute.String("stock.order_id", t.OrderID),
		attribute.String("stock.effect", string(effect)),
	)
	result := AdjustmentResult{OrderID: t.OrderID, OldStatus: t.OldStatus, NewStatus: t.NewStatus, Effect: effect}
	result.Results = []ProductResult{}
	if effect == EffectNone {
		return result
	}

	lines, issues := validLines(t.Lines)
	result.InvalidLines = len(issues)
	for _, issue := range issues {
		a.log().Warn("skip invalid order line",
			slog.String("order_id", t.OrderID),
			slog.String("product_id", issue.Line.ProductID),
			slog.Int64("quantity", issue.Line.Quantity),
			slog.Any("error", issue.Err))
	}

	products, totals := groupByProduct(lines)
	for _, productID := range products {
		qty := totals[productID]
		res := a.w.apply(ctx, productID, adjustPlan(effect, qty))
		result.add(res)
		if res.After == nil {
			continue
		}
		evtType := EventReserved
		if effect == EffectRelease {
			evtType = EventReleased
		}
		a.w.publish(ctx, Event{Type: evtType, ProductID: productID, OrderID: t.OrderID, Quantity: qty, Before: res.Before, After: res.After})
	}
	a.log().Info("order transition applied",
		slog.String("order_id", t.OrderID),
		slog.String("old_status", string(t.OldStatus)),
		slog.String("new_status", string(t.NewStatus)),
		slog.String("effect", string(effect)),
		slog.Int("updated", result.Updated),
		slog.Int("partial", result.Partial),
		slog.Int("failed", result.Failed))
	return result
}

// adjustPlan moves qty between display and reserved. While current_quantity is
// unknown only reserved moves, matching what a sweep would do for that row.
func adjustPlan(effect Effect, qty int64) planFunc {
	return func(entry LedgerEntry, found bool) (LedgerEntry, bool, Outcome) {
		next := entry
		_, known := entry.KnownCurrent()
		switch effect {
		case EffectReserve:
			next.ReservedQuantity = entry.ReservedQuantity + qty
			if known {
				next.DisplayQuantity = clamp(entry.DisplayQuantity - qty)
			}
		case EffectRelease:
			next.ReservedQuantity = clamp(entry.ReservedQuantity - qty)
			if known {
				next.DisplayQuantity = entry.DisplayQuantity + qty
			}
		default:
			return entry, false, OutcomeSkipped
		}
		if !known {
			return next, true, OutcomePartial
		}
		return next, true, OutcomeUpdated
	}
}

func (a *Adjuster) log() *slog.Logger {
	return a.w.Logger.With(slog.String("component", "stock.adjuster"))
}
