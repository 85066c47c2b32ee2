package events

import (
	"context"

	"github.com/odyssey-erp/stockrecon/internal/shared"
	"github.com/odyssey-erp/stockrecon/internal/stock"
)

// AuditRecorder persists audit trail entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// AuditPublisher turns ledger events into audit_logs rows.
type AuditPublisher struct {
	recorder AuditRecorder
}

// NewAuditPublisher builds the sink.
func NewAuditPublisher(recorder AuditRecorder) *AuditPublisher {
	return &AuditPublisher{recorder: recorder}
}

// Publish implements stock.Publisher.
func (p *AuditPublisher) Publish(ctx context.Context, evt stock.Event) error {
	if p == nil || p.recorder == nil {
		return nil
	}
	return p.recorder.Record(ctx, auditLog(evt))
}

func auditLog(evt stock.Event) shared.AuditLog {
	log := shared.AuditLog{
		Actor:  shared.SystemActor,
		Action: string(evt.Type),
		At:     evt.OccurredAt,
		Meta:   map[string]any{"event_id": evt.ID},
	}
	if evt.ProductID != "" {
		log.Entity = "stock_ledger"
		log.EntityID = evt.ProductID
	} else {
		log.Entity = "stock_sweep"
		log.EntityID = evt.RunID
	}
	if evt.OrderID != "" {
		log.Meta["order_id"] = evt.OrderID
	}
	if evt.RunID != "" {
		log.Meta["run_id"] = evt.RunID
	}
	if evt.Quantity != 0 {
		log.Meta["quantity"] = evt.Quantity
	}
	if evt.Before != nil {
		log.Meta["before"] = quantities(*evt.Before)
	}
	if evt.After != nil {
		log.Meta["after"] = quantities(*evt.After)
	}
	if evt.Counts != nil {
		log.Meta["counts"] = evt.Counts
	}
	return log
}

func quantities(e stock.LedgerEntry) map[string]any {
	out := map[string]any{
		"display_quantity":  e.DisplayQuantity,
		"reserved_quantity": e.ReservedQuantity,
	}
	if e.CurrentQuantity != nil {
		out["current_quantity"] = *e.CurrentQuantity
	}
	return out
}
