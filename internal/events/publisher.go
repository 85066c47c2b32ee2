// Package events delivers committed stock ledger events to downstream sinks.
package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/stockrecon/internal/stock"
)

// Nop discards events.
type Nop struct{}

// Publish implements stock.Publisher.
func (Nop) Publish(context.Context, stock.Event) error { return nil }

// Fanout publishes every event to all sinks. One failing sink does not stop
// the others; failures are joined.
type Fanout []stock.Publisher

// Publish implements stock.Publisher.
func (f Fanout) Publish(ctx context.Context, evt stock.Event) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", sink, err))
		}
	}
	return errors.Join(errs...)
}
