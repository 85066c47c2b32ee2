package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/stockrecon/internal/shared"
)

// IdempotencyPort guards transitions against duplicate delivery.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// DisplayReader serves cached display quantities.
type DisplayReader interface {
	Display(ctx context.Context, productID string) (int64, bool, error)
}

// DisplayView is the storefront read of one product.
type DisplayView struct {
	ProductID       string `json:"product_id"`
	DisplayQuantity int64  `json:"display_quantity"`
	Source          string `json:"source"`
}

// Service is the entry point used by HTTP handlers, jobs and the CLI.
type Service struct {
	store       LedgerStore
	display     DisplaySink
	adjuster    *Adjuster
	sweeper     *Sweeper
	idempotency IdempotencyPort
	logger      *slog.Logger
	status      singleflight.Group
	statusLimit time.Duration
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	SweepConcurrency int
	// StatusTimeout bounds one shared status computation. Defaults to 30s.
	StatusTimeout    time.Duration
}

// NewService builds Service. idem may be nil, disabling duplicate detection.
func NewService(deps Deps, orders OrderSource, idem IdempotencyPort, cfg ServiceConfig) *Service {
	if deps.Locker == nil {
		deps.Locker = NewLocalLocker()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = 30 * time.Second
	}
	return &Service{
		store:       deps.Store,
		display:     deps.Display,
		adjuster:    NewAdjuster(deps),
		sweeper:     NewSweeper(deps, orders, SweeperConfig{Concurrency: cfg.SweepConcurrency}),
		idempotency: idem,
		logger:      deps.Logger.With(slog.String("component", "stock.service")),
		statusLimit: cfg.StatusTimeout,
	}
}

// ReconcileAll runs a sweep over productIDs, or over everything when empty.
func (s *Service) ReconcileAll(ctx context.Context, productIDs []string) (Report, error) {
	return s.sweeper.ReconcileAll(ctx, productIDs)
}

// OnOrderStatusChanged applies the stock effect of a committed transition.
// Transitions carrying an event id are applied at most once.
func (s *Service) OnOrderStatusChanged(ctx context.Context, t Transition) (AdjustmentResult, error) {
	t.OrderID = strings.TrimSpace(t.OrderID)
	if t.OrderID == "" {
		return AdjustmentResult{}, ErrOrderIDRequired
	}
	if _, err := ParseOrderStatus(string(t.OldStatus)); err != nil {
		return AdjustmentResult{}, err
	}
	if _, err := ParseOrderStatus(string(t.NewStatus)); err != nil {
		return AdjustmentResult{}, err
	}

	key := ""
	if t.EventID != "" && s.idempotency != nil && StockEffect(t.OldStatus, t.NewStatus) != EffectNone {
		key = shared.StockTransitionKey(t.EventID)
		if err := s.idempotency.CheckAndInsert(ctx, key, "stock"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				s.logger.Info("duplicate order transition ignored", slog.String("event_id", t.EventID), slog.String("order_id", t.OrderID))
				return AdjustmentResult{
					OrderID:   t.OrderID,
					OldStatus: t.OldStatus,
					NewStatus: t.NewStatus,
					Effect:    StockEffect(t.OldStatus, t.NewStatus),
					Duplicate: true,
					Tally:     Tally{Results: []ProductResult{}},
				}, nil
			}
			return AdjustmentResult{}, fmt.Errorf("stock: idempotency check: %w", err)
		}
	}

	result := s.adjuster.Apply(ctx, t)
	if key != "" && result.Failed > 0 && result.Writes() == 0 {
		if err := s.idempotency.Delete(ctx, key); err != nil {
			s.logger.Warn("release idempotency key", slog.String("event_id", t.EventID), slog.Any("error", err))
		}
	}
	return result, nil
}

// GetStockStatus reports drift for every product against the live order set.
// Concurrent callers share one computation, which is detached from any single
// caller's cancellation; each caller stops waiting when its own ctx ends.
func (s *Service) GetStockStatus(ctx context.Context) ([]Drift, error) {
	ch := s.status.DoChan("stock-status", func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.statusLimit)
		defer cancel()
		return s.stockStatus(runCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		drifts := res.Val.([]Drift)
		out := make([]Drift, len(drifts))
		copy(out, drifts)
		return out, nil
	}
}

func (s *Service) stockStatus(ctx context.Context) ([]Drift, error) {
	reservations, err := s.sweeper.ExpectedReservations(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	drifts := make([]Drift, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		seen[entry.ProductID] = struct{}{}
		drifts = append(drifts, DetectDriftAgainst(entry, reservations.Get(entry.ProductID)))
	}
	for productID, expected := range reservations.Expected {
		if _, ok := seen[productID]; ok {
			continue
		}
		drifts = append(drifts, DetectDriftAgainst(LedgerEntry{ProductID: productID}, expected))
	}
	sort.Slice(drifts, func(i, j int) bool { return drifts[i].ProductID < drifts[j].ProductID })
	return drifts, nil
}

// ListEntries returns the stored ledger rows.
func (s *Service) ListEntries(ctx context.Context) ([]LedgerEntry, error) {
	return s.store.ListEntries(ctx)
}

// GetProductStatus reports drift for a single stored product.
func (s *Service) GetProductStatus(ctx context.Context, productID string) (Drift, error) {
	entry, err := s.store.GetEntry(ctx, productID)
	if err != nil {
		return Drift{}, err
	}
	reservations, err := s.sweeper.ExpectedReservations(ctx)
	if err != nil {
		return Drift{}, err
	}
	return DetectDriftAgainst(entry, reservations.Get(productID)), nil
}

// GetDisplay returns the storefront quantity, from the display cache when it
// holds the product and from the ledger otherwise. Ledger reads refill the cache.
func (s *Service) GetDisplay(ctx context.Context, productID string) (DisplayView, error) {
	view := DisplayView{ProductID: productID}
	if reader, ok := s.display.(DisplayReader); ok {
		v, found, err := reader.Display(ctx, productID)
		if err != nil {
			s.logger.Warn("display cache read failed", slog.String("product_id", productID), slog.Any("error", err))
		} else if found {
			view.DisplayQuantity = v
			view.Source = "cache"
			return view, nil
		}
	}
	entry, err := s.store.GetEntry(ctx, productID)
	if err != nil {
		return view, err
	}
	view.DisplayQuantity = entry.DisplayQuantity
	view.Source = "ledger"
	if s.display != nil {
		if err := s.display.SetDisplay(ctx, productID, entry.DisplayQuantity); err != nil {
			s.logger.Warn("display cache refill failed", slog.String("product_id", productID), slog.Any("error", err))
		}
	}
	return view, nil
}
