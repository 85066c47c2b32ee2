package stock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stockrecon/internal/platform/httpx"
)

// ServicePort is the subset of Service used by HTTP handlers.
type ServicePort interface {
	ReconcileAll(ctx context.Context, productIDs []string) (Report, error)
	OnOrderStatusChanged(ctx context.Context, t Transition) (AdjustmentResult, error)
	GetStockStatus(ctx context.Context) ([]Drift, error)
	GetProductStatus(ctx context.Context, productID string) (Drift, error)
	GetDisplay(ctx context.Context, productID string) (DisplayView, error)
}

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger       *slog.Logger
	service      ServicePort
	validator    *validator.Validate
	sweepLimit   int
	sweepTimeout time.Duration
}

// HandlerConfig tunes operator endpoints.
type HandlerConfig struct {
	SweepsPerMinute int
	SweepTimeout    time.Duration
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, service ServicePort, cfg HandlerConfig) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SweepsPerMinute <= 0 {
		cfg.SweepsPerMinute = 6
	}
	return &Handler{
		logger:       logger,
		service:      service,
		validator:    validator.New(),
		sweepLimit:   cfg.SweepsPerMinute,
		sweepTimeout: cfg.SweepTimeout,
	}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/status", h.handleStatus)
	r.Get("/status/{productID}", h.handleProductStatus)
	r.Get("/display/{productID}", h.handleDisplay)
	r.Post("/orders/{orderID}/transitions", h.handleTransition)
	r.With(httprate.LimitByIP(h.sweepLimit, time.Minute)).Post("/reconcile", h.handleReconcile)
}

type reconcileRequest struct {
	ProductIDs []string `json:"product_ids" validate:"max=5000,dive,required,max=128"`
}

type transitionLine struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

type transitionRequest struct {
	EventID   string           `json:"event_id" validate:"omitempty,uuid"`
	OldStatus string           `json:"old_status" validate:"required,oneof=pending approved in_transit complete cancelled pending_cancellation"`
	NewStatus string           `json:"new_status" validate:"required,oneof=pending approved in_transit complete cancelled pending_cancellation"`
	Lines     []transitionLine `json:"lines" validate:"max=500"`
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx := r.Context()
	if h.sweepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.sweepTimeout)
		defer cancel()
	}
	report, err := h.service.ReconcileAll(ctx, req.ProductIDs)
	if err != nil {
		h.logger.Error("reconcile failed", slog.String("run_id", report.RunID), slog.Any("error", err))
		httpx.JSON(w, http.StatusServiceUnavailable, report)
		return
	}
	status := http.StatusOK
	if report.Failed > 0 || report.Cancelled {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, report)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	t := Transition{
		EventID:   req.EventID,
		OrderID:   chi.URLParam(r, "orderID"),
		OldStatus: OrderStatus(req.OldStatus),
		NewStatus: OrderStatus(req.NewStatus),
	}
	for _, line := range req.Lines {
		t.Lines = append(t.Lines, OrderLine{OrderID: t.OrderID, ProductID: strings.TrimSpace(line.ProductID), Quantity: line.Quantity})
	}
	result, err := h.service.OnOrderStatusChanged(r.Context(), t)
	if err != nil {
		h.logger.Error("order transition failed", slog.String("order_id", t.OrderID), slog.Any("error", err))
		respondError(w, err)
		return
	}
	status := http.StatusOK
	if result.Failed > 0 {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.service.GetStockStatus(r.Context())
	if err != nil {
		h.logger.Error("stock status failed", slog.Any("error", err))
		respondError(w, err)
		return
	}
	if r.URL.Query().Get("only_drift") == "true" {
		filtered := make([]Drift, 0, len(drifts))
		for _, d := range drifts {
			if d.NeedsSync {
				filtered = append(filtered, d)
			}
		}
		drifts = filtered
	}
	httpx.JSON(w, http.StatusOK, drifts)
}

func (h *Handler) handleProductStatus(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	drift, err := h.service.GetProductStatus(r.Context(), productID)
	if err != nil {
		if !errors.Is(err, ErrEntryNotFound) {
			h.logger.Error("product status failed", slog.String("product_id", productID), slog.Any("error", err))
		}
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, drift)
}

func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	view, err := h.service.GetDisplay(r.Context(), productID)
	if err != nil {
		if !errors.Is(err, ErrEntryNotFound) {
			h.logger.Error("display read failed", slog.String("product_id", productID), slog.Any("error", err))
		}
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) validate(v any) error {
	if err := h.validator.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fieldErr := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s: %s", fieldErr.Field(), fieldErr.Tag()))
			}
			return fmt.Errorf("%w: %s", httpx.ErrValidation, strings.Join(msgs, ", "))
		}
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return nil
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEntryNotFound):
		err = fmt.Errorf("%w: %v", httpx.ErrNotFound, err)
	case errors.Is(err, ErrUnknownStatus), errors.Is(err, ErrOrderIDRequired):
		err = fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	case errors.Is(err, ErrOrderSource), errors.Is(err, ErrLedgerUnavailable):
		err = fmt.Errorf("%w: %v", httpx.ErrUnavailable, err)
	}
	httpx.RespondError(w, err)
}
