package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/merchlane/ordercore/internal/domain"
	"github.com/merchlane/ordercore/internal/platform/httpx"
	"github.com/merchlane/ordercore/internal/services"
)

// InventoryHandlers exposes stock visibility and manual adjustment endpoints.
type InventoryHandlers struct {
	inventory services.InventoryService
}

// NewInventoryHandlers constructs a new InventoryHandlers instance.
func NewInventoryHandlers(inventory services.InventoryService) *InventoryHandlers {
	return &InventoryHandlers{inventory: inventory}
}

// Routes registers the /inventory endpoints.
func (h *InventoryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/low-stock", h.listLowStock)
	r.Get("/out-of-stock", h.listOutOfStock)
	r.Post("/{productID}:adjust", h.adjust)
	r.Get("/{productID}/adjustments", h.listAdjustments)
}

type adjustInventoryRequest struct {
	Delta   int    `json:"delta"`
	Note    string `json:"note"`
	ActorID string `json:"actor_id"`
}

type adjustInventoryResponse struct {
	Product           productPayload `json:"product"`
	PreviousInventory int            `json:"previous_inventory"`
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

func (h *InventoryHandlers) listLowStock(w http.ResponseWriter, r *http.Request) {
	h.listStock(w, r, func(ctx context.Context, pager services.Pagination) (domain.CursorPage[services.Product], error) {
		return h.inventory.ListLowStock(ctx, pager)
	})
}

func (h *InventoryHandlers) listOutOfStock(w http.ResponseWriter, r *http.Request) {
	h.listStock(w, r, func(ctx context.Context, pager services.Pagination) (domain.CursorPage[services.Product], error) {
		return h.inventory.ListOutOfStock(ctx, pager)
	})
}

func (h *InventoryHandlers) listStock(w http.ResponseWriter, r *http.Request, list func(context.Context, services.Pagination) (domain.CursorPage[services.Product], error)) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}

	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := list(ctx, pager)
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *InventoryHandlers) adjust(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	var req adjustInventoryRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	outcome, err := h.inventory.Adjust(ctx, services.AdjustInventoryCommand{
		ProductID: productID,
		Delta:     req.Delta,
		Note:      req.Note,
		ActorID:   req.ActorID,
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, adjustInventoryResponse{
		Product:           buildProductPayload(outcome.Product),
		PreviousInventory: outcome.PreviousInventory,
	})
}

func (h *InventoryHandlers) listAdjustments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("inventory_service_unavailable", "inventory service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	reasons := make([]domain.AdjustmentReason, 0)
	for _, raw := range parseFilterValues(r.URL.Query()["reason"]) {
		switch reason := domain.AdjustmentReason(raw); reason {
		case domain.AdjustmentReasonOrderReserve, domain.AdjustmentReasonOrderCancelRestore, domain.AdjustmentReasonManualAdjust:
			reasons = append(reasons, reason)
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "reason must be a valid adjustment reason", http.StatusBadRequest))
			return
		}
	}

	dateRange, err := parseDateRange(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.inventory.ListAdjustments(ctx, services.ListAdjustmentsCommand{
		ProductID:  productID,
		Reasons:    reasons,
		DateRange:  dateRange,
		Pagination: pager,
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	items := make([]adjustmentPayload, 0, len(page.Items))
	for _, adjustment := range page.Items {
		items = append(items, buildAdjustmentPayload(adjustment))
	}
	writeJSONResponse(w, http.StatusOK, adjustmentListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

type adjustmentListResponse struct {
	Items         []adjustmentPayload `json:"items"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

type adjustmentPayload struct {
	ID            string  `json:"id"`
	ProductID     string  `json:"product_id"`
	QuantityDelta int     `json:"quantity_delta"`
	Reason        string  `json:"reason"`
	OrderID       *string `json:"order_id,omitempty"`
	Note          string  `json:"note,omitempty"`
	CreatedBy     string  `json:"created_by,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

func buildAdjustmentPayload(adjustment services.InventoryAdjustment) adjustmentPayload {
	return adjustmentPayload{
		ID:            adjustment.ID,
		ProductID:     adjustment.ProductID,
		QuantityDelta: adjustment.QuantityDelta,
		Reason:        string(adjustment.Reason),
		OrderID:       adjustment.OrderID,
		Note:          adjustment.Note,
		CreatedBy:     adjustment.CreatedBy,
		CreatedAt:     formatTime(adjustment.CreatedAt),
	}
}

func writeInventoryError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInvalidAdjustment):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_adjustment", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_inventory", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("inventory_error", "failed to process inventory request", http.StatusInternalServerError))
	}
}
