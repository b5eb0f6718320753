package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/merchlane/ordercore/internal/platform/httpx"
	"github.com/merchlane/ordercore/internal/services"
)

// ProductHandlers serves product detail and similarity lookups.
type ProductHandlers struct {
	inventory services.InventoryService
	scoring   services.ScoringService
}

// NewProductHandlers constructs a new ProductHandlers instance.
func NewProductHandlers(inventory services.InventoryService, scoring services.ScoringService) *ProductHandlers {
	return &ProductHandlers{inventory: inventory, scoring: scoring}
}

// Routes registers the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{productID}", h.getProduct)
	r.Get("/{productID}/similar", h.listSimilar)
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		httpx.WriteError(ctx, w, httpx.NewError("product_service_unavailable", "product service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.inventory.GetProduct(ctx, productID)
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(product))
}

func (h *ProductHandlers) listSimilar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.scoring == nil {
		httpx.WriteError(ctx, w, httpx.NewError("product_service_unavailable", "product service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a non-negative integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	products, err := h.scoring.GetSimilarProducts(ctx, services.SimilarProductsQuery{
		ProductID: productID,
		Limit:     limit,
	})
	if err != nil {
		writeScoringError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(products))
	for _, product := range products {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{Items: items})
}

func writeScoringError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrScoringInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("scoring_error", "failed to process product request", http.StatusInternalServerError))
	}
}
