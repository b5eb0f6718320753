package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/merchlane/ordercore/internal/services"
)

type stubScoringHandlerService struct {
	updateAllFn func(context.Context) (services.ScoreUpdateResult, error)
	triggerFn   func(context.Context, []string) (services.ScoreUpdateResult, error)
	similarFn   func(context.Context, services.SimilarProductsQuery) ([]services.Product, error)
}

func (s *stubScoringHandlerService) UpdateAllProductScores(ctx context.Context) (services.ScoreUpdateResult, error) {
	if s.updateAllFn != nil {
		return s.updateAllFn(ctx)
	}
	return services.ScoreUpdateResult{}, nil
}

func (s *stubScoringHandlerService) TriggerManualUpdate(ctx context.Context, productIDs []string) (services.ScoreUpdateResult, error) {
	if s.triggerFn != nil {
		return s.triggerFn(ctx, productIDs)
	}
	return services.ScoreUpdateResult{}, nil
}

func (s *stubScoringHandlerService) GetSimilarProducts(ctx context.Context, query services.SimilarProductsQuery) ([]services.Product, error) {
	if s.similarFn != nil {
		return s.similarFn(ctx, query)
	}
	return nil, errors.New("not implemented")
}

func newProductTestRouter(inventory services.InventoryService, scoring services.ScoringService) chi.Router {
	router := chi.NewRouter()
	router.Route("/products", NewProductHandlers(inventory, scoring).Routes)
	return router
}

func TestProductHandlersGetProduct(t *testing.T) {
	inventory := &stubInventoryService{
		getFn: func(ctx context.Context, productID string) (services.Product, error) {
			return services.Product{
				ID:              productID,
				Name:            "Desk Lamp",
				Price:           1500,
				Currency:        "usd",
				Inventory:       4,
				PopularityScore: 62.5,
				Published:       true,
			}, nil
		},
	}
	router := newProductTestRouter(inventory, &stubScoringHandlerService{})

	req := httptest.NewRequest(http.MethodGet, "/products/prod_001", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp productPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.ID != "prod_001" || resp.Currency != "USD" {
		t.Fatalf("unexpected payload: %#v", resp)
	}
	if resp.PopularityScore != 62.5 {
		t.Fatalf("expected popularity score 62.5, got %v", resp.PopularityScore)
	}
}

func TestProductHandlersGetProductNotFound(t *testing.T) {
	inventory := &stubInventoryService{
		getFn: func(ctx context.Context, productID string) (services.Product, error) {
			return services.Product{}, fmt.Errorf("%w: %s", services.ErrProductNotFound, productID)
		},
	}
	router := newProductTestRouter(inventory, &stubScoringHandlerService{})

	req := httptest.NewRequest(http.MethodGet, "/products/prod_missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestProductHandlersListSimilar(t *testing.T) {
	var captured services.SimilarProductsQuery
	scoring := &stubScoringHandlerService{
		similarFn: func(ctx context.Context, query services.SimilarProductsQuery) ([]services.Product, error) {
			captured = query
			return []services.Product{
				{ID: "prod_002", PopularityScore: 58},
				{ID: "prod_003", PopularityScore: 44},
			}, nil
		},
	}
	router := newProductTestRouter(&stubInventoryService{}, scoring)

	req := httptest.NewRequest(http.MethodGet, "/products/prod_001/similar?limit=5", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.ProductID != "prod_001" || captured.Limit != 5 {
		t.Fatalf("unexpected query: %#v", captured)
	}

	var resp productListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 2 || resp.Items[0].ID != "prod_002" {
		t.Fatalf("unexpected items: %#v", resp.Items)
	}
}

func TestProductHandlersListSimilarRejectsBadLimit(t *testing.T) {
	router := newProductTestRouter(&stubInventoryService{}, &stubScoringHandlerService{})

	req := httptest.NewRequest(http.MethodGet, "/products/prod_001/similar?limit=abc", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestProductHandlersListSimilarSourceMissing(t *testing.T) {
	scoring := &stubScoringHandlerService{
		similarFn: func(ctx context.Context, query services.SimilarProductsQuery) ([]services.Product, error) {
			return nil, fmt.Errorf("%w: %s", services.ErrProductNotFound, query.ProductID)
		},
	}
	router := newProductTestRouter(&stubInventoryService{}, scoring)

	req := httptest.NewRequest(http.MethodGet, "/products/prod_missing/similar", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "product_not_found" {
		t.Fatalf("expected product_not_found error, got %v", body["error"])
	}
}
