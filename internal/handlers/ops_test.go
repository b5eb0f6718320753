package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/merchlane/ordercore/internal/domain"
	"github.com/merchlane/ordercore/internal/services"
)

type stubUpdateTracker struct {
	status  domain.UpdateStatus
	forceFn func(context.Context) (services.FullUpdateResult, error)
	pending []string
	cleared []string
}

func (s *stubUpdateTracker) Status() domain.UpdateStatus {
	return s.status
}

func (s *stubUpdateTracker) ForceFullUpdate(ctx context.Context) (services.FullUpdateResult, error) {
	if s.forceFn != nil {
		return s.forceFn(ctx)
	}
	return services.FullUpdateResult{}, errors.New("not implemented")
}

func (s *stubUpdateTracker) MarkPending(productIDs ...string) {
	s.pending = append(s.pending, productIDs...)
}

func (s *stubUpdateTracker) ClearPending(productIDs ...string) {
	s.cleared = append(s.cleared, productIDs...)
}

func newOpsTestRouter(deps OpsHandlersDeps) chi.Router {
	router := chi.NewRouter()
	router.Route("/ops", NewOpsHandlers(deps).Routes)
	return router
}

func TestOpsHandlersProcessPendingOrders(t *testing.T) {
	orders := &stubOrderService{
		processFn: func(ctx context.Context) (services.SweepResult, error) {
			return services.SweepResult{Eligible: 5, Transitioned: 4, Failed: 1}, nil
		},
	}
	router := newOpsTestRouter(OpsHandlersDeps{Orders: orders})

	req := httptest.NewRequest(http.MethodPost, "/ops/orders:process-pending", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp sweepResultPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Eligible != 5 || resp.Transitioned != 4 || resp.Failed != 1 {
		t.Fatalf("unexpected sweep result: %#v", resp)
	}
}

func TestOpsHandlersShipProcessingOrdersEmptySweep(t *testing.T) {
	orders := &stubOrderService{
		shipFn: func(ctx context.Context) (services.SweepResult, error) {
			return services.SweepResult{}, nil
		},
	}
	router := newOpsTestRouter(OpsHandlersDeps{Orders: orders})

	req := httptest.NewRequest(http.MethodPost, "/ops/orders:ship-processing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for empty sweep, got %d", rr.Code)
	}

	var resp sweepResultPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Eligible != 0 || resp.Transitioned != 0 {
		t.Fatalf("expected zero counts, got %#v", resp)
	}
}

func TestOpsHandlersRecalculateMetrics(t *testing.T) {
	engagement := &stubEngagementHandlerService{
		recalculateFn: func(ctx context.Context) (services.RecalculateResult, error) {
			return services.RecalculateResult{Products: 12, Updated: 11, Failed: 1}, nil
		},
	}
	router := newOpsTestRouter(OpsHandlersDeps{Engagement: engagement})

	req := httptest.NewRequest(http.MethodPost, "/ops/metrics:recalculate", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp recalculateResultPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Products != 12 || resp.Updated != 11 || resp.Failed != 1 {
		t.Fatalf("unexpected result: %#v", resp)
	}
}

func TestOpsHandlersUpdateScores(t *testing.T) {
	scoring := &stubScoringHandlerService{
		updateAllFn: func(ctx context.Context) (services.ScoreUpdateResult, error) {
			return services.ScoreUpdateResult{Products: 30, Updated: 30}, nil
		},
	}
	router := newOpsTestRouter(OpsHandlersDeps{Scoring: scoring})

	req := httptest.NewRequest(http.MethodPost, "/ops/scores:update", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp scoreUpdateResultPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Products != 30 || resp.Updated != 30 {
		t.Fatalf("unexpected result: %#v", resp)
	}
}

func TestOpsHandlersRefreshScoresSubset(t *testing.T) {
	var captured []string
	scoring := &stubScoringHandlerService{
		triggerFn: func(ctx context.Context, productIDs []string) (services.ScoreUpdateResult, error) {
			captured = productIDs
			return services.ScoreUpdateResult{Products: 2, Updated: 1, UnknownIDs: []string{"prod_missing"}}, nil
		},
	}
	router := newOpsTestRouter(OpsHandlersDeps{Scoring: scoring})

	body := `{"product_ids": ["prod_001", "prod_missing"]}`
	req := httptest.NewRequest(http.MethodPost, "/ops/scores:refresh", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured) != 2 || captured[0] != "prod_001" {
		t.Fatalf("unexpected product ids: %#v", captured)
	}

	var resp scoreUpdateResultPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.UnknownIDs) != 1 || resp.UnknownIDs[0] != "prod_missing" {
		t.Fatalf("expected unknown ids surfaced, got %#v", resp.UnknownIDs)
	}
}

func TestOpsHandlersRefreshScoresEmptyIDs(t *testing.T) {
	scoring := &stubScoringHandlerService{
		triggerFn: func(ctx context.Context, productIDs []string) (services.ScoreUpdateResult, error) {
			return services.ScoreUpdateResult{}, fmt.Errorf("%w: at least one product id is required", services.ErrScoringInvalidInput)
		},
	}
	router := newOpsTestRouter(OpsHandlersDeps{Scoring: scoring})

	req := httptest.NewRequest(http.MethodPost, "/ops/scores:refresh", strings.NewReader(`{"product_ids": []}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOpsHandlersForceFullUpdate(t *testing.T) {
	started := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	finished := started.Add(42 * time.Second)

	updates := &stubUpdateTracker{
		forceFn: func(ctx context.Context) (services.FullUpdateResult, error) {
			return services.FullUpdateResult{
				Recalculate: services.RecalculateResult{Products: 10, Updated: 10},
				Scores:      services.ScoreUpdateResult{Products: 10, Updated: 9, Failed: 1},
				StartedAt:   started,
				FinishedAt:  finished,
			}, nil
		},
	}
	router := newOpsTestRouter(OpsHandlersDeps{Updates: updates})

	req := httptest.NewRequest(http.MethodPost, "/ops/update:force", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp fullUpdateResultPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Recalculate.Products != 10 || resp.Scores.Failed != 1 {
		t.Fatalf("unexpected result: %#v", resp)
	}
	if resp.StartedAt == "" || resp.FinishedAt == "" {
		t.Fatalf("expected timestamps, got %#v", resp)
	}
}

func TestOpsHandlersForceFullUpdateConflict(t *testing.T) {
	updates := &stubUpdateTracker{
		forceFn: func(ctx context.Context) (services.FullUpdateResult, error) {
			return services.FullUpdateResult{}, services.ErrUpdateAlreadyInProgress
		},
	}
	router := newOpsTestRouter(OpsHandlersDeps{Updates: updates})

	req := httptest.NewRequest(http.MethodPost, "/ops/update:force", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "update_in_progress" {
		t.Fatalf("expected update_in_progress error, got %v", body["error"])
	}
}

func TestOpsHandlersUpdateStatus(t *testing.T) {
	last := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	since := 30 * time.Minute

	updates := &stubUpdateTracker{
		status: domain.UpdateStatus{
			LastFullUpdateAt:    &last,
			TimeSinceLastUpdate: &since,
			InProgress:          true,
			PendingCount:        7,
		},
	}
	router := newOpsTestRouter(OpsHandlersDeps{Updates: updates})

	req := httptest.NewRequest(http.MethodGet, "/ops/update:status", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp updateStatusPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.InProgress || resp.PendingCount != 7 {
		t.Fatalf("unexpected status payload: %#v", resp)
	}
	if resp.LastFullUpdateAt == nil || *resp.LastFullUpdateAt != "2024-03-15T09:00:00Z" {
		t.Fatalf("unexpected last update timestamp: %#v", resp.LastFullUpdateAt)
	}
	if resp.SecondsSinceLastUpdate == nil || *resp.SecondsSinceLastUpdate != 1800 {
		t.Fatalf("unexpected seconds since last update: %#v", resp.SecondsSinceLastUpdate)
	}
}

func TestOpsHandlersUpdateStatusBeforeFirstRun(t *testing.T) {
	router := newOpsTestRouter(OpsHandlersDeps{Updates: &stubUpdateTracker{}})

	req := httptest.NewRequest(http.MethodGet, "/ops/update:status", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp updateStatusPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.LastFullUpdateAt != nil || resp.SecondsSinceLastUpdate != nil {
		t.Fatalf("expected empty status before first run, got %#v", resp)
	}
}

func TestOpsHandlersMissingDependency(t *testing.T) {
	router := newOpsTestRouter(OpsHandlersDeps{})

	req := httptest.NewRequest(http.MethodPost, "/ops/orders:process-pending", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
