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

type stubEngagementHandlerService struct {
	recordFn      func(context.Context, services.RecordActivityCommand) (services.ActivityEvent, error)
	listFn        func(context.Context, string, services.Pagination) (domain.CursorPage[services.ActivityEvent], error)
	recalculateFn func(context.Context) (services.RecalculateResult, error)
}

func (s *stubEngagementHandlerService) RecordActivity(ctx context.Context, cmd services.RecordActivityCommand) (services.ActivityEvent, error) {
	if s.recordFn != nil {
		return s.recordFn(ctx, cmd)
	}
	return services.ActivityEvent{}, errors.New("not implemented")
}

func (s *stubEngagementHandlerService) ListProductActivity(ctx context.Context, productID string, pager services.Pagination) (domain.CursorPage[services.ActivityEvent], error) {
	if s.listFn != nil {
		return s.listFn(ctx, productID, pager)
	}
	return domain.CursorPage[services.ActivityEvent]{}, nil
}

func (s *stubEngagementHandlerService) RecalculateAllProductMetrics(ctx context.Context) (services.RecalculateResult, error) {
	if s.recalculateFn != nil {
		return s.recalculateFn(ctx)
	}
	return services.RecalculateResult{}, nil
}

func newActivityTestRouter(service services.EngagementService, opts ...ActivityOption) chi.Router {
	router := chi.NewRouter()
	router.Route("/activity", NewActivityHandlers(service, opts...).Routes)
	return router
}

func TestActivityHandlersRecordActivity(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	userID := "user_001"

	var captured services.RecordActivityCommand
	service := &stubEngagementHandlerService{
		recordFn: func(ctx context.Context, cmd services.RecordActivityCommand) (services.ActivityEvent, error) {
			captured = cmd
			return services.ActivityEvent{
				ID:         "act_001",
				ProductID:  cmd.ProductID,
				Type:       domain.ActivityTypeView,
				UserID:     &userID,
				OccurredAt: now,
			}, nil
		},
	}
	router := newActivityTestRouter(service)

	body := `{"product_id": "prod_001", "type": "view", "user_id": "user_001"}`
	req := httptest.NewRequest(http.MethodPost, "/activity", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductID != "prod_001" || captured.Type != "view" {
		t.Fatalf("unexpected command: %#v", captured)
	}
	if captured.UserID == nil || *captured.UserID != "user_001" || captured.SessionID != nil {
		t.Fatalf("unexpected actor fields: %#v", captured)
	}

	var resp activityPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.ID != "act_001" || resp.Type != "view" {
		t.Fatalf("unexpected payload: %#v", resp)
	}
	if resp.OccurredAt == "" {
		t.Fatalf("expected occurred_at timestamp")
	}
}

func TestActivityHandlersRecordActivityInvalidInput(t *testing.T) {
	service := &stubEngagementHandlerService{
		recordFn: func(ctx context.Context, cmd services.RecordActivityCommand) (services.ActivityEvent, error) {
			return services.ActivityEvent{}, fmt.Errorf("%w: unknown activity type", services.ErrActivityInvalidInput)
		},
	}
	router := newActivityTestRouter(service)

	body := `{"product_id": "prod_001", "type": "wishlist", "user_id": "user_001"}`
	req := httptest.NewRequest(http.MethodPost, "/activity", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var respBody map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &respBody); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if respBody["error"] != "invalid_request" {
		t.Fatalf("expected invalid_request error, got %v", respBody["error"])
	}
}

func TestActivityHandlersRateLimitPerActor(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	calls := 0
	service := &stubEngagementHandlerService{
		recordFn: func(ctx context.Context, cmd services.RecordActivityCommand) (services.ActivityEvent, error) {
			calls++
			return services.ActivityEvent{ID: "act_001", ProductID: cmd.ProductID, Type: domain.ActivityTypeView, OccurredAt: now}, nil
		},
	}
	limiter := newSimpleRateLimiter(2, time.Minute, func() time.Time { return now })
	router := newActivityTestRouter(service, WithActivityRateLimiter(limiter))

	post := func(userID string) int {
		body := fmt.Sprintf(`{"product_id": "prod_001", "type": "view", "user_id": %q}`, userID)
		req := httptest.NewRequest(http.MethodPost, "/activity", strings.NewReader(body))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := post("user_001"); code != http.StatusCreated {
		t.Fatalf("expected first event accepted, got %d", code)
	}
	if code := post("user_001"); code != http.StatusCreated {
		t.Fatalf("expected second event accepted, got %d", code)
	}
	if code := post("user_001"); code != http.StatusTooManyRequests {
		t.Fatalf("expected third event rejected, got %d", code)
	}
	if code := post("user_002"); code != http.StatusCreated {
		t.Fatalf("expected other actor unaffected, got %d", code)
	}
	if calls != 3 {
		t.Fatalf("expected 3 recorded events, got %d", calls)
	}
}

func TestActivityHandlersListProductActivity(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	sessionID := "sess_abc"

	var capturedProduct string
	service := &stubEngagementHandlerService{
		listFn: func(ctx context.Context, productID string, pager services.Pagination) (domain.CursorPage[services.ActivityEvent], error) {
			capturedProduct = productID
			return domain.CursorPage[services.ActivityEvent]{
				Items: []services.ActivityEvent{
					{ID: "act_002", ProductID: productID, Type: domain.ActivityTypeCartAdd, SessionID: &sessionID, OccurredAt: now},
				},
				NextPageToken: "tok-next",
			}, nil
		},
	}
	router := newActivityTestRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/activity/products/prod_001", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if capturedProduct != "prod_001" {
		t.Fatalf("expected product prod_001, got %s", capturedProduct)
	}

	var resp activityListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Type != "cart_add" {
		t.Fatalf("unexpected items: %#v", resp.Items)
	}
	if resp.Items[0].SessionID == nil || *resp.Items[0].SessionID != "sess_abc" {
		t.Fatalf("expected session id in payload, got %#v", resp.Items[0])
	}
}

func TestActivityRateKeyBuckets(t *testing.T) {
	userID := "user_001"
	sessionID := "sess_abc"
	blank := "   "

	cases := []struct {
		name string
		req  recordActivityRequest
		want string
	}{
		{name: "user wins", req: recordActivityRequest{UserID: &userID, SessionID: &sessionID}, want: "user:user_001"},
		{name: "session fallback", req: recordActivityRequest{SessionID: &sessionID}, want: "session:sess_abc"},
		{name: "blank user falls through", req: recordActivityRequest{UserID: &blank, SessionID: &sessionID}, want: "session:sess_abc"},
		{name: "anonymous", req: recordActivityRequest{}, want: "anonymous"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := activityRateKey(tc.req); got != tc.want {
				t.Fatalf("expected key %s, got %s", tc.want, got)
			}
		})
	}
}
