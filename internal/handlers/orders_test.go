package handlers

import (
	"bytes"
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

type stubOrderService struct {
	createFn    func(context.Context, services.CreateOrderCommand) (services.OrderCreateOutcome, error)
	getFn       func(context.Context, string) (services.Order, error)
	listFn      func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	cancelFn    func(context.Context, services.CancelOrderCommand) (services.Order, error)
	fulfillFn   func(context.Context, services.FulfillOrderCommand) (services.Order, error)
	lifecycleFn func(context.Context, string) error
	processFn   func(context.Context) (services.SweepResult, error)
	shipFn      func(context.Context) (services.SweepResult, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.OrderCreateOutcome, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.OrderCreateOutcome{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) MarkFulfilled(ctx context.Context, cmd services.FulfillOrderCommand) (services.Order, error) {
	if s.fulfillFn != nil {
		return s.fulfillFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ProcessOrderLifecycle(ctx context.Context, orderID string) error {
	if s.lifecycleFn != nil {
		return s.lifecycleFn(ctx, orderID)
	}
	return nil
}

func (s *stubOrderService) ProcessPendingOrders(ctx context.Context) (services.SweepResult, error) {
	if s.processFn != nil {
		return s.processFn(ctx)
	}
	return services.SweepResult{}, nil
}

func (s *stubOrderService) ShipProcessingOrders(ctx context.Context) (services.SweepResult, error) {
	if s.shipFn != nil {
		return s.shipFn(ctx)
	}
	return services.SweepResult{}, nil
}

func newOrderTestRouter(service services.OrderService) chi.Router {
	router := chi.NewRouter()
	router.Route("/orders", NewOrderHandlers(service).Routes)
	return router
}

func sampleOrder(t *testing.T, now time.Time) services.Order {
	t.Helper()
	owner, err := domain.AuthenticatedOwner("user_001")
	if err != nil {
		t.Fatalf("build owner: %v", err)
	}
	return services.Order{
		ID:          "ord_123",
		OrderNumber: "ORD-2024-000123",
		Owner:       owner,
		Status:      domain.OrderStatusPending,
		Currency:    "usd",
		Items: []services.OrderItem{
			{ProductID: "prod_001", Name: "Desk Lamp", Quantity: 2, UnitPrice: 1500},
		},
		Totals:           services.OrderTotals{Subtotal: 3000, Shipping: 400, Fees: 100, GrandTotal: 3500},
		PaymentReference: "pay_abc",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestOrderHandlersCreateOrderSuccess(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

	var captured services.CreateOrderCommand
	service := &stubOrderService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.OrderCreateOutcome, error) {
			captured = cmd
			return services.OrderCreateOutcome{Order: sampleOrder(t, now)}, nil
		},
	}
	router := newOrderTestRouter(service)

	body := `{
		"user_id": "user_001",
		"currency": "usd",
		"items": [{"product_id": "prod_001", "name": "Desk Lamp", "quantity": 2, "unit_price": 1500}],
		"totals": {"subtotal": 3000, "shipping": 400, "fees": 100, "grand_total": 3500},
		"payment_reference": "pay_abc",
		"shipping_address": {"recipient": "Pat Doe", "line1": "1 Main St", "city": "Springfield", "postal_code": "12345", "country": "US"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	if captured.Owner.UserID() != "user_001" {
		t.Fatalf("expected authenticated owner user_001, got %#v", captured.Owner)
	}
	if captured.PaymentReference != "pay_abc" {
		t.Fatalf("expected payment reference pay_abc, got %s", captured.PaymentReference)
	}
	if len(captured.Items) != 1 || captured.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items: %#v", captured.Items)
	}
	if captured.ShippingAddress == nil || captured.ShippingAddress.City != "Springfield" {
		t.Fatalf("unexpected shipping address: %#v", captured.ShippingAddress)
	}
	if captured.Totals.GrandTotal != 3500 {
		t.Fatalf("expected grand total 3500, got %d", captured.Totals.GrandTotal)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Existing {
		t.Fatalf("expected existing false on fresh create")
	}
	if resp.Order.ID != "ord_123" {
		t.Fatalf("expected order ord_123, got %s", resp.Order.ID)
	}
	if resp.Order.Currency != "USD" {
		t.Fatalf("expected currency USD, got %s", resp.Order.Currency)
	}
	if resp.Order.UserID != "user_001" || resp.Order.GuestEmail != "" {
		t.Fatalf("expected authenticated owner in payload, got %#v", resp.Order)
	}
	if len(resp.Order.Items) != 1 || resp.Order.Items[0].LineTotal != 3000 {
		t.Fatalf("unexpected items payload: %#v", resp.Order.Items)
	}
}

func TestOrderHandlersCreateOrderExistingReturns200(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	service := &stubOrderService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.OrderCreateOutcome, error) {
			return services.OrderCreateOutcome{Order: sampleOrder(t, now), Existing: true}, nil
		},
	}
	router := newOrderTestRouter(service)

	body := `{"user_id": "user_001", "currency": "usd", "items": [{"product_id": "prod_001", "quantity": 1, "unit_price": 100}], "totals": {"subtotal": 100, "grand_total": 100}, "payment_reference": "pay_abc"}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for existing order, got %d", rr.Code)
	}
	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Existing {
		t.Fatalf("expected existing marker set")
	}
}

func TestOrderHandlersCreateOrderInsufficientStock(t *testing.T) {
	service := &stubOrderService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.OrderCreateOutcome, error) {
			return services.OrderCreateOutcome{}, fmt.Errorf("%w: prod_001", services.ErrInsufficientStock)
		},
	}
	router := newOrderTestRouter(service)

	body := `{"user_id": "user_001", "currency": "usd", "items": [{"product_id": "prod_001", "quantity": 5, "unit_price": 100}], "totals": {"subtotal": 500, "grand_total": 500}, "payment_reference": "pay_abc"}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	var body2 map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body2); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body2["error"] != "insufficient_inventory" {
		t.Fatalf("expected insufficient_inventory error, got %v", body2["error"])
	}
}

func TestOrderHandlersCreateOrderOwnerValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{
			name: "both owner variants",
			body: `{"user_id": "user_001", "guest_email": "pat@example.com", "guest_name": "Pat", "currency": "usd", "items": [], "totals": {}, "payment_reference": "pay_abc"}`,
		},
		{
			name: "no owner",
			body: `{"currency": "usd", "items": [], "totals": {}, "payment_reference": "pay_abc"}`,
		},
		{
			name: "guest without name",
			body: `{"guest_email": "pat@example.com", "currency": "usd", "items": [], "totals": {}, "payment_reference": "pay_abc"}`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			service := &stubOrderService{
				createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.OrderCreateOutcome, error) {
					called = true
					return services.OrderCreateOutcome{}, nil
				},
			}
			router := newOrderTestRouter(service)

			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
			if called {
				t.Fatalf("expected service to be skipped on owner validation failure")
			}
		})
	}
}

func TestOrderHandlersCreateOrderGuestOwner(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	var captured services.CreateOrderCommand
	service := &stubOrderService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (services.OrderCreateOutcome, error) {
			captured = cmd
			order := sampleOrder(t, now)
			order.Owner = cmd.Owner
			return services.OrderCreateOutcome{Order: order}, nil
		},
	}
	router := newOrderTestRouter(service)

	body := `{"guest_email": "pat@example.com", "guest_name": "Pat Doe", "currency": "usd", "items": [{"product_id": "prod_001", "quantity": 1, "unit_price": 100}], "totals": {"subtotal": 100, "grand_total": 100}, "payment_reference": "pay_guest"}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if !captured.Owner.IsGuest() || captured.Owner.GuestEmail() != "pat@example.com" {
		t.Fatalf("expected guest owner, got %#v", captured.Owner)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.GuestEmail != "pat@example.com" || resp.Order.GuestName != "Pat Doe" {
		t.Fatalf("expected guest contact in payload, got %#v", resp.Order)
	}
	if resp.Order.UserID != "" {
		t.Fatalf("expected no user id on guest order")
	}
}

func TestOrderHandlersListOrdersFilters(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	fromExpected := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	var captured services.OrderListFilter
	service := &stubOrderService{
		listFn: func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
			captured = filter
			return domain.CursorPage[services.Order]{
				Items:         []services.Order{sampleOrder(t, now)},
				NextPageToken: "tok-next",
			}, nil
		},
	}
	router := newOrderTestRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/orders?status=pending,processing&user_id=user_001&page_size=10&page_token=tok123&created_after=2024-03-01T00:00:00Z", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.UserID != "user_001" {
		t.Fatalf("expected user filter user_001, got %s", captured.UserID)
	}
	if len(captured.Status) != 2 || captured.Status[0] != domain.OrderStatusPending || captured.Status[1] != domain.OrderStatusProcessing {
		t.Fatalf("unexpected status filters: %#v", captured.Status)
	}
	if captured.Pagination.PageSize != 10 || captured.Pagination.PageToken != "tok123" {
		t.Fatalf("unexpected pagination: %#v", captured.Pagination)
	}
	if captured.DateRange.From == nil || !captured.DateRange.From.Equal(fromExpected) {
		t.Fatalf("unexpected date range: %#v", captured.DateRange)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].OrderNumber != "ORD-2024-000123" {
		t.Fatalf("unexpected items: %#v", resp.Items)
	}
	if resp.NextPageToken != "tok-next" {
		t.Fatalf("expected next page token tok-next, got %s", resp.NextPageToken)
	}
}

func TestOrderHandlersListOrdersRejectsUnknownStatus(t *testing.T) {
	router := newOrderTestRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/orders?status=refunded", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	service := &stubOrderService{
		getFn: func(ctx context.Context, orderID string) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: %s", services.ErrOrderNotFound, orderID)
		},
	}
	router := newOrderTestRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/orders/ord_missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "order_not_found" {
		t.Fatalf("expected order_not_found error, got %v", body["error"])
	}
}

func TestOrderHandlersCancelOrderWithoutBody(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	var captured services.CancelOrderCommand
	service := &stubOrderService{
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder(t, now)
			order.Status = domain.OrderStatusCancelled
			order.InventoryRestored = true
			return order, nil
		},
	}
	router := newOrderTestRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123:cancel", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_123" || captured.Reason != "" {
		t.Fatalf("unexpected cancel command: %#v", captured)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.Status != string(domain.OrderStatusCancelled) {
		t.Fatalf("expected cancelled status, got %s", resp.Order.Status)
	}
	if !resp.Order.InventoryRestored {
		t.Fatalf("expected inventory restored marker")
	}
}

func TestOrderHandlersCancelOrderWithReason(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	var captured services.CancelOrderCommand
	service := &stubOrderService{
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder(t, now)
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
	}
	router := newOrderTestRouter(service)

	payload, _ := json.Marshal(cancelOrderRequest{Reason: "changed my mind", ActorID: "user_001"})
	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123:cancel", bytes.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Reason != "changed my mind" || captured.ActorID != "user_001" {
		t.Fatalf("unexpected cancel command: %#v", captured)
	}
}

func TestOrderHandlersCancelOrderInvalidState(t *testing.T) {
	service := &stubOrderService{
		cancelFn: func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: cannot cancel shipped order", services.ErrOrderInvalidTransition)
		},
	}
	router := newOrderTestRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123:cancel", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body["error"] != "order_invalid_state" {
		t.Fatalf("expected order_invalid_state error, got %v", body["error"])
	}
}

func TestOrderHandlersFulfillOrder(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	var captured services.FulfillOrderCommand
	service := &stubOrderService{
		fulfillFn: func(ctx context.Context, cmd services.FulfillOrderCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder(t, now)
			order.Status = domain.OrderStatusFulfilled
			fulfilledAt := now
			order.FulfilledAt = &fulfilledAt
			return order, nil
		},
	}
	router := newOrderTestRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_123:fulfill", strings.NewReader(`{"actor_id": "ops_1"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.OrderID != "ord_123" || captured.ActorID != "ops_1" {
		t.Fatalf("unexpected fulfill command: %#v", captured)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.Status != string(domain.OrderStatusFulfilled) {
		t.Fatalf("expected fulfilled status, got %s", resp.Order.Status)
	}
	if resp.Order.FulfilledAt == "" {
		t.Fatalf("expected fulfilled_at timestamp")
	}
}
