package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/merchlane/ordercore/internal/domain"
	"github.com/merchlane/ordercore/internal/platform/httpx"
	"github.com/merchlane/ordercore/internal/services"
)

// OrderHandlers exposes the order lifecycle endpoints.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}:fulfill", h.fulfillOrder)
}

type createOrderRequest struct {
	UserID           string             `json:"user_id"`
	GuestEmail       string             `json:"guest_email"`
	GuestName        string             `json:"guest_name"`
	Currency         string             `json:"currency"`
	Items            []orderItemRequest `json:"items"`
	Totals           orderTotalsPayload `json:"totals"`
	PaymentReference string             `json:"payment_reference"`
	ShippingAddress  *addressPayload    `json:"shipping_address"`
}

type orderItemRequest struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type cancelOrderRequest struct {
	Reason  string `json:"reason"`
	ActorID string `json:"actor_id"`
}

type fulfillOrderRequest struct {
	ActorID string `json:"actor_id"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	owner, err := buildOrderOwner(req.UserID, req.GuestEmail, req.GuestName)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_input", err.Error(), http.StatusBadRequest))
		return
	}

	items := make([]services.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	cmd := services.CreateOrderCommand{
		Owner:    owner,
		Currency: req.Currency,
		Items:    items,
		Totals: services.OrderTotals{
			Subtotal:   req.Totals.Subtotal,
			Shipping:   req.Totals.Shipping,
			Fees:       req.Totals.Fees,
			GrandTotal: req.Totals.GrandTotal,
		},
		PaymentReference: req.PaymentReference,
	}
	if req.ShippingAddress != nil {
		addr := req.ShippingAddress.toDomain()
		cmd.ShippingAddress = &addr
	}

	outcome, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if outcome.Existing {
		status = http.StatusOK
	}
	writeJSONResponse(w, status, orderResponse{
		Order:    buildOrderPayload(outcome.Order),
		Existing: outcome.Existing,
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()

	statuses := make([]domain.OrderStatus, 0)
	for _, raw := range parseFilterValues(query["status"]) {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
			return
		}
		statuses = append(statuses, status)
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

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		UserID:     strings.TrimSpace(query.Get("user_id")),
		Status:     statuses,
		DateRange:  dateRange,
		Pagination: pager,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxJSONBodySize)
	switch {
	case err == nil:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	case errors.Is(err, errEmptyBody):
		// Cancellation without a reason is allowed.
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Reason:  req.Reason,
		ActorID: req.ActorID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) fulfillOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req fulfillOrderRequest
	if body, err := readLimitedBody(r, maxJSONBodySize); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.MarkFulfilled(ctx, services.FulfillOrderCommand{
		OrderID: orderID,
		ActorID: req.ActorID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Currency    string `json:"currency"`
	GrandTotal  int64  `json:"grand_total"`
	CreatedAt   string `json:"created_at"`
}

type orderResponse struct {
	Order    orderPayload `json:"order"`
	Existing bool         `json:"existing,omitempty"`
}

type orderPayload struct {
	ID                string             `json:"id"`
	OrderNumber       string             `json:"order_number"`
	UserID            string             `json:"user_id,omitempty"`
	GuestEmail        string             `json:"guest_email,omitempty"`
	GuestName         string             `json:"guest_name,omitempty"`
	Status            string             `json:"status"`
	Currency          string             `json:"currency"`
	Items             []orderItemPayload `json:"items"`
	Totals            orderTotalsPayload `json:"totals"`
	PaymentReference  string             `json:"payment_reference"`
	ShippingAddress   *addressPayload    `json:"shipping_address,omitempty"`
	InventoryRestored bool               `json:"inventory_restored,omitempty"`
	CancelReason      *string            `json:"cancel_reason,omitempty"`
	CreatedAt         string             `json:"created_at"`
	UpdatedAt         string             `json:"updated_at,omitempty"`
	ProcessingAt      string             `json:"processing_at,omitempty"`
	ShippedAt         string             `json:"shipped_at,omitempty"`
	FulfilledAt       string             `json:"fulfilled_at,omitempty"`
	CancelledAt       string             `json:"cancelled_at,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	LineTotal int64  `json:"line_total"`
}

type orderTotalsPayload struct {
	Subtotal   int64 `json:"subtotal"`
	Shipping   int64 `json:"shipping"`
	Fees       int64 `json:"fees"`
	GrandTotal int64 `json:"grand_total"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Currency)),
		GrandTotal:  order.Totals.GrandTotal,
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Currency:    strings.ToUpper(strings.TrimSpace(order.Currency)),
		Items:       make([]orderItemPayload, 0, len(order.Items)),
		Totals: orderTotalsPayload{
			Subtotal:   order.Totals.Subtotal,
			Shipping:   order.Totals.Shipping,
			Fees:       order.Totals.Fees,
			GrandTotal: order.Totals.GrandTotal,
		},
		PaymentReference:  order.PaymentReference,
		InventoryRestored: order.InventoryRestored,
		CancelReason:      order.CancelReason,
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
		ProcessingAt:      formatTime(pointerTime(order.ProcessingAt)),
		ShippedAt:         formatTime(pointerTime(order.ShippedAt)),
		FulfilledAt:       formatTime(pointerTime(order.FulfilledAt)),
		CancelledAt:       formatTime(pointerTime(order.CancelledAt)),
	}

	if order.Owner.IsGuest() {
		payload.GuestEmail = order.Owner.GuestEmail()
		payload.GuestName = order.Owner.GuestName()
	} else {
		payload.UserID = order.Owner.UserID()
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal(),
		})
	}

	if order.ShippingAddress != nil {
		addr := buildAddressPayload(*order.ShippingAddress)
		payload.ShippingAddress = &addr
	}

	return payload
}

// buildOrderOwner resolves the exclusive owner variants: a user ID, or a
// guest email plus name, never both.
func buildOrderOwner(userID, guestEmail, guestName string) (domain.OrderOwner, error) {
	userID = strings.TrimSpace(userID)
	guestEmail = strings.TrimSpace(guestEmail)
	guestName = strings.TrimSpace(guestName)

	switch {
	case userID != "" && (guestEmail != "" || guestName != ""):
		return domain.OrderOwner{}, errors.New("provide either user_id or guest contact details, not both")
	case userID != "":
		return domain.AuthenticatedOwner(userID)
	case guestEmail != "" || guestName != "":
		return domain.GuestOwner(guestEmail, guestName)
	default:
		return domain.OrderOwner{}, errors.New("order owner is required")
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_inventory", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, domain.ErrInvalidOwner):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_input", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
