package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/merchlane/ordercore/internal/domain"
	"github.com/merchlane/ordercore/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix = "ord_"

	// GrandTotal may disagree with the recomputed line sum by one minor
	// unit to absorb upstream rounding.
	grandTotalTolerance = 1
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates the order's current status forbids the requested transition.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrInsufficientStock indicates an order line requested more units than are available.
	ErrInsufficientStock = errors.New("order: insufficient stock")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusFulfilled},
}

func transitionAllowed(from, to domain.OrderStatus) bool {
	for _, next := range orderStateTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// LifecycleDispatcher hands an order ID to an asynchronous worker for its
// first status transition. Failures are best-effort; the sweep is authoritative.
type LifecycleDispatcher interface {
	DispatchLifecycle(ctx context.Context, orderID string)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders          repositories.OrderRepository
	Counters        CounterService
	Events          OrderEventPublisher
	InventoryEvents InventoryEventPublisher
	Lifecycle       LifecycleDispatcher
	PendingDwell    time.Duration
	SweepBatchSize  int
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders          repositories.OrderRepository
	counters        CounterService
	events          OrderEventPublisher
	inventoryEvents InventoryEventPublisher
	lifecycle       LifecycleDispatcher
	pendingDwell    time.Duration
	sweepBatchSize  int
	clock           func() time.Time
	newID           func() string
	logger          func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
	}

	dwell := deps.PendingDwell
	if dwell <= 0 {
		dwell = 5 * time.Minute
	}

	batch := deps.SweepBatchSize
	if batch <= 0 {
		batch = 200
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:          deps.Orders,
		counters:        deps.Counters,
		events:          deps.Events,
		inventoryEvents: deps.InventoryEvents,
		lifecycle:       deps.Lifecycle,
		pendingDwell:    dwell,
		sweepBatchSize:  batch,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (OrderCreateOutcome, error) {
	if err := validateCreateOrderInput(cmd); err != nil {
		return OrderCreateOutcome{}, err
	}

	paymentReference := strings.TrimSpace(cmd.PaymentReference)

	existing, err := s.orders.FindByPaymentReference(ctx, paymentReference)
	if err == nil {
		return OrderCreateOutcome{Order: existing, Existing: true}, nil
	}
	if !isOrderNotFound(err) {
		return OrderCreateOutcome{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	orderNumber, err := s.nextOrderNumber(ctx)
	if err != nil {
		return OrderCreateOutcome{}, err
	}

	order := domain.Order{
		ID:               orderIDPrefix + s.newID(),
		OrderNumber:      orderNumber,
		Owner:            cmd.Owner,
		Currency:         strings.ToUpper(strings.TrimSpace(cmd.Currency)),
		Items:            normaliseOrderItems(cmd.Items),
		Totals:           cmd.Totals,
		PaymentReference: paymentReference,
		ShippingAddress:  cmd.ShippingAddress,
	}

	adjustmentIDs := make([]string, len(order.Items))
	for i := range adjustmentIDs {
		adjustmentIDs[i] = s.newID()
	}

	result, err := s.orders.Create(ctx, repositories.OrderCreateRequest{
		Order:         order,
		AdjustmentIDs: adjustmentIDs,
		Now:           now,
	})
	if err != nil {
		var orderErr *repositories.OrderError
		if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorDuplicatePaymentRef {
			// Lost a race with a concurrent create for the same reference.
			if prior, findErr := s.orders.FindByPaymentReference(ctx, paymentReference); findErr == nil {
				return OrderCreateOutcome{Order: prior, Existing: true}, nil
			}
		}
		return OrderCreateOutcome{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId":     result.Order.ID,
		"orderNumber": result.Order.OrderNumber,
		"items":       len(result.Order.Items),
		"grandTotal":  result.Order.Totals.GrandTotal,
	})

	emitThresholdEvents(ctx, s.inventoryEvents, s.logger, snapshotList(result.Stocks), result.Order.ID, string(domain.AdjustmentReasonOrderReserve), now)

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       result.Order.ID,
		OrderNumber:   result.Order.OrderNumber,
		CurrentStatus: result.Order.Status,
		OccurredAt:    now,
	})

	if s.lifecycle != nil {
		s.lifecycle.DispatchLifecycle(ctx, result.Order.ID)
	}

	return OrderCreateOutcome{Order: result.Order}, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !transitionAllowed(current.Status, domain.OrderStatusCancelled) {
		return Order{}, fmt.Errorf("%w: order %s cannot be cancelled from %s", ErrOrderInvalidTransition, orderID, current.Status)
	}

	adjustmentIDs := make([]string, len(current.Items))
	for i := range adjustmentIDs {
		adjustmentIDs[i] = s.newID()
	}

	now := s.clock()
	result, err := s.orders.Cancel(ctx, repositories.OrderCancelRequest{
		OrderID:       orderID,
		Reason:        strings.TrimSpace(cmd.Reason),
		ActorID:       strings.TrimSpace(cmd.ActorID),
		AdjustmentIDs: adjustmentIDs,
		Now:           now,
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "order.cancelled", map[string]any{
		"orderId":  orderID,
		"restored": result.Restored,
		"reason":   strings.TrimSpace(cmd.Reason),
	})

	if result.Restored {
		emitThresholdEvents(ctx, s.inventoryEvents, s.logger, snapshotList(result.Stocks), orderID, string(domain.AdjustmentReasonOrderCancelRestore), now)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        orderID,
		OrderNumber:    result.Order.OrderNumber,
		PreviousStatus: current.Status,
		CurrentStatus:  domain.OrderStatusCancelled,
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     now,
	})

	return result.Order, nil
}

func (s *orderService) MarkFulfilled(ctx context.Context, cmd FulfillOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	order, err := s.orders.Transition(ctx, repositories.OrderTransitionRequest{
		OrderID: orderID,
		From:    domain.OrderStatusShipped,
		To:      domain.OrderStatusFulfilled,
		Now:     now,
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        orderID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: domain.OrderStatusShipped,
		CurrentStatus:  domain.OrderStatusFulfilled,
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     now,
	})

	return order, nil
}

// ProcessOrderLifecycle advances one pending order to processing. Called by
// the post-create dispatcher; stale-state failures are swallowed because the
// sweep owns the transition.
func (s *orderService) ProcessOrderLifecycle(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	order, err := s.orders.Transition(ctx, repositories.OrderTransitionRequest{
		OrderID: orderID,
		From:    domain.OrderStatusPending,
		To:      domain.OrderStatusProcessing,
		Now:     now,
	})
	if err != nil {
		var orderErr *repositories.OrderError
		if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorInvalidState {
			return nil
		}
		return s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        orderID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: domain.OrderStatusPending,
		CurrentStatus:  domain.OrderStatusProcessing,
		OccurredAt:     now,
	})

	return nil
}

func (s *orderService) ProcessPendingOrders(ctx context.Context) (SweepResult, error) {
	now := s.clock()
	return s.sweep(ctx, domain.OrderStatusPending, domain.OrderStatusProcessing, now.Add(-s.pendingDwell))
}

func (s *orderService) ShipProcessingOrders(ctx context.Context) (SweepResult, error) {
	return s.sweep(ctx, domain.OrderStatusProcessing, domain.OrderStatusShipped, s.clock())
}

// sweep transitions each eligible order independently. The repository
// re-checks the source status inside its transaction, so an order that moved
// or was cancelled between the listing and the write counts as neither
// transitioned nor failed.
func (s *orderService) sweep(ctx context.Context, from, to domain.OrderStatus, before time.Time) (SweepResult, error) {
	eligible, err := s.orders.ListByStatusBefore(ctx, repositories.OrderSweepFilter{
		Status: from,
		Before: before,
		Limit:  s.sweepBatchSize,
	})
	if err != nil {
		return SweepResult{}, s.mapRepositoryError(err)
	}

	result := SweepResult{Eligible: len(eligible)}
	for _, order := range eligible {
		now := s.clock()
		updated, err := s.orders.Transition(ctx, repositories.OrderTransitionRequest{
			OrderID: order.ID,
			From:    from,
			To:      to,
			Now:     now,
		})
		if err != nil {
			var orderErr *repositories.OrderError
			if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorInvalidState {
				continue
			}
			result.Failed++
			s.logger(ctx, "order.sweep.transition.failed", map[string]any{
				"orderId": order.ID,
				"from":    string(from),
				"to":      string(to),
				"error":   err.Error(),
			})
			continue
		}

		result.Transitioned++
		s.publishEvent(ctx, OrderEvent{
			Type:           orderEventStatusChanged,
			OrderID:        updated.ID,
			OrderNumber:    updated.OrderNumber,
			PreviousStatus: from,
			CurrentStatus:  to,
			OccurredAt:     now,
		})
	}

	s.logger(ctx, "order.sweep.completed", map[string]any{
		"from":         string(from),
		"to":           string(to),
		"eligible":     result.Eligible,
		"transitioned": result.Transitioned,
		"failed":       result.Failed,
	})

	return result, nil
}

func (s *orderService) nextOrderNumber(ctx context.Context) (string, error) {
	number, err := s.counters.NextOrderNumber(ctx)
	if err != nil {
		return "", fmt.Errorf("order service: next order number: %w", err)
	}
	return number, nil
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.CurrentStatus),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorNotFound:
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderErr.Message)
		case repositories.OrderErrorInvalidState:
			return fmt.Errorf("%w: %s", ErrOrderInvalidTransition, orderErr.Message)
		}
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrInsufficientStock, invErr.Message)
		case repositories.InventoryErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrProductNotFound, invErr.Message)
		}
	}

	return err
}

func validateCreateOrderInput(cmd CreateOrderCommand) error {
	if cmd.Owner.IsZero() {
		return fmt.Errorf("%w: order owner is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.PaymentReference) == "" {
		return fmt.Errorf("%w: payment reference is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.Currency) == "" {
		return fmt.Errorf("%w: currency is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}

	var subtotal int64
	for _, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: item product id is required", ErrOrderInvalidInput)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: quantity for %s must be positive", ErrOrderInvalidInput, item.ProductID)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("%w: unit price for %s must be >= 0", ErrOrderInvalidInput, item.ProductID)
		}
		subtotal += item.LineTotal()
	}

	expected := subtotal + cmd.Totals.Shipping + cmd.Totals.Fees
	diff := cmd.Totals.GrandTotal - expected
	if diff < -grandTotalTolerance || diff > grandTotalTolerance {
		return fmt.Errorf("%w: grand total %d does not match computed total %d", ErrOrderInvalidInput, cmd.Totals.GrandTotal, expected)
	}

	return nil
}

func normaliseOrderItems(items []OrderItem) []OrderItem {
	normalised := make([]OrderItem, len(items))
	for i, item := range items {
		normalised[i] = OrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}
	return normalised
}

func snapshotList(stocks map[string]repositories.StockSnapshot) []repositories.StockSnapshot {
	if len(stocks) == 0 {
		return nil
	}
	list := make([]repositories.StockSnapshot, 0, len(stocks))
	for _, stock := range stocks {
		list = append(list, stock)
	}
	return list
}

func isOrderNotFound(err error) bool {
	var orderErr *repositories.OrderError
	return errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorNotFound
}
