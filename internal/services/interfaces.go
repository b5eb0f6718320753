package services

import (
	"context"
	"time"

	domain "github.com/merchlane/ordercore/internal/domain"
	"github.com/merchlane/ordercore/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	Product             = domain.Product
	Order               = domain.Order
	OrderStatus         = domain.OrderStatus
	OrderOwner          = domain.OrderOwner
	OrderItem           = domain.OrderItem
	OrderTotals         = domain.OrderTotals
	Address             = domain.Address
	InventoryAdjustment = domain.InventoryAdjustment
	ActivityEvent       = domain.ActivityEvent
	ActivityType        = domain.ActivityType
	UpdateStatus        = domain.UpdateStatus
	SystemHealthReport  = domain.SystemHealthReport
)

// InventoryService owns manual stock corrections and threshold reporting.
// Order-driven decrements and restores run inside the order transactions;
// this service surfaces their threshold events.
type InventoryService interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	Adjust(ctx context.Context, cmd AdjustInventoryCommand) (InventoryAdjustmentOutcome, error)
	ListLowStock(ctx context.Context, pager Pagination) (domain.CursorPage[Product], error)
	ListOutOfStock(ctx context.Context, pager Pagination) (domain.CursorPage[Product], error)
	ListAdjustments(ctx context.Context, cmd ListAdjustmentsCommand) (domain.CursorPage[InventoryAdjustment], error)
}

// OrderService drives the order lifecycle: creation with atomic stock
// reservation, timed status sweeps, fulfilment, and cancellation with
// stock restore.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (OrderCreateOutcome, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	MarkFulfilled(ctx context.Context, cmd FulfillOrderCommand) (Order, error)
	ProcessOrderLifecycle(ctx context.Context, orderID string) error
	ProcessPendingOrders(ctx context.Context) (SweepResult, error)
	ShipProcessingOrders(ctx context.Context) (SweepResult, error)
}

// EngagementService ingests shopper activity and recomputes the per-product
// engagement counters from source data.
type EngagementService interface {
	RecordActivity(ctx context.Context, cmd RecordActivityCommand) (ActivityEvent, error)
	ListProductActivity(ctx context.Context, productID string, pager Pagination) (domain.CursorPage[ActivityEvent], error)
	RecalculateAllProductMetrics(ctx context.Context) (RecalculateResult, error)
}

// ScoringService maintains the bounded popularity score and answers
// similarity lookups.
type ScoringService interface {
	UpdateAllProductScores(ctx context.Context) (ScoreUpdateResult, error)
	TriggerManualUpdate(ctx context.Context, productIDs []string) (ScoreUpdateResult, error)
	GetSimilarProducts(ctx context.Context, query SimilarProductsQuery) ([]Product, error)
}

// UpdateTracker reports and coordinates full metric/score refresh passes.
// Implementations are in-memory; progress state does not survive restarts.
type UpdateTracker interface {
	Status() UpdateStatus
	ForceFullUpdate(ctx context.Context) (FullUpdateResult, error)
	MarkPending(productIDs ...string)
	ClearPending(productIDs ...string)
}

// SystemService aggregates utility endpoints (health checks, counters).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	NextCounterValue(ctx context.Context, cmd CounterCommand) (int64, error)
}

// CounterService issues formatted sequence numbers on top of the counter repository.
type CounterService interface {
	Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error)
	NextOrderNumber(ctx context.Context) (string, error)
}

// CounterGenerationOptions controls how counter values are incremented and formatted.
type CounterGenerationOptions struct {
	Step         int64
	Prefix       string
	Suffix       string
	PadLength    int
	MaxValue     *int64
	InitialValue *int64
	Formatter    func(now time.Time, value int64) string
}

// CounterValue reports the raw and formatted value of a generated sequence number.
type CounterValue struct {
	Value     int64
	Formatted string
}

// OrderEventPublisher accepts order lifecycle notifications for downstream processing.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// InventoryEventPublisher accepts stock threshold notifications for downstream processing.
type InventoryEventPublisher interface {
	PublishInventoryEvent(ctx context.Context, event InventoryThresholdEvent) error
}

// Command and DTO definitions ------------------------------------------------

type AdjustInventoryCommand struct {
	ProductID string
	Delta     int
	Note      string
	ActorID   string
}

type InventoryAdjustmentOutcome struct {
	Product           Product
	PreviousInventory int
}

type ListAdjustmentsCommand struct {
	ProductID  string
	Reasons    []domain.AdjustmentReason
	DateRange  domain.RangeQuery[time.Time]
	Pagination Pagination
}

type OrderListFilter = repositories.OrderListFilter

type CreateOrderCommand struct {
	Owner            OrderOwner
	Currency         string
	Items            []OrderItem
	Totals           OrderTotals
	PaymentReference string
	ShippingAddress  *Address
}

// OrderCreateOutcome reports the stored order. Existing is true when the
// payment reference had already been claimed and the prior order is returned.
type OrderCreateOutcome struct {
	Order    Order
	Existing bool
}

type CancelOrderCommand struct {
	OrderID string
	Reason  string
	ActorID string
}

type FulfillOrderCommand struct {
	OrderID string
	ActorID string
}

// SweepResult summarises one lifecycle sweep pass.
type SweepResult struct {
	Eligible     int
	Transitioned int
	Failed       int
}

type RecordActivityCommand struct {
	ProductID string
	Type      string
	UserID    *string
	SessionID *string
}

// RecalculateResult summarises a full engagement recompute pass.
type RecalculateResult struct {
	Products int
	Updated  int
	Failed   int
}

// ScoreUpdateResult summarises a scoring pass. UnknownIDs lists requested
// products that do not exist.
type ScoreUpdateResult struct {
	Products   int
	Updated    int
	Failed     int
	UnknownIDs []string
}

type SimilarProductsQuery struct {
	ProductID string
	Limit     int
}

// FullUpdateResult combines the engagement recompute and scoring pass
// triggered by a forced full update.
type FullUpdateResult struct {
	Recalculate RecalculateResult
	Scores      ScoreUpdateResult
	StartedAt   time.Time
	FinishedAt  time.Time
}

type CounterCommand struct {
	CounterID string
	Step      int64
}

// OrderEvent captures metadata for emitted order lifecycle events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus OrderStatus
	CurrentStatus  OrderStatus
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// InventoryThresholdEvent is emitted when a stock write crosses into or out
// of the low-stock or out-of-stock bands.
type InventoryThresholdEvent struct {
	Type              string
	ProductID         string
	PreviousInventory int
	Inventory         int
	LowStockThreshold int
	OrderID           string
	Reason            string
	OccurredAt        time.Time
}
