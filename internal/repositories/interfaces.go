package repositories

import (
	"context"
	"time"

	domain "github.com/merchlane/ordercore/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Orders() OrderRepository
	Adjustments() AdjustmentRepository
	Activity() ActivityRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository owns the inventory, engagement, and score fields of the
// product read model. Adjust runs its stock check, write, and audit append in
// one transaction.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	Adjust(ctx context.Context, req ProductAdjustRequest) (ProductAdjustResult, error)
	ListLowStock(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error)
	ListOutOfStock(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	UpdateEngagement(ctx context.Context, productID string, update EngagementUpdate) (domain.Product, error)
	UpdateScore(ctx context.Context, productID string, score float64, now time.Time) (domain.Product, error)
}

// ProductAdjustRequest carries a manual inventory correction.
type ProductAdjustRequest struct {
	AdjustmentID string
	ProductID    string
	Delta        int
	Note         string
	ActorID      string
	Now          time.Time
}

// ProductAdjustResult reports stock levels before and after the write.
type ProductAdjustResult struct {
	Product           domain.Product
	PreviousInventory int
}

// ProductListFilter controls catalog scans used by recompute and similarity passes.
type ProductListFilter struct {
	PublishedOnly bool
	Pagination    domain.Pagination
}

// EngagementUpdate replaces the derived counters on a product.
type EngagementUpdate struct {
	ViewCount     int64
	CartCount     int64
	OrderCount    int64
	PurchaseCount int64
	LastEngagedAt *time.Time
	Now           time.Time
}

// OrderRepository persists order aggregates. Create, Transition, and Cancel
// run their multi-document writes in a single transaction so stock, audit, and
// status mutations commit atomically.
type OrderRepository interface {
	Create(ctx context.Context, req OrderCreateRequest) (OrderCreateResult, error)
	Transition(ctx context.Context, req OrderTransitionRequest) (domain.Order, error)
	Cancel(ctx context.Context, req OrderCancelRequest) (OrderCancelResult, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByPaymentReference(ctx context.Context, paymentReference string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListByStatusBefore(ctx context.Context, filter OrderSweepFilter) ([]domain.Order, error)
	AggregatePurchases(ctx context.Context) (map[string]PurchaseTotals, error)
}

// OrderCreateRequest inserts a pending order, decrements stock for every line,
// appends reserve adjustments, and claims the payment reference index doc.
// AdjustmentIDs must carry one pre-generated ID per order line.
type OrderCreateRequest struct {
	Order         domain.Order
	AdjustmentIDs []string
	Now           time.Time
}

// OrderCreateResult returns the stored order and post-decrement stock levels.
type OrderCreateResult struct {
	Order  domain.Order
	Stocks map[string]StockSnapshot
}

// OrderTransitionRequest moves an order from one status to the next, verifying
// the source status inside the transaction.
type OrderTransitionRequest struct {
	OrderID string
	From    domain.OrderStatus
	To      domain.OrderStatus
	Now     time.Time
}

// OrderCancelRequest cancels an order and restores its reserved stock.
// AdjustmentIDs must carry one pre-generated ID per order line.
type OrderCancelRequest struct {
	OrderID       string
	Reason        string
	ActorID       string
	AdjustmentIDs []string
	Now           time.Time
}

// OrderCancelResult reports the cancelled order and, when stock was restored
// by this call, the post-restore stock levels.
type OrderCancelResult struct {
	Order    domain.Order
	Restored bool
	Stocks   map[string]StockSnapshot
}

// StockSnapshot captures a product's inventory around a transactional write.
type StockSnapshot struct {
	ProductID         string
	PreviousInventory int
	Inventory         int
	LowStockThreshold int
}

// OrderListFilter narrows order listings for users and admins.
type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// OrderSweepFilter selects orders eligible for a lifecycle sweep.
type OrderSweepFilter struct {
	Status domain.OrderStatus
	Before time.Time
	Limit  int
}

// PurchaseTotals aggregates completed demand per product across non-cancelled orders.
type PurchaseTotals struct {
	Orders      int64
	Units       int64
	LastOrderAt *time.Time
}

// AdjustmentRepository reads the append-only inventory audit trail. Appends
// happen inside the product and order repository transactions.
type AdjustmentRepository interface {
	ListByProduct(ctx context.Context, productID string, filter AdjustmentListFilter) (domain.CursorPage[domain.InventoryAdjustment], error)
}

// AdjustmentListFilter narrows audit trail listings.
type AdjustmentListFilter struct {
	Reasons    []domain.AdjustmentReason
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// ActivityRepository stores shopper engagement events and aggregates them for
// the metric recompute.
type ActivityRepository interface {
	Append(ctx context.Context, event domain.ActivityEvent) error
	ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.ActivityEvent], error)
	AggregateByProduct(ctx context.Context) (map[string]ActivityTotals, error)
}

// ActivityTotals counts recorded interactions per product.
type ActivityTotals struct {
	Views         int64
	CartAdds      int64
	LastEngagedAt *time.Time
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
