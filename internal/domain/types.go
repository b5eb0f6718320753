package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order is created and awaits processing.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates the order is being prepared for shipment.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusFulfilled indicates the order reached its terminal success state.
	OrderStatusFulfilled OrderStatus = "fulfilled"
	// OrderStatusCancelled indicates the order was cancelled before shipment.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ParseOrderStatus validates a raw status string from transport or storage.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	switch status := OrderStatus(strings.ToLower(strings.TrimSpace(raw))); status {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusFulfilled, OrderStatusCancelled:
		return status, nil
	default:
		return "", fmt.Errorf("domain: unknown order status %q", raw)
	}
}

// Terminal reports whether no further transitions are possible from the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFulfilled || s == OrderStatusCancelled
}

// ErrInvalidOwner is returned when an order owner variant cannot be constructed.
var ErrInvalidOwner = errors.New("domain: invalid order owner")

// OrderOwner identifies who placed an order: exactly one of an authenticated
// user or a guest contact. The zero value is invalid; use the constructors.
type OrderOwner struct {
	userID     string
	guestEmail string
	guestName  string
}

// AuthenticatedOwner builds an owner backed by a user account.
func AuthenticatedOwner(userID string) (OrderOwner, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return OrderOwner{}, fmt.Errorf("%w: user id is required", ErrInvalidOwner)
	}
	return OrderOwner{userID: userID}, nil
}

// GuestOwner builds an owner from guest checkout contact details.
func GuestOwner(email, name string) (OrderOwner, error) {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)
	if email == "" {
		return OrderOwner{}, fmt.Errorf("%w: guest email is required", ErrInvalidOwner)
	}
	if name == "" {
		return OrderOwner{}, fmt.Errorf("%w: guest name is required", ErrInvalidOwner)
	}
	return OrderOwner{guestEmail: email, guestName: name}, nil
}

// IsZero reports whether the owner was never constructed.
func (o OrderOwner) IsZero() bool {
	return o.userID == "" && o.guestEmail == ""
}

// IsGuest reports whether the order was placed through guest checkout.
func (o OrderOwner) IsGuest() bool {
	return o.guestEmail != ""
}

// UserID returns the owning user's identifier for authenticated orders.
func (o OrderOwner) UserID() string {
	return o.userID
}

// GuestEmail returns the guest contact email for guest orders.
func (o OrderOwner) GuestEmail() string {
	return o.guestEmail
}

// GuestName returns the guest display name for guest orders.
func (o OrderOwner) GuestName() string {
	return o.guestName
}

// OrderItem mirrors a purchased line at the time of checkout.
type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice int64
}

// LineTotal returns quantity times unit price in the smallest currency unit.
func (i OrderItem) LineTotal() int64 {
	return int64(i.Quantity) * i.UnitPrice
}

// OrderTotals holds rolled-up monetary fields in the smallest currency unit.
type OrderTotals struct {
	Subtotal   int64
	Shipping   int64
	Fees       int64
	GrandTotal int64
}

// Order captures the order aggregate shared across layers.
type Order struct {
	ID                string
	OrderNumber       string
	Owner             OrderOwner
	Status            OrderStatus
	Currency          string
	Items             []OrderItem
	Totals            OrderTotals
	PaymentReference  string
	ShippingAddress   *Address
	InventoryRestored bool
	CancelReason      *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ProcessingAt      *time.Time
	ShippedAt         *time.Time
	FulfilledAt       *time.Time
	CancelledAt       *time.Time
}

// ItemsSubtotal sums line totals across the order.
func (o Order) ItemsSubtotal() int64 {
	var subtotal int64
	for _, item := range o.Items {
		subtotal += item.LineTotal()
	}
	return subtotal
}

// Product is the catalog read model owned elsewhere; this service owns the
// inventory, engagement counter, and popularity score fields.
type Product struct {
	ID                string
	Name              string
	Price             int64
	Currency          string
	Inventory         int
	LowStockThreshold int
	ViewCount         int64
	CartCount         int64
	OrderCount        int64
	PurchaseCount     int64
	PopularityScore   float64
	Published         bool
	LastEngagedAt     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OutOfStock reports whether no units remain.
func (p Product) OutOfStock() bool {
	return p.Inventory == 0
}

// LowStock reports whether remaining units are at or below the threshold.
func (p Product) LowStock() bool {
	return p.Inventory > 0 && p.Inventory <= p.LowStockThreshold
}

// AdjustmentReason enumerates the provenance of an inventory mutation.
type AdjustmentReason string

const (
	// AdjustmentReasonOrderReserve records stock reserved when an order is created.
	AdjustmentReasonOrderReserve AdjustmentReason = "order_reserve"
	// AdjustmentReasonOrderCancelRestore records stock returned on cancellation.
	AdjustmentReasonOrderCancelRestore AdjustmentReason = "order_cancel_restore"
	// AdjustmentReasonManualAdjust records an operator-initiated correction.
	AdjustmentReasonManualAdjust AdjustmentReason = "manual_adjust"
)

// InventoryAdjustment is one entry in the append-only inventory audit trail.
type InventoryAdjustment struct {
	ID            string
	ProductID     string
	QuantityDelta int
	Reason        AdjustmentReason
	OrderID       *string
	Note          string
	CreatedBy     string
	CreatedAt     time.Time
}

// ActivityType enumerates recorded shopper interactions.
type ActivityType string

const (
	// ActivityTypeView records a product detail view.
	ActivityTypeView ActivityType = "view"
	// ActivityTypeCartAdd records a product being added to a cart.
	ActivityTypeCartAdd ActivityType = "cart_add"
	// ActivityTypeOrder records a product appearing in a placed order.
	ActivityTypeOrder ActivityType = "order"
)

// ParseActivityType validates a raw activity type from transport.
func ParseActivityType(raw string) (ActivityType, error) {
	switch t := ActivityType(strings.ToLower(strings.TrimSpace(raw))); t {
	case ActivityTypeView, ActivityTypeCartAdd, ActivityTypeOrder:
		return t, nil
	default:
		return "", fmt.Errorf("domain: unknown activity type %q", raw)
	}
}

// ActivityEvent is one append-only engagement record. Exactly one of UserID or
// SessionID is set.
type ActivityEvent struct {
	ID         string
	ProductID  string
	Type       ActivityType
	UserID     *string
	SessionID  *string
	OccurredAt time.Time
}

// Address represents the postal address snapshot stored on an order.
type Address struct {
	Recipient  string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// UpdateStatus reports the scheduler's view of score/metric refresh progress.
type UpdateStatus struct {
	LastFullUpdateAt    *time.Time
	TimeSinceLastUpdate *time.Duration
	InProgress          bool
	PendingCount        int
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
