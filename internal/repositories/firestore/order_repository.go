package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/merchlane/ordercore/internal/domain"
	pfirestore "github.com/merchlane/ordercore/internal/platform/firestore"
	"github.com/merchlane/ordercore/internal/platform/pagination"
	"github.com/merchlane/ordercore/internal/repositories"
)

const (
	ordersCollection      = "orders"
	paymentRefsCollection = "orderPaymentRefs"
)

// OrderRepository implements repositories.OrderRepository backed by Firestore.
// Stock decrements, audit appends, and the payment reference index are written
// in the same transaction as the order document.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	products *pfirestore.BaseRepository[productDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	orders := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	products := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: orders, products: products}, nil
}

func (r *OrderRepository) Create(ctx context.Context, req repositories.OrderCreateRequest) (repositories.OrderCreateResult, error) {
	if r == nil || r.provider == nil {
		return repositories.OrderCreateResult{}, errors.New("order repository not initialised")
	}
	order := req.Order
	if strings.TrimSpace(order.ID) == "" {
		return repositories.OrderCreateResult{}, errors.New("order create: order id is required")
	}
	if len(order.Items) == 0 {
		return repositories.OrderCreateResult{}, errors.New("order create: at least one item is required")
	}
	if strings.TrimSpace(order.PaymentReference) == "" {
		return repositories.OrderCreateResult{}, errors.New("order create: payment reference is required")
	}
	if len(req.AdjustmentIDs) != len(order.Items) {
		return repositories.OrderCreateResult{}, errors.New("order create: one adjustment id per item is required")
	}

	now := req.Now.UTC()
	var result repositories.OrderCreateResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}

		paymentRef := client.Collection(paymentRefsCollection).Doc(order.PaymentReference)
		if snap, err := tx.Get(paymentRef); err == nil {
			var index paymentRefDocument
			if err := snap.DataTo(&index); err != nil {
				return fmt.Errorf("decode payment ref %s: %w", order.PaymentReference, err)
			}
			return &repositories.OrderError{
				Code:    repositories.OrderErrorDuplicatePaymentRef,
				OrderID: index.OrderRef,
				Message: fmt.Sprintf("payment reference %s already claimed by order %s", order.PaymentReference, index.OrderRef),
			}
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		// Firestore transactions reject any read issued after the first
		// buffered write, so all product gets happen before any mutation.
		// Repeated lines for the same product decrement one shared snapshot.
		reserved := make(map[string]*productReservation, len(order.Items))
		for _, item := range order.Items {
			productID := strings.TrimSpace(item.ProductID)
			if productID == "" {
				return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, "order create: product id is required", nil)
			}
			if item.Quantity <= 0 {
				return repositories.NewInventoryError(repositories.InventoryErrorUnknown, fmt.Sprintf("order create: quantity for %s must be > 0", productID), nil)
			}

			res, ok := reserved[productID]
			if !ok {
				productRef, err := r.products.DocumentRef(ctx, productID)
				if err != nil {
					return err
				}
				snap, err := tx.Get(productRef)
				if err != nil {
					if status.Code(err) == codes.NotFound {
						return &repositories.InventoryError{
							Code:      repositories.InventoryErrorProductNotFound,
							ProductID: productID,
							Message:   fmt.Sprintf("product %s not found", productID),
							Err:       err,
						}
					}
					return err
				}
				var doc productDocument
				if err := snap.DataTo(&doc); err != nil {
					return fmt.Errorf("decode product %s: %w", productID, err)
				}
				res = &productReservation{ref: productRef, doc: doc, previous: doc.Inventory}
				reserved[productID] = res
			}
			if res.doc.Inventory < item.Quantity {
				return &repositories.InventoryError{
					Code:      repositories.InventoryErrorInsufficientStock,
					ProductID: productID,
					Message:   fmt.Sprintf("insufficient stock for %s: requested %d, available %d", productID, item.Quantity, res.doc.Inventory),
				}
			}
			res.doc.Inventory -= item.Quantity
		}

		stocks := make(map[string]repositories.StockSnapshot, len(reserved))
		for productID, res := range reserved {
			res.doc.UpdatedAt = now
			res.doc.recalculate()
			if err := tx.Set(res.ref, res.doc); err != nil {
				return err
			}
			stocks[productID] = repositories.StockSnapshot{
				ProductID:         productID,
				PreviousInventory: res.previous,
				Inventory:         res.doc.Inventory,
				LowStockThreshold: res.doc.LowStockThreshold,
			}
		}

		for i, item := range order.Items {
			adjRef := client.Collection(adjustmentsCollection).Doc(strings.TrimSpace(req.AdjustmentIDs[i]))
			adjDoc := adjustmentDocument{
				ProductRef: strings.TrimSpace(item.ProductID),
				Delta:      -item.Quantity,
				Reason:     string(domain.AdjustmentReasonOrderReserve),
				OrderRef:   order.ID,
				CreatedBy:  orderActor(order.Owner),
				CreatedAt:  now,
			}
			if err := tx.Create(adjRef, adjDoc); err != nil {
				return err
			}
		}

		order.Status = domain.OrderStatusPending
		order.CreatedAt = now
		order.UpdatedAt = now
		orderDoc := newOrderDocument(order)

		orderRef, err := r.orders.DocumentRef(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(orderRef, orderDoc); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return &repositories.OrderError{
					Code:    repositories.OrderErrorDuplicatePaymentRef,
					OrderID: order.ID,
					Message: fmt.Sprintf("order %s already exists", order.ID),
					Err:     err,
				}
			}
			return err
		}

		index := paymentRefDocument{OrderRef: order.ID, CreatedAt: now}
		if err := tx.Create(paymentRef, index); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return &repositories.OrderError{
					Code:    repositories.OrderErrorDuplicatePaymentRef,
					Message: fmt.Sprintf("payment reference %s already claimed", order.PaymentReference),
					Err:     err,
				}
			}
			return err
		}

		stored, err := orderDoc.toDomain(order.ID)
		if err != nil {
			return err
		}
		result = repositories.OrderCreateResult{Order: stored, Stocks: stocks}
		return nil
	})
	if err != nil {
		return repositories.OrderCreateResult{}, wrapOrderError("orders.create", err)
	}
	return result, nil
}

func (r *OrderRepository) Transition(ctx context.Context, req repositories.OrderTransitionRequest) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order transition: order id is required")
	}

	now := req.Now.UTC()
	var updated domain.Order

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		doc, err := getOrderDoc(tx, orderRef, orderID)
		if err != nil {
			return err
		}
		current := domain.OrderStatus(doc.Status)
		if current != req.From {
			return &repositories.OrderError{
				Code:          repositories.OrderErrorInvalidState,
				OrderID:       orderID,
				CurrentStatus: current,
				Message:       fmt.Sprintf("order %s is %s, expected %s", orderID, current, req.From),
			}
		}

		doc.Status = string(req.To)
		doc.UpdatedAt = now
		switch req.To {
		case domain.OrderStatusProcessing:
			doc.ProcessingAt = &now
		case domain.OrderStatusShipped:
			doc.ShippedAt = &now
		case domain.OrderStatusFulfilled:
			doc.FulfilledAt = &now
		}
		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}

		updated, err = doc.toDomain(orderID)
		return err
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.transition", err)
	}
	return updated, nil
}

func (r *OrderRepository) Cancel(ctx context.Context, req repositories.OrderCancelRequest) (repositories.OrderCancelResult, error) {
	if r == nil || r.provider == nil {
		return repositories.OrderCancelResult{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		return repositories.OrderCancelResult{}, errors.New("order cancel: order id is required")
	}

	now := req.Now.UTC()
	var result repositories.OrderCancelResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		doc, err := getOrderDoc(tx, orderRef, orderID)
		if err != nil {
			return err
		}
		current := domain.OrderStatus(doc.Status)
		if current != domain.OrderStatusPending && current != domain.OrderStatusProcessing {
			return &repositories.OrderError{
				Code:          repositories.OrderErrorInvalidState,
				OrderID:       orderID,
				CurrentStatus: current,
				Message:       fmt.Sprintf("order %s cannot be cancelled from %s", orderID, current),
			}
		}

		stocks := make(map[string]repositories.StockSnapshot, len(doc.Items))
		restored := false
		if !doc.InventoryRestored {
			if len(req.AdjustmentIDs) != len(doc.Items) {
				return errors.New("order cancel: one adjustment id per item is required")
			}
			// Read every product snapshot before the first buffered write;
			// repeated lines for the same product restore one shared snapshot.
			restorations := make(map[string]*productReservation, len(doc.Items))
			for _, item := range doc.Items {
				productID := strings.TrimSpace(item.ProductRef)
				res, ok := restorations[productID]
				if !ok {
					productRef, err := r.products.DocumentRef(ctx, productID)
					if err != nil {
						return err
					}
					snap, err := tx.Get(productRef)
					if err != nil {
						if status.Code(err) == codes.NotFound {
							return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
						}
						return err
					}
					var productDoc productDocument
					if err := snap.DataTo(&productDoc); err != nil {
						return fmt.Errorf("decode product %s: %w", productID, err)
					}
					res = &productReservation{ref: productRef, doc: productDoc, previous: productDoc.Inventory}
					restorations[productID] = res
				}
				res.doc.Inventory += item.Quantity
			}

			for productID, res := range restorations {
				res.doc.UpdatedAt = now
				res.doc.recalculate()
				if err := tx.Set(res.ref, res.doc); err != nil {
					return err
				}
				stocks[productID] = repositories.StockSnapshot{
					ProductID:         productID,
					PreviousInventory: res.previous,
					Inventory:         res.doc.Inventory,
					LowStockThreshold: res.doc.LowStockThreshold,
				}
			}

			for i, item := range doc.Items {
				adjRef := client.Collection(adjustmentsCollection).Doc(strings.TrimSpace(req.AdjustmentIDs[i]))
				adjDoc := adjustmentDocument{
					ProductRef: strings.TrimSpace(item.ProductRef),
					Delta:      item.Quantity,
					Reason:     string(domain.AdjustmentReasonOrderCancelRestore),
					OrderRef:   orderID,
					CreatedBy:  strings.TrimSpace(req.ActorID),
					CreatedAt:  now,
				}
				if err := tx.Create(adjRef, adjDoc); err != nil {
					return err
				}
			}
			doc.InventoryRestored = true
			restored = true
		}

		doc.Status = string(domain.OrderStatusCancelled)
		doc.CancelledAt = &now
		doc.UpdatedAt = now
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			doc.CancelReason = &reason
		}
		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}

		cancelled, err := doc.toDomain(orderID)
		if err != nil {
			return err
		}
		result = repositories.OrderCancelResult{Order: cancelled, Restored: restored, Stocks: stocks}
		return nil
	})
	if err != nil {
		return repositories.OrderCancelResult{}, wrapOrderError("orders.cancel", err)
	}
	return result, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: id is required")
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Order{}, &repositories.OrderError{
				Code:    repositories.OrderErrorNotFound,
				OrderID: orderID,
				Message: fmt.Sprintf("order %s not found", orderID),
				Err:     err,
			}
		}
		return domain.Order{}, wrapOrderError("orders.find", err)
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *OrderRepository) FindByPaymentReference(ctx context.Context, paymentReference string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	paymentReference = strings.TrimSpace(paymentReference)
	if paymentReference == "" {
		return domain.Order{}, errors.New("order find by payment ref: reference is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.findByPaymentRef", err)
	}

	snap, err := client.Collection(paymentRefsCollection).Doc(paymentReference).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.Order{}, &repositories.OrderError{
				Code:    repositories.OrderErrorNotFound,
				Message: fmt.Sprintf("no order for payment reference %s", paymentReference),
				Err:     err,
			}
		}
		return domain.Order{}, wrapOrderError("orders.findByPaymentRef", err)
	}
	var index paymentRefDocument
	if err := snap.DataTo(&index); err != nil {
		return domain.Order{}, fmt.Errorf("decode payment ref %s: %w", paymentReference, err)
	}
	return r.FindByID(ctx, index.OrderRef)
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := pagination.Clamp(filter.Pagination.PageSize, defaultRepoPageSize, maxRepoPageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
	}

	query := client.Collection(ordersCollection).Query
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		query = query.Where("userRef", "==", userID)
	}
	if len(filter.Status) == 1 {
		query = query.Where("status", "==", string(filter.Status[0]))
	} else if len(filter.Status) > 1 {
		statuses := make([]string, len(filter.Status))
		for i, s := range filter.Status {
			statuses[i] = string(s)
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		var decoded orderPageToken
		if err := pagination.DecodeCursor(token, &decoded); err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		order, err := doc.toDomain(snap.Ref.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		orders = append(orders, order)
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := pagination.EncodeCursor(orderPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

func (r *OrderRepository) ListByStatusBefore(ctx context.Context, filter repositories.OrderSweepFilter) ([]domain.Order, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}
	if filter.Status == "" {
		return nil, errors.New("order sweep list: status is required")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, wrapOrderError("orders.sweepList", err)
	}

	query := client.Collection(ordersCollection).Query.
		Where("status", "==", string(filter.Status)).
		Where("createdAt", "<=", filter.Before.UTC()).
		OrderBy("createdAt", firestore.Asc).
		Limit(limit)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, wrapOrderError("orders.sweepList", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		order, err := doc.toDomain(snap.Ref.ID)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (r *OrderRepository) AggregatePurchases(ctx context.Context) (map[string]repositories.PurchaseTotals, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, wrapOrderError("orders.aggregate", err)
	}

	iter := client.Collection(ordersCollection).Documents(ctx)
	defer iter.Stop()

	totals := make(map[string]repositories.PurchaseTotals)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, wrapOrderError("orders.aggregate", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		if domain.OrderStatus(doc.Status) == domain.OrderStatusCancelled {
			continue
		}
		seen := make(map[string]bool, len(doc.Items))
		for _, item := range doc.Items {
			productID := strings.TrimSpace(item.ProductRef)
			if productID == "" {
				continue
			}
			entry := totals[productID]
			if !seen[productID] {
				entry.Orders++
				seen[productID] = true
			}
			entry.Units += int64(item.Quantity)
			createdAt := doc.CreatedAt
			if entry.LastOrderAt == nil || createdAt.After(*entry.LastOrderAt) {
				entry.LastOrderAt = &createdAt
			}
			totals[productID] = entry
		}
	}
	return totals, nil
}

// productReservation carries a product snapshot read during the transaction's
// read phase through to its write phase.
type productReservation struct {
	ref      *firestore.DocumentRef
	doc      productDocument
	previous int
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	OrderNumber       string                `firestore:"orderNumber"`
	UserRef           string                `firestore:"userRef,omitempty"`
	GuestEmail        string                `firestore:"guestEmail,omitempty"`
	GuestName         string                `firestore:"guestName,omitempty"`
	Status            string                `firestore:"status"`
	Currency          string                `firestore:"currency"`
	Items             []orderItemDocument   `firestore:"items"`
	Subtotal          int64                 `firestore:"subtotal"`
	Shipping          int64                 `firestore:"shipping"`
	Fees              int64                 `firestore:"fees"`
	GrandTotal        int64                 `firestore:"grandTotal"`
	PaymentReference  string                `firestore:"paymentReference"`
	ShippingAddress   *orderAddressDocument `firestore:"shippingAddress,omitempty"`
	InventoryRestored bool                  `firestore:"inventoryRestored"`
	CancelReason      *string               `firestore:"cancelReason,omitempty"`
	CreatedAt         time.Time             `firestore:"createdAt"`
	UpdatedAt         time.Time             `firestore:"updatedAt"`
	ProcessingAt      *time.Time            `firestore:"processingAt,omitempty"`
	ShippedAt         *time.Time            `firestore:"shippedAt,omitempty"`
	FulfilledAt       *time.Time            `firestore:"fulfilledAt,omitempty"`
	CancelledAt       *time.Time            `firestore:"cancelledAt,omitempty"`
}

type orderItemDocument struct {
	ProductRef string `firestore:"productRef"`
	Name       string `firestore:"name,omitempty"`
	Quantity   int    `firestore:"qty"`
	UnitPrice  int64  `firestore:"unitPrice"`
}

type orderAddressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

type paymentRefDocument struct {
	OrderRef  string    `firestore:"orderRef"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductRef: strings.TrimSpace(item.ProductID),
			Name:       strings.TrimSpace(item.Name),
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
		}
	}
	doc := orderDocument{
		OrderNumber:       strings.TrimSpace(order.OrderNumber),
		Status:            string(order.Status),
		Currency:          strings.TrimSpace(order.Currency),
		Items:             items,
		Subtotal:          order.Totals.Subtotal,
		Shipping:          order.Totals.Shipping,
		Fees:              order.Totals.Fees,
		GrandTotal:        order.Totals.GrandTotal,
		PaymentReference:  strings.TrimSpace(order.PaymentReference),
		InventoryRestored: order.InventoryRestored,
		CancelReason:      order.CancelReason,
		CreatedAt:         order.CreatedAt.UTC(),
		UpdatedAt:         order.UpdatedAt.UTC(),
		ProcessingAt:      utcOrNil(order.ProcessingAt),
		ShippedAt:         utcOrNil(order.ShippedAt),
		FulfilledAt:       utcOrNil(order.FulfilledAt),
		CancelledAt:       utcOrNil(order.CancelledAt),
	}
	if order.Owner.IsGuest() {
		doc.GuestEmail = order.Owner.GuestEmail()
		doc.GuestName = order.Owner.GuestName()
	} else {
		doc.UserRef = order.Owner.UserID()
	}
	if addr := order.ShippingAddress; addr != nil {
		doc.ShippingAddress = &orderAddressDocument{
			Recipient:  addr.Recipient,
			Line1:      addr.Line1,
			Line2:      addr.Line2,
			City:       addr.City,
			State:      addr.State,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
			Phone:      addr.Phone,
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	var owner domain.OrderOwner
	var err error
	if strings.TrimSpace(d.UserRef) != "" {
		owner, err = domain.AuthenticatedOwner(d.UserRef)
	} else {
		owner, err = domain.GuestOwner(d.GuestEmail, d.GuestName)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s has invalid owner: %w", id, err)
	}

	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID: strings.TrimSpace(item.ProductRef),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}

	order := domain.Order{
		ID:                id,
		OrderNumber:       strings.TrimSpace(d.OrderNumber),
		Owner:             owner,
		Status:            domain.OrderStatus(d.Status),
		Currency:          strings.TrimSpace(d.Currency),
		Items:             items,
		Totals:            domain.OrderTotals{Subtotal: d.Subtotal, Shipping: d.Shipping, Fees: d.Fees, GrandTotal: d.GrandTotal},
		PaymentReference:  strings.TrimSpace(d.PaymentReference),
		InventoryRestored: d.InventoryRestored,
		CancelReason:      d.CancelReason,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
		ProcessingAt:      d.ProcessingAt,
		ShippedAt:         d.ShippedAt,
		FulfilledAt:       d.FulfilledAt,
		CancelledAt:       d.CancelledAt,
	}
	if addr := d.ShippingAddress; addr != nil {
		order.ShippingAddress = &domain.Address{
			Recipient:  addr.Recipient,
			Line1:      addr.Line1,
			Line2:      addr.Line2,
			City:       addr.City,
			State:      addr.State,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
			Phone:      addr.Phone,
		}
	}
	return order, nil
}

func getOrderDoc(tx *firestore.Transaction, ref *firestore.DocumentRef, orderID string) (orderDocument, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return orderDocument{}, &repositories.OrderError{
				Code:    repositories.OrderErrorNotFound,
				OrderID: orderID,
				Message: fmt.Sprintf("order %s not found", orderID),
				Err:     err,
			}
		}
		return orderDocument{}, err
	}
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return orderDocument{}, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	return doc, nil
}

func orderActor(owner domain.OrderOwner) string {
	if owner.IsGuest() {
		return "guest:" + owner.GuestEmail()
	}
	return owner.UserID()
}

type orderPageToken struct {
	ID        string
	CreatedAt time.Time
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}
