package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/merchlane/ordercore/internal/domain"
	"github.com/merchlane/ordercore/internal/repositories"
)

const (
	eventInventoryLowStock   = "inventory.low_stock"
	eventInventoryOutOfStock = "inventory.out_of_stock"
	eventInventoryRestocked  = "inventory.restocked"
)

var (
	// ErrProductNotFound indicates the referenced product does not exist.
	ErrProductNotFound = errors.New("inventory: product not found")
	// ErrInvalidAdjustment indicates the delta would drive inventory below zero or is malformed.
	ErrInvalidAdjustment = errors.New("inventory: invalid adjustment")
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Products    repositories.ProductRepository
	Adjustments repositories.AdjustmentRepository
	Events      InventoryEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products    repositories.ProductRepository
	adjustments repositories.AdjustmentRepository
	events      InventoryEventPublisher
	clock       func() time.Time
	newID       func() string
	logger      func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}
	if deps.Adjustments == nil {
		return nil, errors.New("inventory service: adjustment repository is required")
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

	return &inventoryService{
		products:    deps.Products,
		adjustments: deps.Adjustments,
		events:      deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *inventoryService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, mapInventoryRepositoryError(err)
	}
	return product, nil
}

func (s *inventoryService) Adjust(ctx context.Context, cmd AdjustInventoryCommand) (InventoryAdjustmentOutcome, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return InventoryAdjustmentOutcome{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if cmd.Delta == 0 {
		return InventoryAdjustmentOutcome{}, fmt.Errorf("%w: delta must be non-zero", ErrInvalidAdjustment)
	}

	now := s.clock()
	result, err := s.products.Adjust(ctx, repositories.ProductAdjustRequest{
		AdjustmentID: s.newID(),
		ProductID:    productID,
		Delta:        cmd.Delta,
		Note:         strings.TrimSpace(cmd.Note),
		ActorID:      strings.TrimSpace(cmd.ActorID),
		Now:          now,
	})
	if err != nil {
		return InventoryAdjustmentOutcome{}, mapInventoryRepositoryError(err)
	}

	s.logger(ctx, "inventory.adjusted", map[string]any{
		"productId": productID,
		"delta":     cmd.Delta,
		"inventory": result.Product.Inventory,
	})

	snapshot := repositories.StockSnapshot{
		ProductID:         productID,
		PreviousInventory: result.PreviousInventory,
		Inventory:         result.Product.Inventory,
		LowStockThreshold: result.Product.LowStockThreshold,
	}
	emitThresholdEvents(ctx, s.events, s.logger, []repositories.StockSnapshot{snapshot}, "", string(domain.AdjustmentReasonManualAdjust), now)

	return InventoryAdjustmentOutcome{
		Product:           result.Product,
		PreviousInventory: result.PreviousInventory,
	}, nil
}

func (s *inventoryService) ListLowStock(ctx context.Context, pager Pagination) (domain.CursorPage[Product], error) {
	page, err := s.products.ListLowStock(ctx, pager)
	if err != nil {
		return domain.CursorPage[Product]{}, mapInventoryRepositoryError(err)
	}
	return page, nil
}

func (s *inventoryService) ListOutOfStock(ctx context.Context, pager Pagination) (domain.CursorPage[Product], error) {
	page, err := s.products.ListOutOfStock(ctx, pager)
	if err != nil {
		return domain.CursorPage[Product]{}, mapInventoryRepositoryError(err)
	}
	return page, nil
}

func (s *inventoryService) ListAdjustments(ctx context.Context, cmd ListAdjustmentsCommand) (domain.CursorPage[InventoryAdjustment], error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return domain.CursorPage[InventoryAdjustment]{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}

	page, err := s.adjustments.ListByProduct(ctx, productID, repositories.AdjustmentListFilter{
		Reasons:    cmd.Reasons,
		DateRange:  cmd.DateRange,
		Pagination: cmd.Pagination,
	})
	if err != nil {
		return domain.CursorPage[InventoryAdjustment]{}, mapInventoryRepositoryError(err)
	}
	return page, nil
}

// emitThresholdEvents publishes one event per stock write that crossed into
// the low-stock or out-of-stock band, or left the out-of-stock band. Publish
// failures are logged, never surfaced. Order-driven stock writes reuse this
// from the order service.
func emitThresholdEvents(ctx context.Context, events InventoryEventPublisher, logger func(context.Context, string, map[string]any), stocks []repositories.StockSnapshot, orderID, reason string, occurredAt time.Time) {
	if events == nil {
		return
	}

	for _, stock := range stocks {
		eventType := thresholdCrossing(stock)
		if eventType == "" {
			continue
		}
		event := InventoryThresholdEvent{
			Type:              eventType,
			ProductID:         stock.ProductID,
			PreviousInventory: stock.PreviousInventory,
			Inventory:         stock.Inventory,
			LowStockThreshold: stock.LowStockThreshold,
			OrderID:           orderID,
			Reason:            reason,
			OccurredAt:        occurredAt,
		}
		if err := events.PublishInventoryEvent(ctx, event); err != nil && logger != nil {
			logger(ctx, "inventory.event.publish.failed", map[string]any{
				"productId": stock.ProductID,
				"type":      eventType,
				"error":     err.Error(),
			})
		}
	}
}

func thresholdCrossing(stock repositories.StockSnapshot) string {
	prevOut := stock.PreviousInventory == 0
	nowOut := stock.Inventory == 0
	prevLow := stock.PreviousInventory > 0 && stock.PreviousInventory <= stock.LowStockThreshold
	nowLow := stock.Inventory > 0 && stock.Inventory <= stock.LowStockThreshold

	switch {
	case nowOut && !prevOut:
		return eventInventoryOutOfStock
	case nowLow && !prevLow && !prevOut:
		return eventInventoryLowStock
	case prevOut && !nowOut:
		return eventInventoryRestocked
	default:
		return ""
	}
}

func mapInventoryRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrProductNotFound, invErr.Message)
		case repositories.InventoryErrorInvalidAdjustment:
			return fmt.Errorf("%w: %s", ErrInvalidAdjustment, invErr.Message)
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %s", ErrInsufficientStock, invErr.Message)
		}
	}

	return err
}
