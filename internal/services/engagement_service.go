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

var (
	// ErrActivityInvalidInput signals a malformed activity event.
	ErrActivityInvalidInput = errors.New("engagement: invalid input")
)

// EngagementServiceDeps bundles the collaborators required to construct an engagement service.
type EngagementServiceDeps struct {
	Products    repositories.ProductRepository
	Orders      repositories.OrderRepository
	Activity    repositories.ActivityRepository
	Tracker     UpdateTracker
	ChunkSize   int
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type engagementService struct {
	products  repositories.ProductRepository
	orders    repositories.OrderRepository
	activity  repositories.ActivityRepository
	tracker   UpdateTracker
	chunkSize int
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewEngagementService wires dependencies into a concrete EngagementService implementation.
func NewEngagementService(deps EngagementServiceDeps) (EngagementService, error) {
	if deps.Products == nil {
		return nil, errors.New("engagement service: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("engagement service: order repository is required")
	}
	if deps.Activity == nil {
		return nil, errors.New("engagement service: activity repository is required")
	}

	chunkSize := deps.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 250
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

	return &engagementService{
		products:  deps.Products,
		orders:    deps.Orders,
		activity:  deps.Activity,
		tracker:   deps.Tracker,
		chunkSize: chunkSize,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *engagementService) RecordActivity(ctx context.Context, cmd RecordActivityCommand) (ActivityEvent, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return ActivityEvent{}, fmt.Errorf("%w: product id is required", ErrActivityInvalidInput)
	}

	activityType, err := domain.ParseActivityType(cmd.Type)
	if err != nil {
		return ActivityEvent{}, fmt.Errorf("%w: %s", ErrActivityInvalidInput, err.Error())
	}

	userID := trimmedPtr(cmd.UserID)
	sessionID := trimmedPtr(cmd.SessionID)
	if (userID == nil) == (sessionID == nil) {
		return ActivityEvent{}, fmt.Errorf("%w: exactly one of user id or session id is required", ErrActivityInvalidInput)
	}

	event := ActivityEvent{
		ID:         "act_" + s.newID(),
		ProductID:  productID,
		Type:       activityType,
		UserID:     userID,
		SessionID:  sessionID,
		OccurredAt: s.clock(),
	}

	if err := s.activity.Append(ctx, event); err != nil {
		return ActivityEvent{}, err
	}

	if s.tracker != nil {
		s.tracker.MarkPending(productID)
	}

	s.logger(ctx, "activity.recorded", map[string]any{
		"productId": productID,
		"type":      string(activityType),
	})

	return event, nil
}

func (s *engagementService) ListProductActivity(ctx context.Context, productID string, pager Pagination) (domain.CursorPage[ActivityEvent], error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CursorPage[ActivityEvent]{}, fmt.Errorf("%w: product id is required", ErrActivityInvalidInput)
	}
	return s.activity.ListByProduct(ctx, productID, pager)
}

// RecalculateAllProductMetrics rebuilds every product's engagement counters
// from the orders collection and the activity feed. Each product's write is
// committed independently so one failure does not lose the rest of the pass.
func (s *engagementService) RecalculateAllProductMetrics(ctx context.Context) (RecalculateResult, error) {
	purchases, err := s.orders.AggregatePurchases(ctx)
	if err != nil {
		return RecalculateResult{}, fmt.Errorf("engagement service: aggregate purchases: %w", err)
	}

	activity, err := s.activity.AggregateByProduct(ctx)
	if err != nil {
		return RecalculateResult{}, fmt.Errorf("engagement service: aggregate activity: %w", err)
	}

	var result RecalculateResult
	pageToken := ""
	for {
		page, err := s.products.List(ctx, repositories.ProductListFilter{
			Pagination: Pagination{PageSize: s.chunkSize, PageToken: pageToken},
		})
		if err != nil {
			return result, fmt.Errorf("engagement service: list products: %w", err)
		}

		for _, product := range page.Items {
			result.Products++

			update := buildEngagementUpdate(product.ID, purchases, activity)
			update.Now = s.clock()

			if _, err := s.products.UpdateEngagement(ctx, product.ID, update); err != nil {
				result.Failed++
				s.logger(ctx, "engagement.recalculate.failed", map[string]any{
					"productId": product.ID,
					"error":     err.Error(),
				})
				continue
			}
			result.Updated++
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	s.logger(ctx, "engagement.recalculate.completed", map[string]any{
		"products": result.Products,
		"updated":  result.Updated,
		"failed":   result.Failed,
	})

	return result, nil
}

func buildEngagementUpdate(productID string, purchases map[string]repositories.PurchaseTotals, activity map[string]repositories.ActivityTotals) repositories.EngagementUpdate {
	update := repositories.EngagementUpdate{}

	if totals, ok := purchases[productID]; ok {
		update.OrderCount = totals.Orders
		update.PurchaseCount = totals.Units
		update.LastEngagedAt = latestTime(update.LastEngagedAt, totals.LastOrderAt)
	}
	if totals, ok := activity[productID]; ok {
		update.ViewCount = totals.Views
		update.CartCount = totals.CartAdds
		update.LastEngagedAt = latestTime(update.LastEngagedAt, totals.LastEngagedAt)
	}

	return update
}

func latestTime(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
