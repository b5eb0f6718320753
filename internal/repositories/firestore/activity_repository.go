package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/merchlane/ordercore/internal/domain"
	pfirestore "github.com/merchlane/ordercore/internal/platform/firestore"
	"github.com/merchlane/ordercore/internal/platform/pagination"
	"github.com/merchlane/ordercore/internal/repositories"
)

const activityCollection = "activityEvents"

// ActivityRepository stores shopper engagement events used by the metric recompute.
type ActivityRepository struct {
	provider *pfirestore.Provider
	events   *pfirestore.BaseRepository[activityDocument]
}

// NewActivityRepository constructs a Firestore-backed activity feed.
func NewActivityRepository(provider *pfirestore.Provider) (*ActivityRepository, error) {
	if provider == nil {
		return nil, errors.New("activity repository requires firestore provider")
	}
	events := pfirestore.NewBaseRepository[activityDocument](provider, activityCollection, nil, nil)
	return &ActivityRepository{provider: provider, events: events}, nil
}

func (r *ActivityRepository) Append(ctx context.Context, event domain.ActivityEvent) error {
	if r == nil || r.events == nil {
		return errors.New("activity repository not initialised")
	}
	if strings.TrimSpace(event.ID) == "" {
		return errors.New("activity append: event id is required")
	}
	if strings.TrimSpace(event.ProductID) == "" {
		return errors.New("activity append: product id is required")
	}

	doc := activityDocument{
		ProductRef: strings.TrimSpace(event.ProductID),
		Type:       string(event.Type),
		OccurredAt: event.OccurredAt.UTC(),
	}
	if event.UserID != nil {
		userID := strings.TrimSpace(*event.UserID)
		if userID != "" {
			doc.UserRef = &userID
		}
	}
	if event.SessionID != nil {
		sessionID := strings.TrimSpace(*event.SessionID)
		if sessionID != "" {
			doc.SessionRef = &sessionID
		}
	}

	if _, err := r.events.Set(ctx, event.ID, doc); err != nil {
		return pfirestore.WrapError("activity.append", err)
	}
	return nil
}

func (r *ActivityRepository) ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.ActivityEvent], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.ActivityEvent]{}, errors.New("activity repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CursorPage[domain.ActivityEvent]{}, errors.New("activity list: product id is required")
	}

	pageSize := pagination.Clamp(pager.PageSize, defaultRepoPageSize, maxRepoPageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.ActivityEvent]{}, pfirestore.WrapError("activity.list", err)
	}

	query := client.Collection(activityCollection).Query.
		Where("productRef", "==", productID).
		OrderBy("occurredAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		var decoded activityPageToken
		if err := pagination.DecodeCursor(token, &decoded); err != nil {
			return domain.CursorPage[domain.ActivityEvent]{}, pfirestore.WrapError("activity.list", err)
		}
		query = query.StartAfter(decoded.OccurredAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var events []domain.ActivityEvent
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.ActivityEvent]{}, pfirestore.WrapError("activity.list", err)
		}
		var doc activityDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.ActivityEvent]{}, fmt.Errorf("decode activity event %s: %w", snap.Ref.ID, err)
		}
		events = append(events, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(events) > pageSize
	if hasMore {
		events = events[:pageSize]
	}
	var nextToken string
	if hasMore && len(events) > 0 {
		last := events[len(events)-1]
		encoded, err := pagination.EncodeCursor(activityPageToken{ID: last.ID, OccurredAt: last.OccurredAt})
		if err != nil {
			return domain.CursorPage[domain.ActivityEvent]{}, pfirestore.WrapError("activity.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.ActivityEvent]{Items: events, NextPageToken: nextToken}, nil
}

func (r *ActivityRepository) AggregateByProduct(ctx context.Context) (map[string]repositories.ActivityTotals, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("activity repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("activity.aggregate", err)
	}

	iter := client.Collection(activityCollection).Documents(ctx)
	defer iter.Stop()

	totals := make(map[string]repositories.ActivityTotals)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("activity.aggregate", err)
		}
		var doc activityDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode activity event %s: %w", snap.Ref.ID, err)
		}
		productID := strings.TrimSpace(doc.ProductRef)
		if productID == "" {
			continue
		}
		entry := totals[productID]
		switch domain.ActivityType(doc.Type) {
		case domain.ActivityTypeView:
			entry.Views++
		case domain.ActivityTypeCartAdd:
			entry.CartAdds++
		}
		occurredAt := doc.OccurredAt
		if entry.LastEngagedAt == nil || occurredAt.After(*entry.LastEngagedAt) {
			entry.LastEngagedAt = &occurredAt
		}
		totals[productID] = entry
	}
	return totals, nil
}

type activityDocument struct {
	ProductRef string    `firestore:"productRef"`
	Type       string    `firestore:"type"`
	UserRef    *string   `firestore:"userRef,omitempty"`
	SessionRef *string   `firestore:"sessionRef,omitempty"`
	OccurredAt time.Time `firestore:"occurredAt"`
}

func (d activityDocument) toDomain(id string) domain.ActivityEvent {
	return domain.ActivityEvent{
		ID:         id,
		ProductID:  d.ProductRef,
		Type:       domain.ActivityType(d.Type),
		UserID:     d.UserRef,
		SessionID:  d.SessionRef,
		OccurredAt: d.OccurredAt,
	}
}

type activityPageToken struct {
	ID         string
	OccurredAt time.Time
}
