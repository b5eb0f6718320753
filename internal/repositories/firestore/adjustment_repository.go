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

// AdjustmentRepository reads the append-only inventory audit trail. Writes land
// here through the product and order repository transactions.
type AdjustmentRepository struct {
	provider *pfirestore.Provider
}

// NewAdjustmentRepository constructs a Firestore-backed audit trail reader.
func NewAdjustmentRepository(provider *pfirestore.Provider) (*AdjustmentRepository, error) {
	if provider == nil {
		return nil, errors.New("adjustment repository requires firestore provider")
	}
	return &AdjustmentRepository{provider: provider}, nil
}

func (r *AdjustmentRepository) ListByProduct(ctx context.Context, productID string, filter repositories.AdjustmentListFilter) (domain.CursorPage[domain.InventoryAdjustment], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.InventoryAdjustment]{}, errors.New("adjustment repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CursorPage[domain.InventoryAdjustment]{}, errors.New("adjustment list: product id is required")
	}

	pageSize := pagination.Clamp(filter.Pagination.PageSize, defaultRepoPageSize, maxRepoPageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.InventoryAdjustment]{}, pfirestore.WrapError("adjustments.list", err)
	}

	query := client.Collection(adjustmentsCollection).Query.Where("productRef", "==", productID)
	if len(filter.Reasons) == 1 {
		query = query.Where("reason", "==", string(filter.Reasons[0]))
	} else if len(filter.Reasons) > 1 {
		reasons := make([]string, len(filter.Reasons))
		for i, reason := range filter.Reasons {
			reasons[i] = string(reason)
		}
		query = query.Where("reason", "in", reasons)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		var decoded adjustmentPageToken
		if err := pagination.DecodeCursor(token, &decoded); err != nil {
			return domain.CursorPage[domain.InventoryAdjustment]{}, pfirestore.WrapError("adjustments.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var adjustments []domain.InventoryAdjustment
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.InventoryAdjustment]{}, pfirestore.WrapError("adjustments.list", err)
		}
		var doc adjustmentDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.InventoryAdjustment]{}, fmt.Errorf("decode adjustment %s: %w", snap.Ref.ID, err)
		}
		adjustments = append(adjustments, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(adjustments) > pageSize
	if hasMore {
		adjustments = adjustments[:pageSize]
	}
	var nextToken string
	if hasMore && len(adjustments) > 0 {
		last := adjustments[len(adjustments)-1]
		encoded, err := pagination.EncodeCursor(adjustmentPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.InventoryAdjustment]{}, pfirestore.WrapError("adjustments.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.InventoryAdjustment]{Items: adjustments, NextPageToken: nextToken}, nil
}

// adjustmentDocument is the persisted audit entry. Product and order
// repositories create these inside their transactions.
type adjustmentDocument struct {
	ProductRef string    `firestore:"productRef"`
	Delta      int       `firestore:"delta"`
	Reason     string    `firestore:"reason"`
	OrderRef   string    `firestore:"orderRef,omitempty"`
	Note       string    `firestore:"note,omitempty"`
	CreatedBy  string    `firestore:"createdBy,omitempty"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

func (d adjustmentDocument) toDomain(id string) domain.InventoryAdjustment {
	adjustment := domain.InventoryAdjustment{
		ID:            id,
		ProductID:     d.ProductRef,
		QuantityDelta: d.Delta,
		Reason:        domain.AdjustmentReason(d.Reason),
		Note:          d.Note,
		CreatedBy:     d.CreatedBy,
		CreatedAt:     d.CreatedAt,
	}
	if orderRef := strings.TrimSpace(d.OrderRef); orderRef != "" {
		adjustment.OrderID = &orderRef
	}
	return adjustment
}

type adjustmentPageToken struct {
	ID        string
	CreatedAt time.Time
}
