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
	productsCollection    = "products"
	adjustmentsCollection = "inventoryAdjustments"

	defaultRepoPageSize = 50
	maxRepoPageSize     = 200
)

// ProductRepository implements repositories.ProductRepository backed by Firestore.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	products := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &ProductRepository{provider: provider, products: products}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product find: id is required")
	}

	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
		}
		return domain.Product{}, wrapInventoryError("products.find", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ProductRepository) Adjust(ctx context.Context, req repositories.ProductAdjustRequest) (repositories.ProductAdjustResult, error) {
	if r == nil || r.provider == nil {
		return repositories.ProductAdjustResult{}, errors.New("product repository not initialised")
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return repositories.ProductAdjustResult{}, errors.New("product adjust: product id is required")
	}
	if strings.TrimSpace(req.AdjustmentID) == "" {
		return repositories.ProductAdjustResult{}, errors.New("product adjust: adjustment id is required")
	}
	if req.Delta == 0 {
		return repositories.ProductAdjustResult{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidAdjustment, "product adjust: delta must be non-zero", nil)
	}

	now := req.Now.UTC()
	var result repositories.ProductAdjustResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
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
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", productID, err)
		}

		previous := doc.Inventory
		next := doc.Inventory + req.Delta
		if next < 0 {
			return &repositories.InventoryError{
				Code:      repositories.InventoryErrorInvalidAdjustment,
				ProductID: productID,
				Message:   fmt.Sprintf("adjustment of %d would drive product %s inventory below zero", req.Delta, productID),
			}
		}
		doc.Inventory = next
		doc.UpdatedAt = now
		doc.recalculate()
		if err := tx.Set(productRef, doc); err != nil {
			return err
		}

		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}
		adjRef := client.Collection(adjustmentsCollection).Doc(strings.TrimSpace(req.AdjustmentID))
		adjDoc := adjustmentDocument{
			ProductRef: productID,
			Delta:      req.Delta,
			Reason:     string(domain.AdjustmentReasonManualAdjust),
			Note:       strings.TrimSpace(req.Note),
			CreatedBy:  strings.TrimSpace(req.ActorID),
			CreatedAt:  now,
		}
		if err := tx.Create(adjRef, adjDoc); err != nil {
			return err
		}

		result = repositories.ProductAdjustResult{
			Product:           doc.toDomain(productID),
			PreviousInventory: previous,
		}
		return nil
	})
	if err != nil {
		return repositories.ProductAdjustResult{}, wrapInventoryError("products.adjust", err)
	}
	return result, nil
}

func (r *ProductRepository) ListLowStock(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	pageSize := pagination.Clamp(pager.PageSize, defaultRepoPageSize, maxRepoPageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, wrapInventoryError("products.lowStock", err)
	}

	query := client.Collection(productsCollection).Query.
		Where("lowStock", "==", true).
		OrderBy("inventory", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		var decoded productPageToken
		if err := pagination.DecodeCursor(token, &decoded); err != nil {
			return domain.CursorPage[domain.Product]{}, wrapInventoryError("products.lowStock", err)
		}
		query = query.StartAfter(decoded.Inventory, decoded.ID)
	}

	return r.collectPage(ctx, query, pageSize, "products.lowStock", func(last domain.Product) productPageToken {
		return productPageToken{ID: last.ID, Inventory: last.Inventory}
	})
}

func (r *ProductRepository) ListOutOfStock(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	pageSize := pagination.Clamp(pager.PageSize, defaultRepoPageSize, maxRepoPageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, wrapInventoryError("products.outOfStock", err)
	}

	query := client.Collection(productsCollection).Query.
		Where("outOfStock", "==", true).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		var decoded productPageToken
		if err := pagination.DecodeCursor(token, &decoded); err != nil {
			return domain.CursorPage[domain.Product]{}, wrapInventoryError("products.outOfStock", err)
		}
		query = query.StartAfter(decoded.ID)
	}

	return r.collectPage(ctx, query, pageSize, "products.outOfStock", func(last domain.Product) productPageToken {
		return productPageToken{ID: last.ID}
	})
}

func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	pageSize := pagination.Clamp(filter.Pagination.PageSize, defaultRepoPageSize, maxRepoPageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, wrapInventoryError("products.list", err)
	}

	query := client.Collection(productsCollection).Query
	if filter.PublishedOnly {
		query = query.Where("published", "==", true)
	}
	query = query.OrderBy(firestore.DocumentID, firestore.Asc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		var decoded productPageToken
		if err := pagination.DecodeCursor(token, &decoded); err != nil {
			return domain.CursorPage[domain.Product]{}, wrapInventoryError("products.list", err)
		}
		query = query.StartAfter(decoded.ID)
	}

	return r.collectPage(ctx, query, pageSize, "products.list", func(last domain.Product) productPageToken {
		return productPageToken{ID: last.ID}
	})
}

func (r *ProductRepository) UpdateEngagement(ctx context.Context, productID string, update repositories.EngagementUpdate) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product engagement: id is required")
	}

	now := update.Now.UTC()
	var updated domain.Product
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
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
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", productID, err)
		}
		doc.ViewCount = update.ViewCount
		doc.CartCount = update.CartCount
		doc.OrderCount = update.OrderCount
		doc.PurchaseCount = update.PurchaseCount
		doc.LastEngagedAt = utcOrNil(update.LastEngagedAt)
		doc.UpdatedAt = now
		if err := tx.Set(productRef, doc); err != nil {
			return err
		}
		updated = doc.toDomain(productID)
		return nil
	})
	if err != nil {
		return domain.Product{}, wrapInventoryError("products.engagement", err)
	}
	return updated, nil
}

func (r *ProductRepository) UpdateScore(ctx context.Context, productID string, score float64, now time.Time) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product score: id is required")
	}

	var updated domain.Product
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
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
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", productID, err)
		}
		doc.PopularityScore = score
		doc.UpdatedAt = now.UTC()
		if err := tx.Set(productRef, doc); err != nil {
			return err
		}
		updated = doc.toDomain(productID)
		return nil
	})
	if err != nil {
		return domain.Product{}, wrapInventoryError("products.score", err)
	}
	return updated, nil
}

func (r *ProductRepository) collectPage(ctx context.Context, query firestore.Query, pageSize int, op string, tokenOf func(domain.Product) productPageToken) (domain.CursorPage[domain.Product], error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	var products []domain.Product
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Product]{}, wrapInventoryError(op, err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products = append(products, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(products) > pageSize
	if hasMore {
		products = products[:pageSize]
	}
	var nextToken string
	if hasMore && len(products) > 0 {
		encoded, err := pagination.EncodeCursor(tokenOf(products[len(products)-1]))
		if err != nil {
			return domain.CursorPage[domain.Product]{}, wrapInventoryError(op, err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Product]{Items: products, NextPageToken: nextToken}, nil
}

// Helper structures ---------------------------------------------------------

type productDocument struct {
	Name              string     `firestore:"name"`
	Price             int64      `firestore:"price"`
	Currency          string     `firestore:"currency"`
	Inventory         int        `firestore:"inventory"`
	LowStockThreshold int        `firestore:"lowStockThreshold"`
	LowStock          bool       `firestore:"lowStock"`
	OutOfStock        bool       `firestore:"outOfStock"`
	ViewCount         int64      `firestore:"viewCount"`
	CartCount         int64      `firestore:"cartCount"`
	OrderCount        int64      `firestore:"orderCount"`
	PurchaseCount     int64      `firestore:"purchaseCount"`
	PopularityScore   float64    `firestore:"popularityScore"`
	Published         bool       `firestore:"published"`
	LastEngagedAt     *time.Time `firestore:"lastEngagedAt,omitempty"`
	CreatedAt         time.Time  `firestore:"createdAt"`
	UpdatedAt         time.Time  `firestore:"updatedAt"`
}

// recalculate keeps the derived stock flags queryable without comparing two
// fields inside a Firestore query.
func (p *productDocument) recalculate() {
	p.OutOfStock = p.Inventory == 0
	p.LowStock = p.Inventory > 0 && p.Inventory <= p.LowStockThreshold
}

func (p productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:                id,
		Name:              strings.TrimSpace(p.Name),
		Price:             p.Price,
		Currency:          strings.TrimSpace(p.Currency),
		Inventory:         p.Inventory,
		LowStockThreshold: p.LowStockThreshold,
		ViewCount:         p.ViewCount,
		CartCount:         p.CartCount,
		OrderCount:        p.OrderCount,
		PurchaseCount:     p.PurchaseCount,
		PopularityScore:   p.PopularityScore,
		Published:         p.Published,
		LastEngagedAt:     p.LastEngagedAt,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

type productPageToken struct {
	ID        string
	Inventory int
}

func utcOrNil(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
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
