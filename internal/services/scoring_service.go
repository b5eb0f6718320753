package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/merchlane/ordercore/internal/repositories"
)

const (
	scoreWeightOrders    = 12.0
	scoreWeightPurchases = 8.0
	scoreWeightCarts     = 2.0
	scoreWeightViews     = 1.0

	recencyBonusMax     = 10.0
	recencyHalfLifeDays = 14.0
	defaultSimilarLimit = 10
	maxSimilarLimit     = 50
	scoreFloor          = 0.0
	scoreCeiling        = 100.0
)

var (
	// ErrScoringInvalidInput signals the caller provided invalid arguments.
	ErrScoringInvalidInput = errors.New("scoring: invalid input")
)

// ScoringServiceDeps bundles the collaborators required to construct a scoring service.
type ScoringServiceDeps struct {
	Products  repositories.ProductRepository
	Tracker   UpdateTracker
	ChunkSize int
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type scoringService struct {
	products  repositories.ProductRepository
	tracker   UpdateTracker
	chunkSize int
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewScoringService wires dependencies into a concrete ScoringService implementation.
func NewScoringService(deps ScoringServiceDeps) (ScoringService, error) {
	if deps.Products == nil {
		return nil, errors.New("scoring service: product repository is required")
	}

	chunkSize := deps.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 250
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &scoringService{
		products:  deps.Products,
		tracker:   deps.Tracker,
		chunkSize: chunkSize,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *scoringService) UpdateAllProductScores(ctx context.Context) (ScoreUpdateResult, error) {
	var result ScoreUpdateResult
	pageToken := ""
	for {
		page, err := s.products.List(ctx, repositories.ProductListFilter{
			Pagination: Pagination{PageSize: s.chunkSize, PageToken: pageToken},
		})
		if err != nil {
			return result, fmt.Errorf("scoring service: list products: %w", err)
		}

		for _, product := range page.Items {
			result.Products++
			if s.updateOne(ctx, product) {
				result.Updated++
			} else {
				result.Failed++
			}
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	s.logger(ctx, "scoring.update.completed", map[string]any{
		"products": result.Products,
		"updated":  result.Updated,
		"failed":   result.Failed,
	})

	return result, nil
}

func (s *scoringService) TriggerManualUpdate(ctx context.Context, productIDs []string) (ScoreUpdateResult, error) {
	ids := make([]string, 0, len(productIDs))
	seen := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return ScoreUpdateResult{}, fmt.Errorf("%w: at least one product id is required", ErrScoringInvalidInput)
	}

	var result ScoreUpdateResult
	refreshed := make([]string, 0, len(ids))
	for _, id := range ids {
		product, err := s.products.FindByID(ctx, id)
		if err != nil {
			var invErr *repositories.InventoryError
			if errors.As(err, &invErr) && invErr.Code == repositories.InventoryErrorProductNotFound {
				result.UnknownIDs = append(result.UnknownIDs, id)
				continue
			}
			result.Products++
			result.Failed++
			continue
		}

		result.Products++
		if s.updateOne(ctx, product) {
			result.Updated++
			refreshed = append(refreshed, id)
		} else {
			result.Failed++
		}
	}

	// Refreshed products no longer need the next full pass.
	if s.tracker != nil && len(refreshed) > 0 {
		s.tracker.ClearPending(refreshed...)
	}

	return result, nil
}

func (s *scoringService) GetSimilarProducts(ctx context.Context, query SimilarProductsQuery) ([]Product, error) {
	productID := strings.TrimSpace(query.ProductID)
	if productID == "" {
		return nil, fmt.Errorf("%w: product id is required", ErrScoringInvalidInput)
	}

	limit := query.Limit
	if limit <= 0 {
		limit = defaultSimilarLimit
	}
	if limit > maxSimilarLimit {
		limit = maxSimilarLimit
	}

	source, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return nil, mapInventoryRepositoryError(err)
	}

	type candidate struct {
		product    Product
		similarity float64
	}

	var candidates []candidate
	pageToken := ""
	for {
		page, err := s.products.List(ctx, repositories.ProductListFilter{
			PublishedOnly: true,
			Pagination:    Pagination{PageSize: s.chunkSize, PageToken: pageToken},
		})
		if err != nil {
			return nil, fmt.Errorf("scoring service: list products: %w", err)
		}

		for _, product := range page.Items {
			if product.ID == source.ID {
				continue
			}
			candidates = append(candidates, candidate{
				product:    product,
				similarity: similarityScore(source, product),
			})
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].similarity != candidates[j].similarity {
			return candidates[i].similarity > candidates[j].similarity
		}
		return candidates[i].product.ID < candidates[j].product.ID
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	similar := make([]Product, len(candidates))
	for i, c := range candidates {
		similar[i] = c.product
	}
	return similar, nil
}

func (s *scoringService) updateOne(ctx context.Context, product Product) bool {
	now := s.clock()
	score := popularityScore(product, now)
	if _, err := s.products.UpdateScore(ctx, product.ID, score, now); err != nil {
		s.logger(ctx, "scoring.update.failed", map[string]any{
			"productId": product.ID,
			"error":     err.Error(),
		})
		return false
	}
	return true
}

// popularityScore is a bounded log-damped sum over the engagement counters
// plus a recency bonus that halves every fourteen days since the last
// engagement. Monotonic in every counter.
func popularityScore(product Product, now time.Time) float64 {
	score := scoreWeightOrders*math.Log1p(float64(product.OrderCount)) +
		scoreWeightPurchases*math.Log1p(float64(product.PurchaseCount)) +
		scoreWeightCarts*math.Log1p(float64(product.CartCount)) +
		scoreWeightViews*math.Log1p(float64(product.ViewCount))

	if product.LastEngagedAt != nil {
		ageDays := now.Sub(*product.LastEngagedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		score += recencyBonusMax * math.Exp2(-ageDays/recencyHalfLifeDays)
	}

	if score < scoreFloor {
		return scoreFloor
	}
	if score > scoreCeiling {
		return scoreCeiling
	}
	return score
}

// similarityScore ranks candidates by popularity-score proximity, weighted by
// how closely the two engagement profiles point in the same direction.
func similarityScore(source, candidate Product) float64 {
	proximity := 1 / (1 + math.Abs(source.PopularityScore-candidate.PopularityScore))
	overlap := engagementOverlap(source, candidate)
	return proximity * (0.5 + 0.5*overlap)
}

// engagementOverlap is the cosine similarity of the log-damped engagement
// vectors. Products with no engagement at all overlap with nothing.
func engagementOverlap(a, b Product) float64 {
	va := engagementVector(a)
	vb := engagementVector(b)

	var dot, normA, normB float64
	for i := range va {
		dot += va[i] * vb[i]
		normA += va[i] * va[i]
		normB += vb[i] * vb[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func engagementVector(p Product) [4]float64 {
	return [4]float64{
		math.Log1p(float64(p.ViewCount)),
		math.Log1p(float64(p.CartCount)),
		math.Log1p(float64(p.OrderCount)),
		math.Log1p(float64(p.PurchaseCount)),
	}
}
