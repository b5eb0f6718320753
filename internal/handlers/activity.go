package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/merchlane/ordercore/internal/platform/httpx"
	"github.com/merchlane/ordercore/internal/services"
)

const (
	defaultActivityRateLimit  = 120
	defaultActivityRateWindow = time.Minute
)

// ActivityHandlers ingests shopper activity events and serves per-product
// activity feeds.
type ActivityHandlers struct {
	engagement services.EngagementService
	limiter    rateLimiter
}

// ActivityOption customises ActivityHandlers construction.
type ActivityOption func(*ActivityHandlers)

// WithActivityRateLimiter overrides the per-actor ingestion rate limiter.
// Passing nil disables rate limiting.
func WithActivityRateLimiter(limiter rateLimiter) ActivityOption {
	return func(h *ActivityHandlers) {
		h.limiter = limiter
	}
}

// NewActivityHandlers constructs a new ActivityHandlers instance with a
// default per-actor rate limit.
func NewActivityHandlers(engagement services.EngagementService, opts ...ActivityOption) *ActivityHandlers {
	h := &ActivityHandlers{
		engagement: engagement,
		limiter:    newSimpleRateLimiter(defaultActivityRateLimit, defaultActivityRateWindow, time.Now),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /activity endpoints.
func (h *ActivityHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.recordActivity)
	r.Get("/products/{productID}", h.listProductActivity)
}

type recordActivityRequest struct {
	ProductID string  `json:"product_id"`
	Type      string  `json:"type"`
	UserID    *string `json:"user_id"`
	SessionID *string `json:"session_id"`
}

type activityPayload struct {
	ID         string  `json:"id"`
	ProductID  string  `json:"product_id"`
	Type       string  `json:"type"`
	UserID     *string `json:"user_id,omitempty"`
	SessionID  *string `json:"session_id,omitempty"`
	OccurredAt string  `json:"occurred_at"`
}

type activityListResponse struct {
	Items         []activityPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

func (h *ActivityHandlers) recordActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.engagement == nil {
		httpx.WriteError(ctx, w, httpx.NewError("activity_service_unavailable", "activity service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req recordActivityRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if h.limiter != nil && !h.limiter.Allow(activityRateKey(req)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many activity events, retry later", http.StatusTooManyRequests))
		return
	}

	event, err := h.engagement.RecordActivity(ctx, services.RecordActivityCommand{
		ProductID: req.ProductID,
		Type:      req.Type,
		UserID:    req.UserID,
		SessionID: req.SessionID,
	})
	if err != nil {
		writeActivityError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, buildActivityPayload(event))
}

func (h *ActivityHandlers) listProductActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.engagement == nil {
		httpx.WriteError(ctx, w, httpx.NewError("activity_service_unavailable", "activity service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	pager, err := parsePagination(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.engagement.ListProductActivity(ctx, productID, pager)
	if err != nil {
		writeActivityError(ctx, w, err)
		return
	}

	items := make([]activityPayload, 0, len(page.Items))
	for _, event := range page.Items {
		items = append(items, buildActivityPayload(event))
	}
	writeJSONResponse(w, http.StatusOK, activityListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

// activityRateKey buckets ingestion by authenticated user, then session, then
// a shared anonymous bucket.
func activityRateKey(req recordActivityRequest) string {
	if req.UserID != nil {
		if key := strings.TrimSpace(*req.UserID); key != "" {
			return "user:" + key
		}
	}
	if req.SessionID != nil {
		if key := strings.TrimSpace(*req.SessionID); key != "" {
			return "session:" + key
		}
	}
	return "anonymous"
}

func buildActivityPayload(event services.ActivityEvent) activityPayload {
	return activityPayload{
		ID:         event.ID,
		ProductID:  event.ProductID,
		Type:       string(event.Type),
		UserID:     event.UserID,
		SessionID:  event.SessionID,
		OccurredAt: formatTime(event.OccurredAt),
	}
}

func writeActivityError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrActivityInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("activity_error", "failed to process activity request", http.StatusInternalServerError))
	}
}
