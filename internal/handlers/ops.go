package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/merchlane/ordercore/internal/platform/httpx"
	"github.com/merchlane/ordercore/internal/services"
)

// OpsHandlers exposes the operator endpoints: lifecycle sweeps, metric
// recomputes, score refreshes, and the full update tracker.
type OpsHandlers struct {
	orders     services.OrderService
	engagement services.EngagementService
	scoring    services.ScoringService
	updates    services.UpdateTracker
}

// OpsHandlersDeps bundles the services behind the operator endpoints. Any
// dependency may be nil; its endpoints then respond with 503.
type OpsHandlersDeps struct {
	Orders     services.OrderService
	Engagement services.EngagementService
	Scoring    services.ScoringService
	Updates    services.UpdateTracker
}

// NewOpsHandlers constructs a new OpsHandlers instance.
func NewOpsHandlers(deps OpsHandlersDeps) *OpsHandlers {
	return &OpsHandlers{
		orders:     deps.Orders,
		engagement: deps.Engagement,
		scoring:    deps.Scoring,
		updates:    deps.Updates,
	}
}

// Routes registers the /ops endpoints.
func (h *OpsHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders:process-pending", h.processPendingOrders)
	r.Post("/orders:ship-processing", h.shipProcessingOrders)
	r.Post("/metrics:recalculate", h.recalculateMetrics)
	r.Post("/scores:update", h.updateScores)
	r.Post("/scores:refresh", h.refreshScores)
	r.Post("/update:force", h.forceFullUpdate)
	r.Get("/update:status", h.updateStatus)
}

type sweepResultPayload struct {
	Eligible     int `json:"eligible"`
	Transitioned int `json:"transitioned"`
	Failed       int `json:"failed"`
}

type recalculateResultPayload struct {
	Products int `json:"products"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
}

type scoreUpdateResultPayload struct {
	Products   int      `json:"products"`
	Updated    int      `json:"updated"`
	Failed     int      `json:"failed"`
	UnknownIDs []string `json:"unknown_ids,omitempty"`
}

type fullUpdateResultPayload struct {
	Recalculate recalculateResultPayload `json:"recalculate"`
	Scores      scoreUpdateResultPayload `json:"scores"`
	StartedAt   string                   `json:"started_at"`
	FinishedAt  string                   `json:"finished_at"`
}

type updateStatusPayload struct {
	LastFullUpdateAt       *string  `json:"last_full_update_at,omitempty"`
	SecondsSinceLastUpdate *float64 `json:"seconds_since_last_update,omitempty"`
	InProgress             bool     `json:"in_progress"`
	PendingCount           int      `json:"pending_count"`
}

func (h *OpsHandlers) processPendingOrders(w http.ResponseWriter, r *http.Request) {
	h.runOrderSweep(w, r, services.OrderService.ProcessPendingOrders)
}

func (h *OpsHandlers) shipProcessingOrders(w http.ResponseWriter, r *http.Request) {
	h.runOrderSweep(w, r, services.OrderService.ShipProcessingOrders)
}

func (h *OpsHandlers) runOrderSweep(w http.ResponseWriter, r *http.Request, sweep func(services.OrderService, context.Context) (services.SweepResult, error)) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("ops_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	result, err := sweep(h.orders, ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("sweep_failed", "failed to run order sweep", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, sweepResultPayload{
		Eligible:     result.Eligible,
		Transitioned: result.Transitioned,
		Failed:       result.Failed,
	})
}

func (h *OpsHandlers) recalculateMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.engagement == nil {
		httpx.WriteError(ctx, w, httpx.NewError("ops_service_unavailable", "engagement service unavailable", http.StatusServiceUnavailable))
		return
	}

	result, err := h.engagement.RecalculateAllProductMetrics(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("recalculate_failed", "failed to recalculate product metrics", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, buildRecalculatePayload(result))
}

func (h *OpsHandlers) updateScores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.scoring == nil {
		httpx.WriteError(ctx, w, httpx.NewError("ops_service_unavailable", "scoring service unavailable", http.StatusServiceUnavailable))
		return
	}

	result, err := h.scoring.UpdateAllProductScores(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("score_update_failed", "failed to update product scores", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, buildScoreUpdatePayload(result))
}

type refreshScoresRequest struct {
	ProductIDs []string `json:"product_ids"`
}

func (h *OpsHandlers) refreshScores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.scoring == nil {
		httpx.WriteError(ctx, w, httpx.NewError("ops_service_unavailable", "scoring service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req refreshScoresRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	result, err := h.scoring.TriggerManualUpdate(ctx, req.ProductIDs)
	if err != nil {
		if errors.Is(err, services.ErrScoringInvalidInput) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("score_update_failed", "failed to refresh product scores", http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusOK, buildScoreUpdatePayload(result))
}

func (h *OpsHandlers) forceFullUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.updates == nil {
		httpx.WriteError(ctx, w, httpx.NewError("ops_service_unavailable", "update tracker unavailable", http.StatusServiceUnavailable))
		return
	}

	result, err := h.updates.ForceFullUpdate(ctx)
	if err != nil {
		if errors.Is(err, services.ErrUpdateAlreadyInProgress) {
			httpx.WriteError(ctx, w, httpx.NewError("update_in_progress", "a full update is already running", http.StatusConflict))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("full_update_failed", "failed to run full update", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, fullUpdateResultPayload{
		Recalculate: buildRecalculatePayload(result.Recalculate),
		Scores:      buildScoreUpdatePayload(result.Scores),
		StartedAt:   formatTime(result.StartedAt),
		FinishedAt:  formatTime(result.FinishedAt),
	})
}

func (h *OpsHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.updates == nil {
		httpx.WriteError(ctx, w, httpx.NewError("ops_service_unavailable", "update tracker unavailable", http.StatusServiceUnavailable))
		return
	}

	status := h.updates.Status()
	payload := updateStatusPayload{
		InProgress:   status.InProgress,
		PendingCount: status.PendingCount,
	}
	if status.LastFullUpdateAt != nil {
		formatted := formatTime(*status.LastFullUpdateAt)
		payload.LastFullUpdateAt = &formatted
	}
	if status.TimeSinceLastUpdate != nil {
		seconds := status.TimeSinceLastUpdate.Seconds()
		payload.SecondsSinceLastUpdate = &seconds
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func buildRecalculatePayload(result services.RecalculateResult) recalculateResultPayload {
	return recalculateResultPayload{
		Products: result.Products,
		Updated:  result.Updated,
		Failed:   result.Failed,
	}
}

func buildScoreUpdatePayload(result services.ScoreUpdateResult) scoreUpdateResultPayload {
	return scoreUpdateResultPayload{
		Products:   result.Products,
		Updated:    result.Updated,
		Failed:     result.Failed,
		UnknownIDs: result.UnknownIDs,
	}
}
