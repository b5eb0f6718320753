package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrUpdateAlreadyInProgress indicates a full update pass is running; callers
// must retry later rather than queue.
var ErrUpdateAlreadyInProgress = errors.New("updates: full update already in progress")

// UpdateTrackerDeps bundles the collaborators required to construct an update tracker.
type UpdateTrackerDeps struct {
	Engagement EngagementService
	Scoring    ScoringService
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// updateTracker coordinates full metric/score refresh passes. State is held
// in memory only and resets on restart.
type updateTracker struct {
	engagement EngagementService
	scoring    ScoringService
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)

	mu               sync.Mutex
	inProgress       bool
	lastFullUpdateAt *time.Time
	pending          map[string]struct{}
}

// NewUpdateTracker wires dependencies into a concrete UpdateTracker implementation.
func NewUpdateTracker(deps UpdateTrackerDeps) (UpdateTracker, error) {
	if deps.Engagement == nil {
		return nil, errors.New("update tracker: engagement service is required")
	}
	if deps.Scoring == nil {
		return nil, errors.New("update tracker: scoring service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &updateTracker{
		engagement: deps.Engagement,
		scoring:    deps.Scoring,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:  logger,
		pending: make(map[string]struct{}),
	}, nil
}

func (t *updateTracker) Status() UpdateStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := UpdateStatus{
		InProgress:   t.inProgress,
		PendingCount: len(t.pending),
	}
	if t.lastFullUpdateAt != nil {
		at := *t.lastFullUpdateAt
		status.LastFullUpdateAt = &at
		since := t.clock().Sub(at)
		status.TimeSinceLastUpdate = &since
	}
	return status
}

func (t *updateTracker) MarkPending(productIDs ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		t.pending[id] = struct{}{}
	}
}

func (t *updateTracker) ClearPending(productIDs ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range productIDs {
		delete(t.pending, strings.TrimSpace(id))
	}
}

// ForceFullUpdate runs the engagement recompute followed by the scoring pass.
// A concurrent call fails fast; the pending set is drained because the full
// pass covers every product.
func (t *updateTracker) ForceFullUpdate(ctx context.Context) (FullUpdateResult, error) {
	t.mu.Lock()
	if t.inProgress {
		t.mu.Unlock()
		return FullUpdateResult{}, ErrUpdateAlreadyInProgress
	}
	t.inProgress = true
	t.pending = make(map[string]struct{})
	startedAt := t.clock()
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.inProgress = false
		t.mu.Unlock()
	}()

	recalc, err := t.engagement.RecalculateAllProductMetrics(ctx)
	if err != nil {
		t.logger(ctx, "updates.full.recalculate.failed", map[string]any{"error": err.Error()})
		return FullUpdateResult{Recalculate: recalc, StartedAt: startedAt}, err
	}

	scores, err := t.scoring.UpdateAllProductScores(ctx)
	if err != nil {
		t.logger(ctx, "updates.full.scores.failed", map[string]any{"error": err.Error()})
		return FullUpdateResult{Recalculate: recalc, Scores: scores, StartedAt: startedAt}, err
	}

	finishedAt := t.clock()

	t.mu.Lock()
	t.lastFullUpdateAt = &finishedAt
	t.mu.Unlock()

	t.logger(ctx, "updates.full.completed", map[string]any{
		"recalculated": recalc.Updated,
		"scored":       scores.Updated,
		"durationMs":   finishedAt.Sub(startedAt).Milliseconds(),
	})

	return FullUpdateResult{
		Recalculate: recalc,
		Scores:      scores,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
	}, nil
}

var _ UpdateTracker = (*updateTracker)(nil)
