package di

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/merchlane/ordercore/internal/platform/config"
	"github.com/merchlane/ordercore/internal/repositories"
	"github.com/merchlane/ordercore/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Inventory  services.InventoryService
	Orders     services.OrderService
	Engagement services.EngagementService
	Scoring    services.ScoringService
	Updates    services.UpdateTracker
	Counters   services.CounterService
	System     services.SystemService
}

// ContainerDeps carries the externally constructed collaborators. Publishers
// are optional; events are dropped when nil.
type ContainerDeps struct {
	Config          config.Config
	Repositories    repositories.Registry
	OrderEvents     services.OrderEventPublisher
	InventoryEvents services.InventoryEventPublisher
	Build           services.BuildInfo
	Clock           func() time.Time
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Lifecycle    *services.AsyncLifecycleDispatcher
}

// NewContainer constructs the runtime dependencies. Production wiring provides the
// Firestore-backed registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, deps ContainerDeps) (*Container, error) {
	if deps.Repositories == nil {
		return nil, errors.New("repositories registry is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	reg := deps.Repositories
	cfg := deps.Config

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      clock,
	})
	if err != nil {
		return nil, fmt.Errorf("build counter service: %w", err)
	}

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Products:    reg.Products(),
		Adjustments: reg.Adjustments(),
		Events:      deps.InventoryEvents,
		Clock:       clock,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build inventory service: %w", err)
	}

	// Engagement and scoring mark or clear pending products on the tracker,
	// and the tracker drives their recompute passes. The relay breaks the
	// cycle: both are built against the relay, the tracker is bound afterwards.
	relay := &trackerRelay{}

	scoringSvc, err := services.NewScoringService(services.ScoringServiceDeps{
		Products:  reg.Products(),
		Tracker:   relay,
		ChunkSize: cfg.Updates.ChunkSize,
		Clock:     clock,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build scoring service: %w", err)
	}

	engagementSvc, err := services.NewEngagementService(services.EngagementServiceDeps{
		Products:  reg.Products(),
		Orders:    reg.Orders(),
		Activity:  reg.Activity(),
		Tracker:   relay,
		ChunkSize: cfg.Updates.ChunkSize,
		Clock:     clock,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build engagement service: %w", err)
	}

	tracker, err := services.NewUpdateTracker(services.UpdateTrackerDeps{
		Engagement: engagementSvc,
		Scoring:    scoringSvc,
		Clock:      clock,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build update tracker: %w", err)
	}
	relay.bind(tracker)

	dispatcher := services.NewLifecycleDispatcher(services.LifecycleDispatcherDeps{
		Logger: logger,
	})

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:          reg.Orders(),
		Counters:        counterSvc,
		Events:          deps.OrderEvents,
		InventoryEvents: deps.InventoryEvents,
		Lifecycle:       dispatcher,
		PendingDwell:    cfg.Orders.PendingDwell,
		SweepBatchSize:  cfg.Orders.SweepBatchSize,
		Clock:           clock,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build order service: %w", err)
	}
	dispatcher.Bind(orderSvc.ProcessOrderLifecycle)

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            clock,
		Build:            deps.Build,
		Counters:         counterSvc,
	})
	if err != nil {
		return nil, fmt.Errorf("build system service: %w", err)
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services: Services{
			Inventory:  inventorySvc,
			Orders:     orderSvc,
			Engagement: engagementSvc,
			Scoring:    scoringSvc,
			Updates:    tracker,
			Counters:   counterSvc,
			System:     systemSvc,
		},
		Lifecycle: dispatcher,
	}, nil
}

// Close drains the lifecycle dispatcher and releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Lifecycle != nil {
		if err := c.Lifecycle.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close lifecycle dispatcher: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

// trackerRelay forwards UpdateTracker calls to the tracker bound after
// construction. Unbound calls degrade to no-ops.
type trackerRelay struct {
	mu    sync.RWMutex
	inner services.UpdateTracker
}

func (r *trackerRelay) bind(tracker services.UpdateTracker) {
	r.mu.Lock()
	r.inner = tracker
	r.mu.Unlock()
}

func (r *trackerRelay) tracker() services.UpdateTracker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inner
}

func (r *trackerRelay) Status() services.UpdateStatus {
	if t := r.tracker(); t != nil {
		return t.Status()
	}
	return services.UpdateStatus{}
}

func (r *trackerRelay) ForceFullUpdate(ctx context.Context) (services.FullUpdateResult, error) {
	if t := r.tracker(); t != nil {
		return t.ForceFullUpdate(ctx)
	}
	return services.FullUpdateResult{}, errors.New("update tracker not bound")
}

func (r *trackerRelay) MarkPending(productIDs ...string) {
	if t := r.tracker(); t != nil {
		t.MarkPending(productIDs...)
	}
}

func (r *trackerRelay) ClearPending(productIDs ...string) {
	if t := r.tracker(); t != nil {
		t.ClearPending(productIDs...)
	}
}

var _ services.UpdateTracker = (*trackerRelay)(nil)
