package di

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/merchlane/ordercore/internal/platform/config"
	"github.com/merchlane/ordercore/internal/repositories"
	"github.com/merchlane/ordercore/internal/services"
)

// stubRegistry satisfies the registry contract with inert repositories.
// Container construction only checks wiring, so the embedded interfaces are
// never invoked.
type stubRegistry struct{}

type stubProducts struct{ repositories.ProductRepository }
type stubOrders struct{ repositories.OrderRepository }
type stubAdjustments struct {
	repositories.AdjustmentRepository
}
type stubActivity struct {
	repositories.ActivityRepository
}
type stubCounters struct{ repositories.CounterRepository }
type stubHealth struct{ repositories.HealthRepository }

func (stubRegistry) Close(context.Context) error                    { return nil }
func (stubRegistry) Products() repositories.ProductRepository       { return stubProducts{} }
func (stubRegistry) Orders() repositories.OrderRepository           { return stubOrders{} }
func (stubRegistry) Adjustments() repositories.AdjustmentRepository { return stubAdjustments{} }
func (stubRegistry) Activity() repositories.ActivityRepository      { return stubActivity{} }
func (stubRegistry) Counters() repositories.CounterRepository       { return stubCounters{} }
func (stubRegistry) Health() repositories.HealthRepository          { return stubHealth{} }
func (stubRegistry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	_, err := NewContainer(context.Background(), ContainerDeps{})
	if err == nil {
		t.Fatal("expected error for missing registry")
	}
}

func TestNewContainerWiresAllServices(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

	container, err := NewContainer(context.Background(), ContainerDeps{
		Config: config.Config{
			Orders:  config.OrdersConfig{PendingDwell: 5 * time.Minute, SweepBatchSize: 200},
			Updates: config.UpdatesConfig{ChunkSize: 250},
		},
		Repositories: stubRegistry{},
		Build:        services.BuildInfo{Version: "1.0.0", Environment: "test", StartedAt: now},
		Clock:        func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new container: %v", err)
	}

	svcs := container.Services
	if svcs.Inventory == nil {
		t.Error("inventory service not wired")
	}
	if svcs.Orders == nil {
		t.Error("order service not wired")
	}
	if svcs.Engagement == nil {
		t.Error("engagement service not wired")
	}
	if svcs.Scoring == nil {
		t.Error("scoring service not wired")
	}
	if svcs.Updates == nil {
		t.Error("update tracker not wired")
	}
	if svcs.Counters == nil {
		t.Error("counter service not wired")
	}
	if svcs.System == nil {
		t.Error("system service not wired")
	}
	if container.Lifecycle == nil {
		t.Error("lifecycle dispatcher not wired")
	}

	status := svcs.Updates.Status()
	if status.LastFullUpdateAt != nil {
		t.Errorf("expected no completed update, got %v", status.LastFullUpdateAt)
	}

	if err := container.Close(context.Background()); err != nil {
		t.Fatalf("close container: %v", err)
	}
}

type fakeTracker struct {
	status   services.UpdateStatus
	forceErr error
	pending  []string
	cleared  []string
	forced   int
}

func (f *fakeTracker) Status() services.UpdateStatus { return f.status }

func (f *fakeTracker) ForceFullUpdate(context.Context) (services.FullUpdateResult, error) {
	f.forced++
	return services.FullUpdateResult{}, f.forceErr
}

func (f *fakeTracker) MarkPending(productIDs ...string) {
	f.pending = append(f.pending, productIDs...)
}

func (f *fakeTracker) ClearPending(productIDs ...string) {
	f.cleared = append(f.cleared, productIDs...)
}

func TestTrackerRelayUnbound(t *testing.T) {
	relay := &trackerRelay{}

	relay.MarkPending("prod_001")
	relay.ClearPending("prod_001")

	if status := relay.Status(); status.InProgress || status.PendingCount != 0 {
		t.Errorf("expected zero status, got %+v", status)
	}
	if _, err := relay.ForceFullUpdate(context.Background()); err == nil {
		t.Fatal("expected error from unbound relay")
	}
}

func TestTrackerRelayDelegates(t *testing.T) {
	inner := &fakeTracker{
		status:   services.UpdateStatus{InProgress: true, PendingCount: 3},
		forceErr: errors.New("busy"),
	}
	relay := &trackerRelay{}
	relay.bind(inner)

	relay.MarkPending("prod_001", "prod_002")
	if len(inner.pending) != 2 {
		t.Fatalf("expected 2 pending marks, got %d", len(inner.pending))
	}

	relay.ClearPending("prod_001")
	if len(inner.cleared) != 1 || inner.cleared[0] != "prod_001" {
		t.Fatalf("expected cleared prod_001, got %v", inner.cleared)
	}

	if status := relay.Status(); !status.InProgress || status.PendingCount != 3 {
		t.Errorf("unexpected status %+v", status)
	}

	if _, err := relay.ForceFullUpdate(context.Background()); err == nil || err.Error() != "busy" {
		t.Errorf("expected delegated error, got %v", err)
	}
	if inner.forced != 1 {
		t.Errorf("expected 1 forced update, got %d", inner.forced)
	}
}
