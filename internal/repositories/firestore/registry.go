package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/merchlane/ordercore/internal/platform/firestore"
	"github.com/merchlane/ordercore/internal/repositories"
)

// Registry wires the Firestore-backed repositories behind a single handle.
// Multi-document atomicity lives inside the individual repositories, so
// RunInTx only scopes the callback.
type Registry struct {
	provider    *pfirestore.Provider
	products    *ProductRepository
	orders      *OrderRepository
	adjustments *AdjustmentRepository
	activity    *ActivityRepository
	counters    *CounterRepository
	health      repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	adjustments, err := NewAdjustmentRepository(provider)
	if err != nil {
		return nil, err
	}
	activity, err := NewActivityRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "firestore", Check: firestorePing(provider)},
	})
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:    provider,
		products:    products,
		orders:      orders,
		adjustments: adjustments,
		activity:    activity,
		counters:    counters,
		health:      health,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Products() repositories.ProductRepository       { return r.products }
func (r *Registry) Orders() repositories.OrderRepository           { return r.orders }
func (r *Registry) Adjustments() repositories.AdjustmentRepository { return r.adjustments }
func (r *Registry) Activity() repositories.ActivityRepository      { return r.activity }
func (r *Registry) Counters() repositories.CounterRepository       { return r.counters }
func (r *Registry) Health() repositories.HealthRepository          { return r.health }

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction callback is required")
	}
	return fn(ctx)
}

func firestorePing(provider *pfirestore.Provider) func(context.Context) error {
	return func(ctx context.Context) error {
		client, err := provider.Client(ctx)
		if err != nil {
			return err
		}
		_, err = client.Collection(countersCollection).Doc("healthcheck").Get(ctx)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		return nil
	}
}
