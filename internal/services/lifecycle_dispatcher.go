package services

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	defaultLifecycleTimeout     = 10 * time.Second
	defaultLifecycleConcurrency = 8
)

// LifecycleDispatcherDeps bundles configuration for the async lifecycle dispatcher.
type LifecycleDispatcherDeps struct {
	Timeout     time.Duration
	Concurrency int
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// AsyncLifecycleDispatcher runs order lifecycle kickoffs on background
// goroutines, detached from the request context. The handler is bound after
// construction because the order service and the dispatcher reference each
// other.
type AsyncLifecycleDispatcher struct {
	timeout time.Duration
	sem     chan struct{}
	logger  func(context.Context, string, map[string]any)

	mu      sync.RWMutex
	handler func(ctx context.Context, orderID string) error

	wg sync.WaitGroup
}

// NewLifecycleDispatcher constructs an unbound dispatcher. Call Bind before
// the first dispatch; unbound dispatches are dropped with a log line.
func NewLifecycleDispatcher(deps LifecycleDispatcherDeps) *AsyncLifecycleDispatcher {
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultLifecycleTimeout
	}

	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = defaultLifecycleConcurrency
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &AsyncLifecycleDispatcher{
		timeout: timeout,
		sem:     make(chan struct{}, concurrency),
		logger:  logger,
	}
}

// Bind attaches the transition handler, normally OrderService.ProcessOrderLifecycle.
func (d *AsyncLifecycleDispatcher) Bind(handler func(ctx context.Context, orderID string) error) {
	d.mu.Lock()
	d.handler = handler
	d.mu.Unlock()
}

func (d *AsyncLifecycleDispatcher) DispatchLifecycle(ctx context.Context, orderID string) {
	d.mu.RLock()
	handler := d.handler
	d.mu.RUnlock()

	if handler == nil {
		d.logger(ctx, "order.lifecycle.dispatch.dropped", map[string]any{
			"orderId": orderID,
			"reason":  "dispatcher not bound",
		})
		return
	}

	// Detach from the request lifetime but keep its values for tracing.
	detached := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		runCtx, cancel := context.WithTimeout(detached, d.timeout)
		defer cancel()

		if err := handler(runCtx, orderID); err != nil && !errors.Is(err, context.Canceled) {
			d.logger(runCtx, "order.lifecycle.dispatch.failed", map[string]any{
				"orderId": orderID,
				"error":   err.Error(),
			})
		}
	}()
}

// Close waits for in-flight dispatches to finish.
func (d *AsyncLifecycleDispatcher) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ LifecycleDispatcher = (*AsyncLifecycleDispatcher)(nil)
