package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLifecycleDispatcherRunsBoundHandler(t *testing.T) {
	dispatcher := NewLifecycleDispatcher(LifecycleDispatcherDeps{})

	var mu sync.Mutex
	var handled []string
	dispatcher.Bind(func(_ context.Context, orderID string) error {
		mu.Lock()
		handled = append(handled, orderID)
		mu.Unlock()
		return nil
	})

	dispatcher.DispatchLifecycle(context.Background(), "ord_1")
	dispatcher.DispatchLifecycle(context.Background(), "ord_2")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dispatcher.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(handled) != 2 {
		t.Fatalf("expected 2 dispatches handled, got %d", len(handled))
	}
}

func TestLifecycleDispatcherDropsWhenUnbound(t *testing.T) {
	var mu sync.Mutex
	var events []string
	dispatcher := NewLifecycleDispatcher(LifecycleDispatcherDeps{
		Logger: func(_ context.Context, event string, _ map[string]any) {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
		},
	})

	dispatcher.DispatchLifecycle(context.Background(), "ord_1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := dispatcher.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0] != "order.lifecycle.dispatch.dropped" {
		t.Fatalf("expected dropped log, got %+v", events)
	}
}

func TestLifecycleDispatcherSurvivesCancelledCaller(t *testing.T) {
	dispatcher := NewLifecycleDispatcher(LifecycleDispatcherDeps{})

	done := make(chan struct{})
	dispatcher.Bind(func(ctx context.Context, orderID string) error {
		defer close(done)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
			return nil
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.DispatchLifecycle(ctx, "ord_1")
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("handler never completed after caller cancellation")
	}
}

func TestLifecycleDispatcherLogsHandlerFailures(t *testing.T) {
	var mu sync.Mutex
	var events []string
	dispatcher := NewLifecycleDispatcher(LifecycleDispatcherDeps{
		Logger: func(_ context.Context, event string, _ map[string]any) {
			mu.Lock()
			events = append(events, event)
			mu.Unlock()
		},
	})
	dispatcher.Bind(func(context.Context, string) error {
		return errors.New("transition failed")
	})

	dispatcher.DispatchLifecycle(context.Background(), "ord_1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dispatcher.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0] != "order.lifecycle.dispatch.failed" {
		t.Fatalf("expected failure log, got %+v", events)
	}
}

func TestLifecycleDispatcherCloseHonoursDeadline(t *testing.T) {
	release := make(chan struct{})
	dispatcher := NewLifecycleDispatcher(LifecycleDispatcherDeps{Timeout: time.Minute})
	dispatcher.Bind(func(context.Context, string) error {
		<-release
		return nil
	})

	dispatcher.DispatchLifecycle(context.Background(), "ord_1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := dispatcher.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	close(release)
	if err := dispatcher.Close(context.Background()); err != nil {
		t.Fatalf("close after release: %v", err)
	}
}
