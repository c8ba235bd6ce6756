package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewShutdownHandler_Defaults(t *testing.T) {
	h := NewShutdownHandler(nil)
	if h.timeout != 30*time.Second {
		t.Fatalf("expected default timeout, got %v", h.timeout)
	}
	if len(h.signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(h.signals))
	}

	h = NewShutdownHandler(&ShutdownConfig{Timeout: 10 * time.Second})
	if h.timeout != 10*time.Second {
		t.Fatalf("expected 10s timeout, got %v", h.timeout)
	}
	if len(h.signals) != 2 {
		t.Fatalf("expected default signals when none are given, got %d", len(h.signals))
	}
}

func TestShutdownHandler_HookPriority(t *testing.T) {
	h := NewShutdownHandler(nil)

	h.RegisterHook("low", 100, func(ctx context.Context) error { return nil })
	h.RegisterHook("high", 10, func(ctx context.Context) error { return nil })
	h.RegisterHook("mid", 50, func(ctx context.Context) error { return nil })

	want := []string{"high", "mid", "low"}
	for i, name := range want {
		if h.hooks[i].Name != name {
			t.Fatalf("position %d: expected %s, got %s", i, name, h.hooks[i].Name)
		}
	}
}

func TestShutdownHandler_RunsHooksInOrder(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: 5 * time.Second})

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}
	h.Add(TracingShutdownHook(record("tracing")))
	h.Add(StoreShutdownHook("vector-store", func() error { return record("vector-store")(context.Background()) }))
	h.Add(HTTPServerShutdownHook("http", record("http")))

	h.Start()
	h.Shutdown()
	if !h.WaitWithTimeout(2 * time.Second) {
		t.Fatal("shutdown timed out")
	}

	want := []string{"http", "vector-store", "tracing"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestShutdownHandler_HookErrorDoesNotStopOthers(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: 5 * time.Second})

	called := false
	h.RegisterHook("failing", 10, func(ctx context.Context) error { return errors.New("hook failed") })
	h.RegisterHook("after", 20, func(ctx context.Context) error {
		called = true
		return nil
	})

	h.Start()
	h.Shutdown()
	h.Wait()

	if !called {
		t.Fatal("expected second hook to be called despite first failing")
	}
}

func TestShutdownHandler_StoppingClosesBeforeHooksFinish(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: 5 * time.Second})
	release := make(chan struct{})
	h.RegisterHook("slow", 10, func(ctx context.Context) error {
		<-release
		return nil
	})

	h.Start()
	h.Shutdown()

	select {
	case <-h.Stopping():
	case <-time.After(2 * time.Second):
		t.Fatal("expected Stopping to close")
	}
	if h.WaitWithTimeout(50 * time.Millisecond) {
		t.Fatal("expected hooks still running")
	}
	close(release)
	if !h.WaitWithTimeout(2 * time.Second) {
		t.Fatal("expected shutdown to complete")
	}
}

func TestShutdownHandler_StartAndShutdownAreIdempotent(t *testing.T) {
	h := NewShutdownHandler(nil)
	h.Shutdown() // before Start: no-op

	h.Start()
	h.Start()
	h.Shutdown()
	h.Shutdown()
	if !h.WaitWithTimeout(2 * time.Second) {
		t.Fatal("shutdown timed out")
	}
}

func TestShutdownHooks(t *testing.T) {
	tests := []struct {
		hook     ShutdownHook
		name     string
		priority int
	}{
		{HTTPServerShutdownHook("api", func(context.Context) error { return nil }), "api", 10},
		{StoreShutdownHook("redis", func() error { return nil }), "redis", 50},
		{TracingShutdownHook(func(context.Context) error { return nil }), "tracing", 80},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.hook.Name != tt.name || tt.hook.Priority != tt.priority {
				t.Errorf("expected %s/%d, got %s/%d", tt.name, tt.priority, tt.hook.Name, tt.hook.Priority)
			}
			if err := tt.hook.Fn(context.Background()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
