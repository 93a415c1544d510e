package mcp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

func TestLifecycleSingleInit(t *testing.T) {
	var inits atomic.Int32
	l := NewLifecycle(func(context.Context) error {
		inits.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Ensure(context.Background()); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if got := inits.Load(); got != 1 {
		t.Fatalf("init ran %d times, want 1", got)
	}
	if l.State() != "running" {
		t.Fatalf("state = %s, want running", l.State())
	}
}

func TestLifecycleFailedInitRetries(t *testing.T) {
	calls := 0
	l := NewLifecycle(func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("store down")
		}
		return nil
	})

	if err := l.Ensure(context.Background()); err == nil {
		t.Fatal("first Ensure should surface the init error")
	}
	if l.State() != "uninitialized" {
		t.Fatalf("state after failed init = %s", l.State())
	}

	if err := l.Ensure(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("init ran %d times, want 2", calls)
	}
}

func TestLifecycleGateRefusesAfterShutdown(t *testing.T) {
	l := NewLifecycle(nil)
	if err := l.Ensure(context.Background()); err != nil {
		t.Fatal(err)
	}

	drained := false
	l.Shutdown(func() { drained = true })
	if !drained {
		t.Fatal("drain not invoked")
	}
	if l.State() != "stopped" {
		t.Fatalf("state = %s, want stopped", l.State())
	}
	// Repeat shutdown is a no-op.
	l.Shutdown(func() { t.Fatal("drain ran twice") })

	inner := false
	h := l.Gate(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { inner = true }))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/mcp", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if inner {
		t.Fatal("handler reached after shutdown")
	}
}

func TestLifecycleGateTriggersInit(t *testing.T) {
	inited := false
	l := NewLifecycle(func(context.Context) error {
		inited = true
		return nil
	})
	h := l.Gate(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/mcp", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !inited {
		t.Fatal("first request did not trigger startup")
	}
}
