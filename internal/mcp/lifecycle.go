package mcp

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
)

// Gateway lifecycle states.
const (
	stateUninitialized int32 = iota
	stateInitializing
	stateRunning
	stateShuttingDown
	stateStopped
)

var stateNames = map[int32]string{
	stateUninitialized: "uninitialized",
	stateInitializing:  "initializing",
	stateRunning:       "running",
	stateShuttingDown:  "shutting_down",
	stateStopped:       "stopped",
}

var errShuttingDown = errors.New("gateway is shutting down")

// Lifecycle gates the gateway surface behind one-time startup work and
// turns requests away once shutdown has begun. Concurrent first requests
// trigger exactly one startup; requests arriving after it observe the
// running state and proceed immediately.
type Lifecycle struct {
	init func(context.Context) error

	mu    sync.Mutex
	state atomic.Int32
}

// NewLifecycle creates a lifecycle whose startup work is init. A nil init
// means startup is a no-op state transition.
func NewLifecycle(init func(context.Context) error) *Lifecycle {
	return &Lifecycle{init: init}
}

// Ensure runs the startup work if it has not run yet. A failed startup
// leaves the gateway uninitialized so a later request retries it.
func (l *Lifecycle) Ensure(ctx context.Context) error {
	switch l.state.Load() {
	case stateRunning:
		return nil
	case stateShuttingDown, stateStopped:
		return errShuttingDown
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state.Load() {
	case stateRunning:
		return nil
	case stateShuttingDown, stateStopped:
		return errShuttingDown
	}

	l.state.Store(stateInitializing)
	if l.init != nil {
		if err := l.init(ctx); err != nil {
			l.state.Store(stateUninitialized)
			return err
		}
	}
	l.state.Store(stateRunning)
	return nil
}

// Shutdown moves the gateway out of service, running drain between the
// shutting_down and stopped states. Repeat calls are no-ops.
func (l *Lifecycle) Shutdown(drain func()) {
	l.mu.Lock()
	if st := l.state.Load(); st == stateShuttingDown || st == stateStopped {
		l.mu.Unlock()
		return
	}
	l.state.Store(stateShuttingDown)
	l.mu.Unlock()

	if drain != nil {
		drain()
	}
	l.state.Store(stateStopped)
}

// State names the current lifecycle state for diagnostics.
func (l *Lifecycle) State() string {
	return stateNames[l.state.Load()]
}

// Gate wraps a handler so requests trigger startup and are refused with a
// 503 after shutdown begins or while startup keeps failing.
func (l *Lifecycle) Gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := l.Ensure(r.Context()); err != nil {
			log.Printf("WARN: request refused: %v", err)
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}
