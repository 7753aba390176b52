package dispatch

import (
	"context"
	"sync"
	"time"
)

// State is the lifecycle of a dispatched task.
type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateDone    State = "done"
)

// Handle tracks one detached task.
type Handle struct {
	ID         string
	EnqueuedAt time.Time

	mu        sync.Mutex
	state     State
	startedAt time.Time
	err       error
	done      chan struct{}
}

func newHandle(id string) *Handle {
	return &Handle{
		ID:         id,
		EnqueuedAt: time.Now(),
		state:      StateQueued,
		done:       make(chan struct{}),
	}
}

func (h *Handle) markStarted() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StateRunning
	h.startedAt = time.Now()
}

func (h *Handle) settle(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDone {
		return
	}
	h.state = StateDone
	h.err = err
	close(h.done)
}

// Done is closed once the task settles.
func (h *Handle) Done() <-chan struct{} { return h.done }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// StartedAt is zero while the task is queued.
func (h *Handle) StartedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startedAt
}

// Err returns the task error once settled.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the task settles or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
