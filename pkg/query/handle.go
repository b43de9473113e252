package query

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// eventBuffer is the capacity of a worker's event channel. Progress events
// are few per run; the buffer only smooths bursts.
const eventBuffer = 16

// Handle controls one running worker.
type Handle struct {
	ID string

	token  *CancelToken
	events chan Event
	done   chan struct{}
	state  atomic.Value // WorkerState
}

// runFunc is the synchronous body of a worker.
type runFunc func(token *CancelToken, emit Emitter, setState func(WorkerState)) WorkerState

// startHandle runs fn on its own goroutine. Events are delivered on the
// handle's channel until fn returns or the handle is cancelled; the channel
// is closed when the goroutine exits. A panic in fn becomes an execution
// error event.
func startHandle(ctx context.Context, stmt string, fn runFunc) *Handle {
	h := &Handle{
		ID:     uuid.NewString(),
		token:  NewCancelToken(ctx),
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	h.state.Store(StateIdle)

	go func() {
		defer close(h.done)
		defer close(h.events)
		defer func() {
			if r := recover(); r != nil {
				h.setState(StateFailed)
				h.emit(Event{
					Type: EventError,
					Err:  newError(ErrorKindExecution, stmt, fmt.Sprintf("internal error: %v", r), nil),
				})
			}
		}()

		final := fn(h.token, h.emit, h.setState)
		h.setState(final)
	}()

	return h
}

// emit delivers ev unless the handle is cancelled first.
func (h *Handle) emit(ev Event) bool {
	if h.token.Cancelled() {
		return false
	}
	ev.WorkerID = h.ID
	select {
	case h.events <- ev:
		return true
	case <-h.token.Done():
		return false
	}
}

func (h *Handle) setState(s WorkerState) {
	h.state.Store(s)
}

// Events returns the worker's event stream. It is closed when the worker
// exits.
func (h *Handle) Events() <-chan Event {
	return h.events
}

// Cancel requests cooperative cancellation. It does not wait.
func (h *Handle) Cancel() {
	h.token.Cancel()
}

// Wait blocks until the worker goroutine has exited.
func (h *Handle) Wait() {
	<-h.done
}

// Done is closed when the worker goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Cancelled reports whether Cancel was called.
func (h *Handle) Cancelled() bool {
	return h.token.Cancelled()
}

// State returns the worker's current state.
func (h *Handle) State() WorkerState {
	return h.state.Load().(WorkerState)
}

// Context returns the context passed to the engine. It is done once the
// handle is cancelled.
func (h *Handle) Context() context.Context {
	return h.token.Context()
}
