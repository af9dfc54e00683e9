// Package lifecycle dispatches install, activate and fetch events to an
// offline agent and keeps each event alive until the work it registered has
// settled.
package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

var (
	// ErrEventSettled is returned by WaitUntil once the event has finished.
	ErrEventSettled = errors.New("event already settled")

	// ErrInvalidState is returned by RespondWith outside of handler dispatch.
	ErrInvalidState = errors.New("respondWith called outside of dispatch")

	// ErrAlreadyResponded is returned by a second RespondWith call.
	ErrAlreadyResponded = errors.New("event already responded")

	// ErrNoResponse is the failed load reported when a respond task produced
	// no response.
	ErrNoResponse = errors.New("respond task produced no response")
)

// EventType names a lifecycle event.
type EventType string

const (
	EventInstall  EventType = "install"
	EventActivate EventType = "activate"
	EventFetch    EventType = "fetch"
)

// Task is asynchronous work that extends an event's lifetime.
type Task func(ctx context.Context) error

// ExtendableEvent is an event whose lifetime handlers can extend with
// WaitUntil. It settles once dispatch is over and every task has returned.
type ExtendableEvent struct {
	Type EventType

	ctx        context.Context
	mu         sync.Mutex
	pending    int
	dispatched bool
	settled    bool
	errs       []error
	done       chan struct{}
}

func newExtendableEvent(ctx context.Context, typ EventType) *ExtendableEvent {
	return &ExtendableEvent{
		Type: typ,
		ctx:  ctx,
		done: make(chan struct{}),
	}
}

// Context returns the context tasks run under.
func (e *ExtendableEvent) Context() context.Context {
	return e.ctx
}

// WaitUntil runs task in the background and keeps the event open until it
// returns. It may be called during dispatch, or later while other tasks are
// still pending.
func (e *ExtendableEvent) WaitUntil(task Task) error {
	e.mu.Lock()
	if e.settled {
		e.mu.Unlock()
		return ErrEventSettled
	}
	e.pending++
	e.mu.Unlock()

	go func() {
		err := task(e.ctx)

		e.mu.Lock()
		defer e.mu.Unlock()
		if err != nil {
			e.errs = append(e.errs, err)
		}
		e.pending--
		e.trySettle()
	}()
	return nil
}

// endDispatch marks the synchronous handler phase as over.
func (e *ExtendableEvent) endDispatch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispatched = true
	e.trySettle()
}

// trySettle must be called with mu held.
func (e *ExtendableEvent) trySettle() {
	if e.dispatched && e.pending == 0 && !e.settled {
		e.settled = true
		close(e.done)
	}
}

// Wait blocks until the event settles and returns the joined task errors.
func (e *ExtendableEvent) Wait(ctx context.Context) error {
	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return errors.Join(e.errs...)
}

// Done is closed when the event settles.
func (e *ExtendableEvent) Done() <-chan struct{} {
	return e.done
}

// RespondFunc produces the response for an intercepted request.
type RespondFunc func(ctx context.Context) (*http.Response, error)

// FetchEvent is dispatched for every intercepted request.
type FetchEvent struct {
	*ExtendableEvent

	// Request is the outgoing request, captured before it reaches the network.
	Request *http.Request

	mu          sync.Mutex
	dispatching bool
	responded   bool
	resp        *http.Response
	err         error
	respDone    chan struct{}
}

func newFetchEvent(ctx context.Context, req *http.Request) *FetchEvent {
	return &FetchEvent{
		ExtendableEvent: newExtendableEvent(ctx, EventFetch),
		Request:         req,
		dispatching:     true,
		respDone:        make(chan struct{}),
	}
}

// RespondWith takes over the request: the host waits for fn instead of
// going to the network. It must be called while the handler runs, at most
// once per event.
func (e *FetchEvent) RespondWith(fn RespondFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.dispatching {
		return ErrInvalidState
	}
	if e.responded {
		return ErrAlreadyResponded
	}
	e.responded = true

	return e.WaitUntil(func(ctx context.Context) error {
		resp, err := fn(ctx)
		if err == nil && resp == nil {
			err = ErrNoResponse
		}
		e.resp, e.err = resp, err
		close(e.respDone)
		return nil
	})
}

// Responded reports whether a handler called RespondWith.
func (e *FetchEvent) Responded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.responded
}

func (e *FetchEvent) endDispatch() {
	e.mu.Lock()
	e.dispatching = false
	e.mu.Unlock()
	e.ExtendableEvent.endDispatch()
}

// response waits for the respond task.
func (e *FetchEvent) response(ctx context.Context) (*http.Response, error) {
	select {
	case <-e.respDone:
		return e.resp, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
