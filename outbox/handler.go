package outbox

import (
	"context"
	"fmt"
	"sync"
)

// Handler delivers a single leased record.
type Handler interface {
	// Handle delivers the record and returns an error on failure.
	Handle(ctx context.Context, record Record) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, record Record) error

// Handle implements Handler.
func (fn HandlerFunc) Handle(ctx context.Context, record Record) error {
	return fn(ctx, record)
}

// Router dispatches records to a handler per action type.
type Router struct {
	mu       sync.RWMutex
	handlers map[ActionType]Handler
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{handlers: make(map[ActionType]Handler)}
}

// Register binds handler to action.
func (r *Router) Register(action ActionType, handler Handler) error {
	if !action.IsValid() {
		return ErrActionTypeInvalid
	}
	if handler == nil {
		return ErrHandlerRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[action]; ok {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, action)
	}
	r.handlers[action] = handler

	return nil
}

// Handle implements Handler. Unknown action types fail permanently.
func (r *Router) Handle(ctx context.Context, record Record) error {
	r.mu.RLock()
	handler, ok := r.handlers[record.ActionType]
	r.mu.RUnlock()

	if !ok {
		return Permanent(fmt.Errorf("%w: %s", ErrHandlerNotRegistered, record.ActionType))
	}

	return handler.Handle(ctx, record)
}
