package link

import (
	"errors"
	"fmt"
	"sync"
)

// ItemHandler processes one data item of a received message. Handlers run
// on the link's read goroutine and should return quickly.
type ItemHandler func(msg *Message, item Item) error

// HandlerRegistry routes received data items to handlers by data type.
// Data types are opaque application tags.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[byte]ItemHandler
	fallback ItemHandler
}

// NewHandlerRegistry creates an empty registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[byte]ItemHandler),
	}
}

// Register installs handler for dataType, replacing any previous one.
// A nil handler removes the registration.
func (r *HandlerRegistry) Register(dataType byte, handler ItemHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if handler == nil {
		delete(r.handlers, dataType)
		return
	}
	r.handlers[dataType] = handler
}

// SetFallback installs a handler for data types without a registration
func (r *HandlerRegistry) SetFallback(handler ItemHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = handler
}

// Count returns the number of registered data types
func (r *HandlerRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

func (r *HandlerRegistry) lookup(dataType byte) ItemHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.handlers[dataType]; ok {
		return h
	}
	return r.fallback
}

// Dispatch calls the handler of every item in msg, in item order. Items
// with no handler are skipped. All handler errors are returned joined.
func (r *HandlerRegistry) Dispatch(msg *Message) error {
	var errs []error
	for i, item := range msg.Items {
		h := r.lookup(item.Type)
		if h == nil {
			continue
		}
		if err := h(msg, item); err != nil {
			errs = append(errs, fmt.Errorf("item %d (type %d): %w", i, item.Type, err))
		}
	}
	return errors.Join(errs...)
}
