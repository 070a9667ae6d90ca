package server

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dotside-studios/davi-pay/protocol"
)

// HandlerFunc handles one WebSocket request from a UI client. Handlers
// reply on c themselves; a returned error is sent to the client as an error
// response.
type HandlerFunc func(ctx context.Context, c *Client, req protocol.Request) error

// HandlerRegistry maps WebSocket message types to handlers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewHandlerRegistry creates a new handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]HandlerFunc)}
}

// Handle registers handler for messageType. Registering a type twice is an
// error.
func (r *HandlerRegistry) Handle(messageType string, handler HandlerFunc) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	if messageType == "" {
		return fmt.Errorf("message type cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[messageType]; exists {
		return fmt.Errorf("handler for message type '%s' already registered", messageType)
	}
	r.handlers[messageType] = handler
	return nil
}

// Get retrieves the handler for messageType.
func (r *HandlerRegistry) Get(messageType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[messageType]
	return h, ok
}

// MessageTypes returns the registered message types, sorted.
func (r *HandlerRegistry) MessageTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
