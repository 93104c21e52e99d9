package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Handler 处理一次事件；返回前即视为事件已 settle。
type Handler func(ctx context.Context, ev *Event) error

// ErrDuplicateHandler indicates an event kind already has a handler registered.
var ErrDuplicateHandler = errors.New("handler already registered")

// Registry 保存事件类型到 handler 的映射。
type Registry struct {
	mu       sync.RWMutex
	handlers map[EventKind]Handler
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[EventKind]Handler)}
}

// Register stores the handler for the given event kind.
func (r *Registry) Register(kind EventKind, handler Handler) error {
	kind = normalizeKind(kind)
	if !knownKind(kind) {
		return fmt.Errorf("unknown event kind %q", kind)
	}
	if handler == nil {
		return errors.New("handler required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("%s: %w", kind, ErrDuplicateHandler)
	}
	r.handlers[kind] = handler
	return nil
}

// MustRegister panics on registration failure.
func (r *Registry) MustRegister(kind EventKind, handler Handler) {
	if err := r.Register(kind, handler); err != nil {
		panic(err)
	}
}

// Fetch retrieves the handler associated with an event kind.
func (r *Registry) Fetch(kind EventKind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[normalizeKind(kind)]
	return handler, ok
}

// Status returns handler registration status for an event kind.
func (r *Registry) Status(kind EventKind) string {
	if _, ok := r.Fetch(kind); ok {
		return "registered"
	}
	return "missing"
}

// Snapshot returns status for every known event kind.
func (r *Registry) Snapshot() map[string]string {
	out := make(map[string]string, len(Kinds()))
	for _, kind := range Kinds() {
		out[string(kind)] = r.Status(kind)
	}
	return out
}

func normalizeKind(kind EventKind) EventKind {
	return EventKind(strings.ToLower(strings.TrimSpace(string(kind))))
}
