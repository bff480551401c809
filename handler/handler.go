// Package handler contains the per-operation adapters between queue
// messages and the downstream document-management site. Handlers wrap
// exactly one site call and normalize its outcome into a Result; retry
// and ledger logic belong to the dispatcher, never to a handler.
package handler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/steveoberholzer/ShareSync/message"
)

// Result is the normalized outcome of one operation.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	// Code carries the upstream error code when one is known, e.g.
	// 429 for a rate-limit rejection.
	Code int `json:"code,omitempty"`
}

// OK returns a successful Result.
func OK() Result { return Result{Success: true} }

// OKData returns a successful Result carrying data.
func OKData(data any) Result { return Result{Success: true, Data: data} }

// Fail returns a failed Result with a human-readable message.
func Fail(msg string) Result { return Result{Error: msg} }

// FailCode returns a failed Result with an upstream error code.
func FailCode(msg string, code int) Result { return Result{Error: msg, Code: code} }

// Handler processes one envelope of its operation kind.
type Handler interface {
	Handle(ctx context.Context, env *message.Envelope) Result
}

// Func adapts a function to the Handler interface.
type Func func(ctx context.Context, env *message.Envelope) Result

// Handle calls f.
func (f Func) Handle(ctx context.Context, env *message.Envelope) Result {
	return f(ctx, env)
}

// Registry maps operation kinds to handlers. The kind set is closed, so
// a lookup miss means a structurally unknown message, not a transient
// condition.
type Registry struct {
	mu       sync.RWMutex
	handlers map[message.Kind]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[message.Kind]Handler)}
}

// Register binds a handler to a kind, replacing any previous binding.
func (r *Registry) Register(kind message.Kind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Get returns the handler for a kind.
func (r *Registry) Get(kind message.Kind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// DefaultRegistry wires the standard handlers for every operation kind
// against one site client.
func DefaultRegistry(client SiteClient, logger *slog.Logger) *Registry {
	r := NewRegistry()
	r.Register(message.KindFolderCreate, NewFolderCreate(client, logger))
	r.Register(message.KindPermissionSync, NewPermissionSync(client, logger))
	r.Register(message.KindPermissionReset, NewPermissionReset(client, logger))
	r.Register(message.KindFolderValidate, NewFolderValidate(client, logger))
	return r
}
