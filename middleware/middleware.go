// Package middleware provides composable middleware around operation
// handler execution. Middleware wrap handler calls synchronously and can
// modify execution (recover from panics, log, record metrics, enforce
// deadlines).
package middleware

import (
	"context"

	"github.com/steveoberholzer/ShareSync/handler"
	"github.com/steveoberholzer/ShareSync/message"
)

// Next is the terminal function that executes the operation handler.
type Next func(ctx context.Context) handler.Result

// Middleware wraps a Next with cross-cutting logic. It receives the
// current context, the envelope being processed, and the next stage to
// call. Middleware MUST call next to continue the chain unless
// intentionally short-circuiting.
type Middleware func(ctx context.Context, env *message.Envelope, next Next) handler.Result

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover) executes as:
//
//	logging → recover → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, env *message.Envelope, next Next) handler.Result {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) handler.Result {
				return mw(ctx, env, prev)
			}
		}
		return h(ctx)
	}
}
