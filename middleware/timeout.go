package middleware

import (
	"context"
	"time"

	"github.com/steveoberholzer/ShareSync/handler"
	"github.com/steveoberholzer/ShareSync/message"
)

// Timeout returns middleware that enforces a per-item execution
// deadline. When the deadline is exceeded the context is cancelled and
// the handler is expected to abandon its upstream call.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, env *message.Envelope, next Next) handler.Result {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
