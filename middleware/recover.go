package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/steveoberholzer/ShareSync/handler"
	"github.com/steveoberholzer/ShareSync/message"
)

// Recover returns middleware that recovers from panics in the handler
// chain. Panics are converted to failure results and logged with a
// stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, env *message.Envelope, next Next) (res handler.Result) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("handler panicked",
					slog.String("message_id", env.MessageID.String()),
					slog.String("kind", string(env.Kind)),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				res = handler.Fail(fmt.Sprintf("panic in %s handler: %v", env.Kind, r))
			}
		}()
		return next(ctx)
	}
}
