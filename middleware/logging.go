package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/steveoberholzer/ShareSync/handler"
	"github.com/steveoberholzer/ShareSync/message"
)

// Logging returns middleware that logs item start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, env *message.Envelope, next Next) handler.Result {
		logger.Info("item started",
			slog.String("message_id", env.MessageID.String()),
			slog.String("job_id", env.JobID.String()),
			slog.String("kind", string(env.Kind)),
			slog.Int("retry_count", env.RetryCount),
		)

		start := time.Now()
		res := next(ctx)
		elapsed := time.Since(start)

		if res.Success {
			logger.Info("item completed",
				slog.String("message_id", env.MessageID.String()),
				slog.String("job_id", env.JobID.String()),
				slog.Duration("elapsed", elapsed),
			)
		} else {
			logger.Error("item failed",
				slog.String("message_id", env.MessageID.String()),
				slog.String("job_id", env.JobID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", res.Error),
			)
		}

		return res
	}
}
