package middleware

import (
	"context"
	"time"

	"github.com/steveoberholzer/ShareSync/handler"
	"github.com/steveoberholzer/ShareSync/message"
	"github.com/steveoberholzer/ShareSync/metrics"
)

// Metrics returns middleware that records handler duration per kind and
// outcome.
func Metrics(m *metrics.Metrics) Middleware {
	return func(ctx context.Context, env *message.Envelope, next Next) handler.Result {
		start := time.Now()
		res := next(ctx)

		outcome := "ok"
		if !res.Success {
			outcome = "error"
		}
		m.HandlerDuration.WithLabelValues(string(env.Kind), outcome).Observe(time.Since(start).Seconds())

		return res
	}
}
