package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"e-router/message"
)

// LoggingMiddleware logs every request with its outcome and duration.
// Failed replies are logged at warn level.
func LoggingMiddleware(log zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			start := time.Now()
			reply := next(ctx, req)

			event := log.Debug()
			if reply.Error != "" {
				event = log.Warn().Str("error", reply.Error)
			}
			event.
				Str("client", req.ClientID).
				Str("function", req.Function).
				Str("status", reply.Status).
				Str("endpoint", reply.Endpoint).
				Dur("duration", time.Since(start)).
				Msg("request handled")
			return reply
		}
	}
}
