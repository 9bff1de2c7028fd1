package middleware

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"e-router/message"
)

// RecoveryMiddleware turns a panicking handler into an error reply so one bad
// request cannot take the process down.
func RecoveryMiddleware(log zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (reply *message.Message) {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("function", req.Function).Interface("panic", r).Msg("handler panicked")
					reply = message.ErrorReply(message.StatusError, fmt.Sprintf("internal error: %v", r))
				}
			}()
			return next(ctx, req)
		}
	}
}
