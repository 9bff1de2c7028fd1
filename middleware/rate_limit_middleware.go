package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"e-router/message"
)

// ErrRateLimited is the reply error for requests rejected by RateLimitMiddleware.
const ErrRateLimited = "rate limit exceeded"

// RateLimitMiddleware admits requests through a token bucket of r tokens per
// second and the given burst. Rejected requests fail immediately; nothing is
// queued.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			if !limiter.Allow() {
				return message.ErrorReply(message.StatusError, ErrRateLimited)
			}
			return next(ctx, req)
		}
	}
}
