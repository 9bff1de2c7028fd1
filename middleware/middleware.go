// Package middleware wraps request handlers in an onion of cross-cutting
// concerns: logging, panic recovery, rate limiting and timeouts.
package middleware

import (
	"context"

	"e-router/message"
)

// HandlerFunc handles one request and always returns a reply; failures are
// reported in the reply's Status and Error fields.
type HandlerFunc func(ctx context.Context, req *message.Message) *message.Message

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one is the outermost:
// Chain(A, B, C)(h) == A(B(C(h))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
