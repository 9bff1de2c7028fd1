package middleware

import (
	"context"
	"fmt"
	"time"

	"e-router/message"
)

// ErrTimedOut is the reply error for requests cut off by TimeOutMiddleware.
const ErrTimedOut = "request timed out"

// TimeOutMiddleware bounds how long the caller waits for a reply. The handler
// keeps the derived context and should stop early once it is done; its late
// reply is discarded.
//
// The handler runs on its own goroutine, out of reach of any outer
// RecoveryMiddleware, so a panic there is turned into an error reply here.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Message, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- message.ErrorReply(message.StatusError, fmt.Sprintf("internal error: %v", r))
					}
				}()
				done <- next(ctx, req)
			}()

			select {
			case reply := <-done:
				return reply
			case <-ctx.Done():
				return message.ErrorReply(message.StatusError, ErrTimedOut)
			}
		}
	}
}
