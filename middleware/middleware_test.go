package middleware

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"e-router/message"
)

func echoHandler(ctx context.Context, req *message.Message) *message.Message {
	return &message.Message{Function: req.Function, Status: message.StatusOK, Payload: []byte("ok")}
}

func slowHandler(ctx context.Context, req *message.Message) *message.Message {
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
	}
	return &message.Message{Status: message.StatusOK, Payload: []byte("ok")}
}

func panicHandler(ctx context.Context, req *message.Message) *message.Message {
	panic("boom")
}

var req = &message.Message{ClientID: "c1", Function: "sum"}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)

	resp := LoggingMiddleware(log)(echoHandler)(context.Background(), req)

	assert.Equal(t, "ok", string(resp.Payload))
	assert.Contains(t, buf.String(), `"function":"sum"`)
	assert.Contains(t, buf.String(), `"level":"debug"`)
}

func TestLoggingWarnsOnError(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	failing := func(ctx context.Context, req *message.Message) *message.Message {
		return message.ErrorReply(message.StatusNoEndpoint, "no destination available")
	}

	LoggingMiddleware(log)(failing)(context.Background(), req)

	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "no destination available")
}

func TestRecovery(t *testing.T) {
	resp := RecoveryMiddleware(zerolog.Nop())(panicHandler)(context.Background(), req)

	assert.Equal(t, message.StatusError, resp.Status)
	assert.Contains(t, resp.Error, "boom")
}

func TestTimeoutPass(t *testing.T) {
	resp := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)(context.Background(), req)
	assert.Empty(t, resp.Error)
}

func TestTimeoutExceeded(t *testing.T) {
	resp := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)(context.Background(), req)
	assert.Equal(t, ErrTimedOut, resp.Error)
}

func TestTimeoutRecoversHandlerPanic(t *testing.T) {
	for name, chain := range map[string]Middleware{
		"recovery outside": Chain(RecoveryMiddleware(zerolog.Nop()), TimeOutMiddleware(time.Second)),
		"recovery inside":  Chain(TimeOutMiddleware(time.Second), RecoveryMiddleware(zerolog.Nop())),
		"timeout alone":    TimeOutMiddleware(time.Second),
	} {
		resp := chain(panicHandler)(context.Background(), req)
		require.NotNil(t, resp, name)
		assert.Equal(t, message.StatusError, resp.Status, name)
		assert.Contains(t, resp.Error, "boom", name)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1/s, burst=2: the first two pass immediately, the third is rejected.
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), req)
		require.Empty(t, resp.Error, "request %d", i)
	}
	resp := handler(context.Background(), req)
	assert.Equal(t, ErrRateLimited, resp.Error)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Message) *message.Message {
				order = append(order, name+">")
				reply := next(ctx, req)
				order = append(order, "<"+name)
				return reply
			}
		}
	}

	Chain(mark("A"), mark("B"))(echoHandler)(context.Background(), req)

	assert.Equal(t, []string{"A>", "B>", "<B", "<A"}, order)
}

func TestChain(t *testing.T) {
	handler := Chain(
		RecoveryMiddleware(zerolog.Nop()),
		LoggingMiddleware(zerolog.Nop()),
		TimeOutMiddleware(500*time.Millisecond),
	)(echoHandler)

	resp := handler(context.Background(), req)
	require.NotNil(t, resp)
	assert.Empty(t, resp.Error)
}
