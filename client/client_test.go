package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"e-router/codec"
	"e-router/message"
	"e-router/server"
)

func echoTask(ctx context.Context, req *message.Message) *message.Message {
	task, err := req.Task()
	if err != nil {
		return message.ErrorReply(message.StatusError, err.Error())
	}
	return &message.Message{Status: message.StatusOK, Payload: []byte(`{"id":"` + task.ID + `","status":"success"}`)}
}

func startServer(t *testing.T) (*server.Server, string) {
	t.Helper()
	svr := server.NewServer(echoTask, zerolog.Nop())
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go svr.ServeListener(l)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return svr, l.Addr().String()
}

func TestClientCall(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary} {
		_, addr := startServer(t)
		cli := NewClient(WithCodec(ct))
		defer cli.Close()

		for _, id := range []string{"task-1", "task-2"} {
			req, err := message.NewRequest("c1", "sum", message.Task{ID: id, Size: 1})
			require.NoError(t, err)

			reply, err := cli.Call(context.Background(), addr, req)
			require.NoError(t, err)
			res, err := reply.Result()
			require.NoError(t, err)
			assert.Equal(t, message.Result{ID: id, Status: "success"}, res)
		}
	}
}

func TestClientConcurrentCalls(t *testing.T) {
	_, addr := startServer(t)
	cli := NewClient(WithPoolSize(3))
	defer cli.Close()

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := message.NewRequest("c1", "sum", message.Task{ID: "t"})
			if _, err := cli.Call(context.Background(), addr, req); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	cli.mu.Lock()
	p := cli.pools[addr]
	cli.mu.Unlock()
	require.NotNil(t, p)
	assert.Len(t, p.transports, 3)
}

func TestClientRedialsAfterServerRestart(t *testing.T) {
	svr, addr := startServer(t)
	cli := NewClient(WithPoolSize(1), WithRetry(RetryConfig{MaxAttempts: 5, InitialDelay: 20 * time.Millisecond, BackoffFactor: 1}))
	defer cli.Close()

	req, _ := message.NewRequest("c1", "sum", message.Task{ID: "before"})
	_, err := cli.Call(context.Background(), addr, req)
	require.NoError(t, err)

	// Restart on the same address; the pooled connection is now dead.
	require.NoError(t, svr.Shutdown(time.Second))
	svr2 := server.NewServer(echoTask, zerolog.Nop())
	l, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	go svr2.ServeListener(l)
	defer svr2.Shutdown(time.Second)

	req, _ = message.NewRequest("c1", "sum", message.Task{ID: "after"})
	reply, err := cli.Call(context.Background(), addr, req)
	require.NoError(t, err)
	res, _ := reply.Result()
	assert.Equal(t, "after", res.ID)
}

func TestClientUnreachable(t *testing.T) {
	// Grab a free port and release it so nothing is listening there.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	cli := NewClient(WithDialTimeout(200 * time.Millisecond))
	_, err = cli.Call(context.Background(), addr, &message.Message{Function: "f"})
	assert.Error(t, err)
}

func TestWithRetry(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 2}
	boom := errors.New("connection refused")

	calls := 0
	reply, err := withRetry(context.Background(), cfg, zerolog.Nop(), func() (*message.Message, error) {
		calls++
		if calls < 3 {
			return nil, boom
		}
		return &message.Message{Status: message.StatusOK}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, message.StatusOK, reply.Status)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = withRetry(context.Background(), cfg, zerolog.Nop(), func() (*message.Message, error) {
		calls++
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = withRetry(context.Background(), NoRetry(), zerolog.Nop(), func() (*message.Message, error) {
		calls++
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestBackoff(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2}
	assert.Equal(t, 100*time.Millisecond, cfg.backoff(1))
	assert.Equal(t, 200*time.Millisecond, cfg.backoff(2))
	assert.Equal(t, 300*time.Millisecond, cfg.backoff(3))
}
