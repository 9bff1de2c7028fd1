package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"e-router/loadbalance"
	"e-router/message"
	"e-router/middleware"
	"e-router/registry"
)

func newDispatcher(t *testing.T, function string, ids []string, opts ...Option) (*Dispatcher, *registry.MemoryRegistry) {
	t.Helper()
	reg := registry.NewMemoryRegistry()
	reg.CreateFunction(function)
	for _, id := range ids {
		require.NoError(t, reg.RegisterEndpoint(function, registry.Endpoint{ID: id}))
	}
	return New(loadbalance.NewRoundRobin(reg), opts...), reg
}

func TestHandleRequestRoundRobin(t *testing.T) {
	d, _ := newDispatcher(t, "sum", []string{"e1", "e2"})

	var got []string
	for i := 0; i < 5; i++ {
		out, err := d.HandleRequest(context.Background(), Request{ClientID: "c1", Function: "sum"})
		require.NoError(t, err)
		require.Equal(t, StatusForwarded, out.Status)
		got = append(got, out.Endpoint.ID)
	}
	assert.Equal(t, []string{"e1", "e2", "e1", "e2", "e1"}, got)
	assert.EqualValues(t, 5, d.Forwarded())
}

func TestHandleRequestNoEndpoint(t *testing.T) {
	d, reg := newDispatcher(t, "empty", nil)

	out, err := d.HandleRequest(context.Background(), Request{ClientID: "c1", Function: "unknown"})
	require.NoError(t, err)
	assert.Equal(t, StatusNoEndpoint, out.Status)
	assert.Equal(t, []string{"empty"}, reg.Functions(), "lookup must not create an entry")

	out, err = d.HandleRequest(context.Background(), Request{ClientID: "c1", Function: "empty"})
	require.NoError(t, err)
	assert.Equal(t, StatusNoEndpoint, out.Status)
	assert.Zero(t, out.Endpoint)
	assert.Zero(t, d.Forwarded())
}

func TestHandleRequestResult(t *testing.T) {
	d, _ := newDispatcher(t, "sum", []string{"e1"})

	out, err := d.HandleRequest(context.Background(), Request{
		ClientID: "c1",
		Function: "sum",
		Task:     message.Task{ID: "task-1", Size: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, message.Result{ID: "task-1", Status: "success"}, out.Result)
}

func TestHandleRequestForwardError(t *testing.T) {
	boom := errors.New("connection refused")
	d, _ := newDispatcher(t, "sum", []string{"e1"}, WithForwarder(ForwarderFunc(
		func(context.Context, registry.Endpoint, Request) (message.Result, error) {
			return message.Result{}, boom
		})))

	out, err := d.HandleRequest(context.Background(), Request{ClientID: "c1", Function: "sum"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusForwarded, out.Status)
	assert.Equal(t, "e1", out.Endpoint.ID)
	assert.EqualValues(t, 1, d.Forwarded(), "a routed request counts even if its forward fails")
}

func TestHandleRequestSimulated(t *testing.T) {
	d, _ := newDispatcher(t, "sum", []string{"e1"}, WithForwarder(Simulated{Speed: 1, Unit: time.Millisecond}))

	out, err := d.HandleRequest(context.Background(), Request{Function: "sum", Task: message.Task{ID: "t", Size: 20}})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, out.Latency, 20*time.Millisecond)
	assert.Equal(t, "success", out.Result.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err = d.HandleRequest(ctx, Request{Function: "sum", Task: message.Task{ID: "t", Size: 1000}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandleRequestConcurrent(t *testing.T) {
	const n = 200
	d, _ := newDispatcher(t, "f", []string{"A", "B", "C"})

	var mu sync.Mutex
	counts := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 3*n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := d.HandleRequest(context.Background(), Request{Function: "f"})
			if err != nil || out.Status != StatusForwarded {
				t.Errorf("unexpected outcome %v: %v", out.Status, err)
				return
			}
			mu.Lock()
			counts[out.Endpoint.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, map[string]int{"A": n, "B": n, "C": n}, counts)
}

func TestHandler(t *testing.T) {
	d, _ := newDispatcher(t, "sum", []string{"e1", "e2"})
	h := d.Handler()

	req, err := message.NewRequest("c1", "sum", message.Task{ID: "task-1", Size: 5})
	require.NoError(t, err)
	reply := h(context.Background(), req)
	assert.Equal(t, message.StatusForwarded, reply.Status)
	assert.Equal(t, "e1", reply.Endpoint)
	res, err := reply.Result()
	require.NoError(t, err)
	assert.Equal(t, "task-1", res.ID)

	reply = h(context.Background(), &message.Message{ClientID: "c1", Function: "mul"})
	assert.Equal(t, message.StatusNoEndpoint, reply.Status)
	assert.Equal(t, ErrNoDestination, reply.Error)

	reply = h(context.Background(), &message.Message{Function: "sum", Payload: []byte("{")})
	assert.Equal(t, message.StatusError, reply.Status)
}

func TestHandlerForwardError(t *testing.T) {
	d, _ := newDispatcher(t, "sum", []string{"e1"}, WithForwarder(ForwarderFunc(
		func(context.Context, registry.Endpoint, Request) (message.Result, error) {
			return message.Result{}, errors.New("down")
		})))

	reply := d.Handler()(context.Background(), &message.Message{Function: "sum"})
	assert.Equal(t, message.StatusError, reply.Status)
	assert.Equal(t, "e1", reply.Endpoint)
	assert.Contains(t, reply.Error, "down")
}

func TestHandlerPanicUnderTimeout(t *testing.T) {
	d, _ := newDispatcher(t, "sum", []string{"e1"}, WithForwarder(ForwarderFunc(
		func(context.Context, registry.Endpoint, Request) (message.Result, error) {
			panic("forward bug")
		})))

	for name, chain := range map[string]middleware.Middleware{
		"recovery outside": middleware.Chain(middleware.RecoveryMiddleware(zerolog.Nop()), middleware.TimeOutMiddleware(time.Second)),
		"recovery inside":  middleware.Chain(middleware.TimeOutMiddleware(time.Second), middleware.RecoveryMiddleware(zerolog.Nop())),
	} {
		reply := chain(d.Handler())(context.Background(), &message.Message{ClientID: "c1", Function: "sum"})
		require.NotNil(t, reply, name)
		assert.Equal(t, message.StatusError, reply.Status, name)
		assert.Contains(t, reply.Error, "forward bug", name)
	}
}

func TestReportOnce(t *testing.T) {
	var buf bytes.Buffer
	d, _ := newDispatcher(t, "sum", []string{"e1"}, WithLogger(zerolog.New(&buf)))

	for i := 0; i < 10; i++ {
		_, err := d.HandleRequest(context.Background(), Request{Function: "sum"})
		require.NoError(t, err)
	}

	assert.InDelta(t, 5.0, d.reportOnce(2*time.Second), 1e-9)
	assert.Contains(t, buf.String(), `"forwards":10`)
	assert.Zero(t, d.reportOnce(time.Second), "counter resets after each report")
	assert.EqualValues(t, 10, d.Forwarded())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "forwarded", StatusForwarded.String())
	assert.Equal(t, "no_endpoint", StatusNoEndpoint.String())
	assert.Equal(t, "Status(0)", Status(0).String())
}
