package dispatcher

import (
	"context"
	"errors"
	"time"

	"e-router/computer"
	"e-router/message"
	"e-router/registry"
)

// Forwarder performs the unit of work for a routed request at endpoint.
type Forwarder interface {
	Forward(ctx context.Context, endpoint registry.Endpoint, req Request) (message.Result, error)
}

// ForwarderFunc adapts a function to a Forwarder.
type ForwarderFunc func(ctx context.Context, endpoint registry.Endpoint, req Request) (message.Result, error)

func (f ForwarderFunc) Forward(ctx context.Context, endpoint registry.Endpoint, req Request) (message.Result, error) {
	return f(ctx, endpoint, req)
}

// Instant completes every task immediately, so only routing is measured.
func Instant() Forwarder {
	return ForwarderFunc(func(_ context.Context, _ registry.Endpoint, req Request) (message.Result, error) {
		return message.Result{ID: req.Task.ID, Status: computer.StatusSuccess}, nil
	})
}

// Simulated runs tasks in-process as if every endpoint were an e-computer of
// the given speed.
type Simulated struct {
	Speed uint64
	Unit  time.Duration
}

func (s Simulated) Forward(ctx context.Context, _ registry.Endpoint, req Request) (message.Result, error) {
	return computer.Execute(ctx, req.Task, s.Speed, s.Unit)
}

// Caller sends a message to a network address and returns the reply.
// *client.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, addr string, req *message.Message) (*message.Message, error)
}

// Remote forwards tasks over the network, treating each endpoint ID as the
// e-computer's address.
type Remote struct {
	caller Caller
}

func NewRemote(caller Caller) *Remote {
	return &Remote{caller: caller}
}

func (r *Remote) Forward(ctx context.Context, endpoint registry.Endpoint, req Request) (message.Result, error) {
	msg, err := message.NewRequest(req.ClientID, req.Function, req.Task)
	if err != nil {
		return message.Result{}, err
	}
	reply, err := r.caller.Call(ctx, endpoint.ID, msg)
	if err != nil {
		return message.Result{}, err
	}
	if reply.Error != "" {
		return message.Result{}, errors.New(reply.Error)
	}
	return reply.Result()
}
