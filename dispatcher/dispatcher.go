// Package dispatcher accepts routing requests, asks a Selector for a
// destination and either forwards the request to it or reports that no
// destination is available.
//
// Request lifecycle:
//
//	Received ──► Selecting ──┬──► Forwarded   (endpoint chosen, work performed)
//	                         └──► NoEndpoint  (unknown function or empty pool)
//
// A NoEndpoint outcome is final: it is not retried or queued here.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"e-router/loadbalance"
	"e-router/message"
	"e-router/metrics"
	"e-router/middleware"
	"e-router/registry"
)

// ErrNoDestination is the reply error text for a NoEndpoint outcome.
const ErrNoDestination = "no destination available"

// Status is the terminal state of a request.
type Status int

const (
	StatusForwarded Status = iota + 1
	StatusNoEndpoint
)

func (s Status) String() string {
	switch s {
	case StatusForwarded:
		return "forwarded"
	case StatusNoEndpoint:
		return "no_endpoint"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Request asks for Task to be run by some endpoint serving Function.
type Request struct {
	ClientID string
	Function string
	Task     message.Task
}

// Outcome is the result of routing one request. Endpoint, Result and Latency
// are set only when Status is StatusForwarded.
type Outcome struct {
	Status   Status
	Endpoint registry.Endpoint
	Result   message.Result
	Latency  time.Duration
}

// Dispatcher routes requests. It is safe for concurrent use; all shared
// routing state lives behind the Selector.
type Dispatcher struct {
	selector  loadbalance.Selector
	forwarder Forwarder
	log       zerolog.Logger
	tracer    trace.Tracer

	// Forwarded outcomes, including ones whose forward failed.
	forwards atomic.Uint64 // since the last rate report
	total    atomic.Uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithForwarder sets how routed work is performed. The default is Instant.
func WithForwarder(f Forwarder) Option { return func(d *Dispatcher) { d.forwarder = f } }

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option { return func(d *Dispatcher) { d.log = log } }

// WithTracer overrides the tracer taken from the global otel provider.
func WithTracer(t trace.Tracer) Option { return func(d *Dispatcher) { d.tracer = t } }

func New(selector loadbalance.Selector, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		selector:  selector,
		forwarder: Instant(),
		log:       zerolog.Nop(),
		tracer:    otel.Tracer("e-router/dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleRequest selects a destination for req and forwards the task to it.
//
// A NoEndpoint outcome comes back with a nil error. When the forward itself
// fails the outcome is still Forwarded, naming the endpoint, and the error is
// returned alongside it.
func (d *Dispatcher) HandleRequest(ctx context.Context, req Request) (Outcome, error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.HandleRequest", trace.WithAttributes(
		attribute.String("erouter.client", req.ClientID),
		attribute.String("erouter.function", req.Function),
		attribute.String("erouter.task", req.Task.ID),
	))
	defer span.End()

	endpoint, ok := d.selector.Select(loadbalance.Request{ClientID: req.ClientID, Function: req.Function})
	if !ok {
		metrics.RecordNoEndpoint(req.Function)
		span.SetAttributes(attribute.String("erouter.outcome", StatusNoEndpoint.String()))
		d.log.Debug().Str("client", req.ClientID).Str("function", req.Function).Msg("no endpoint")
		return Outcome{Status: StatusNoEndpoint}, nil
	}
	span.SetAttributes(
		attribute.String("erouter.endpoint", endpoint.ID),
		attribute.String("erouter.outcome", StatusForwarded.String()),
	)

	d.forwards.Add(1)
	d.total.Add(1)

	start := time.Now()
	result, err := d.forwarder.Forward(ctx, endpoint, req)
	out := Outcome{
		Status:   StatusForwarded,
		Endpoint: endpoint,
		Result:   result,
		Latency:  time.Since(start),
	}
	if err != nil {
		metrics.RecordForward(req.Function, endpoint.ID, "failed", out.Latency.Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, fmt.Errorf("forward %s to %s: %w", req.Function, endpoint.ID, err)
	}

	metrics.RecordForward(req.Function, endpoint.ID, StatusForwarded.String(), out.Latency.Seconds())
	d.log.Debug().
		Str("client", req.ClientID).
		Str("function", req.Function).
		Str("endpoint", endpoint.ID).
		Dur("latency", out.Latency).
		Msg("forwarded")
	return out, nil
}

// Forwarded is the number of Forwarded outcomes since the Dispatcher was
// created, failed forwards included.
func (d *Dispatcher) Forwarded() uint64 {
	return d.total.Load()
}

// Handler adapts the Dispatcher to a server handler. The request payload is
// the JSON Task; an empty payload routes a zero Task.
func (d *Dispatcher) Handler() middleware.HandlerFunc {
	return func(ctx context.Context, msg *message.Message) *message.Message {
		var task message.Task
		if len(msg.Payload) > 0 {
			var err error
			if task, err = msg.Task(); err != nil {
				return message.ErrorReply(message.StatusError, fmt.Sprintf("decode task: %v", err))
			}
		}

		out, err := d.HandleRequest(ctx, Request{ClientID: msg.ClientID, Function: msg.Function, Task: task})
		if out.Status == StatusNoEndpoint {
			reply := message.ErrorReply(message.StatusNoEndpoint, ErrNoDestination)
			reply.ClientID, reply.Function = msg.ClientID, msg.Function
			return reply
		}
		if err != nil {
			reply := message.ErrorReply(message.StatusError, err.Error())
			reply.ClientID, reply.Function, reply.Endpoint = msg.ClientID, msg.Function, out.Endpoint.ID
			return reply
		}

		payload, err := json.Marshal(out.Result)
		if err != nil {
			return message.ErrorReply(message.StatusError, err.Error())
		}
		return &message.Message{
			ClientID: msg.ClientID,
			Function: msg.Function,
			Endpoint: out.Endpoint.ID,
			Status:   message.StatusForwarded,
			Payload:  payload,
		}
	}
}
