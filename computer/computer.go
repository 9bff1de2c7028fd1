// Package computer implements an e-computer: a worker that executes tasks
// routed to it. Execution is simulated by sleeping for the task's size
// divided by the worker's speed, so heterogeneous worker pools can be built
// from one binary by varying the speed.
package computer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"e-router/message"
	"e-router/metrics"
)

// ErrInvalidSpeed is returned for a non-positive speed.
var ErrInvalidSpeed = errors.New("computer: speed must be positive")

// StatusSuccess is the Result status of a completed task.
const StatusSuccess = "success"

// WorkDuration is how long a task of size takes at speed, in units of unit.
// A task of size 5000 at speed 1000 with unit time.Second takes 5s.
func WorkDuration(size, speed uint64, unit time.Duration) time.Duration {
	if speed == 0 {
		return 0
	}
	return time.Duration(size) * unit / time.Duration(speed)
}

// Execute simulates running task and returns its Result. It stops early with
// ctx's error when ctx ends first.
func Execute(ctx context.Context, task message.Task, speed uint64, unit time.Duration) (message.Result, error) {
	d := WorkDuration(task.Size, speed, unit)
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return message.Result{}, ctx.Err()
		}
	}
	return message.Result{ID: task.ID, Status: StatusSuccess}, nil
}

// Computer serves tasks at a fixed speed.
type Computer struct {
	speed uint64
	unit  time.Duration
	log   zerolog.Logger
}

// New creates a Computer. unit is the time one size unit takes at speed 1.
func New(speed uint64, unit time.Duration, log zerolog.Logger) (*Computer, error) {
	if speed == 0 {
		return nil, ErrInvalidSpeed
	}
	if unit <= 0 {
		unit = time.Second
	}
	return &Computer{speed: speed, unit: unit, log: log}, nil
}

// Handle is the server handler: it decodes the task, runs it and replies
// with a JSON Result.
func (c *Computer) Handle(ctx context.Context, req *message.Message) *message.Message {
	task, err := req.Task()
	if err != nil {
		metrics.RecordTask(message.StatusError)
		return message.ErrorReply(message.StatusError, fmt.Sprintf("decode task: %v", err))
	}
	c.log.Debug().Str("task", task.ID).Uint64("size", task.Size).Str("client", req.ClientID).Msg("received task")

	res, err := Execute(ctx, task, c.speed, c.unit)
	if err != nil {
		metrics.RecordTask(message.StatusError)
		return message.ErrorReply(message.StatusError, err.Error())
	}

	payload, err := json.Marshal(res)
	if err != nil {
		metrics.RecordTask(message.StatusError)
		return message.ErrorReply(message.StatusError, err.Error())
	}
	metrics.RecordTask(message.StatusOK)
	return &message.Message{
		ClientID: req.ClientID,
		Function: req.Function,
		Status:   message.StatusOK,
		Payload:  payload,
	}
}
