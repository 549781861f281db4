// Package dispatch carries delegated tasks from a room to the task
// processors. Dispatch is fire-and-forget: a nil error only means the task
// was handed off; the result comes back later through the room's callback.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrRejected is returned when the receiving side refuses the hand-off.
var ErrRejected = errors.New("task rejected")

// CallbackInfo correlates a delegated task with its placeholder message.
type CallbackInfo struct {
	RoomName  string `json:"roomName"`
	MessageID string `json:"messageId"`
	Username  string `json:"username"`
}

// Task is a delegated command in flight. It has no identity of its own; the
// placeholder message ID is its only durable trace.
type Task struct {
	Command      string          `json:"command"`
	Payload      json.RawMessage `json:"payload"`
	CallbackInfo CallbackInfo    `json:"callbackInfo"`
}

// NewTask marshals payload into a Task.
func NewTask(command string, payload any, cb CallbackInfo) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode %s payload: %w", command, err)
	}
	return Task{Command: command, Payload: raw, CallbackInfo: cb}, nil
}

func (t Task) Validate() error {
	switch {
	case t.Command == "":
		return errors.New("command is required")
	case t.CallbackInfo.RoomName == "":
		return errors.New("callbackInfo.roomName is required")
	case t.CallbackInfo.MessageID == "":
		return errors.New("callbackInfo.messageId is required")
	}
	return nil
}

// Dispatcher submits a task for asynchronous processing.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}

// Submitter is the receiving side of the boundary. Submit must not block
// on task execution.
type Submitter interface {
	Submit(task Task) error
}

// Local hands tasks straight to an in-process Submitter.
type Local struct {
	Target Submitter
}

func (l Local) Dispatch(_ context.Context, task Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if err := l.Target.Submit(task); err != nil {
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return nil
}
