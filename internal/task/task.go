// Package task executes delegated and queued enrichment work. Each family
// of commands is served by one Service; results of live tasks travel back
// to the originating room through a Callback, exactly once per task.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go-chatroom/internal/store"
)

// Commands understood by the built-in executors.
const (
	CommandArticle      = "toutiao_article"
	CommandNews         = "news_article"
	CommandZhihuHot     = "zhihu_hot"
	CommandZhihuArticle = "zhihu_article"
	CommandAIChat       = "ai_chat"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrBusy           = errors.New("task processor is busy")
	ErrStopped        = errors.New("task processor stopped")
)

// Job is one unit of work, whatever its source.
type Job struct {
	ID       string          `json:"id"`
	Command  string          `json:"command"`
	Payload  json.RawMessage `json:"payload"`
	Username string          `json:"username,omitempty"`
	RoomName string          `json:"roomName,omitempty"`
}

// Decode unmarshals the job payload into dest. An empty payload leaves
// dest untouched.
func (j Job) Decode(dest any) error {
	if len(j.Payload) == 0 || string(j.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(j.Payload, dest); err != nil {
		return fmt.Errorf("invalid %s payload: %w", j.Command, err)
	}
	return nil
}

// Output is what a successful execution renders into the room.
type Output struct {
	Content  string
	Metadata map[string]any
}

// Executor runs one command. st is the owning service's private store.
type Executor interface {
	Execute(ctx context.Context, st store.Store, job Job) (Output, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, st store.Store, job Job) (Output, error)

func (f ExecutorFunc) Execute(ctx context.Context, st store.Store, job Job) (Output, error) {
	return f(ctx, st, job)
}

// Result records one processed job.
type Result struct {
	TaskID       string         `json:"taskId"`
	Command      string         `json:"command"`
	Success      bool           `json:"success"`
	Content      string         `json:"content,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Error        string         `json:"error,omitempty"`
	Username     string         `json:"username,omitempty"`
	ProcessingMS int64          `json:"processingMs"`
	CompletedAt  time.Time      `json:"completedAt"`
}

// Callback is the only way a processor touches room state.
type Callback interface {
	UpdateMessage(ctx context.Context, roomName, messageID, body string, metadata map[string]any) error
}

// FailureBody renders a processing failure for the placeholder message.
func FailureBody(reason string) string {
	return fmt.Sprintf("> (❌ task failed: %s)", reason)
}
