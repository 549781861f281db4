package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// TaskPath is where the HTTP receiver is mounted.
const TaskPath = "/api/internal/tasks"

// HTTPDispatcher posts tasks to a receiver and treats 202 as accepted.
type HTTPDispatcher struct {
	baseURL string
	client  *http.Client
}

func NewHTTPDispatcher(baseURL string, client *http.Client) *HTTPDispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPDispatcher{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, task Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+TaskPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: receiver returned %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Receiver exposes a Submitter over HTTP and NATS.
type Receiver struct {
	target Submitter
	logger *slog.Logger
}

func NewReceiver(target Submitter, logger *slog.Logger) *Receiver {
	return &Receiver{target: target, logger: logger.With("component", "dispatch")}
}

func (rc *Receiver) accept(task Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	if err := rc.target.Submit(task); err != nil {
		rc.logger.Warn("task rejected", "command", task.Command, "room", task.CallbackInfo.RoomName, "error", err)
		return err
	}
	rc.logger.Info("task accepted", "command", task.Command, "room", task.CallbackInfo.RoomName,
		"message_id", task.CallbackInfo.MessageID)
	return nil
}

// ServeHTTP answers 202 once the task is handed to its processor.
func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var task Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		http.Error(w, "invalid task: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := task.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := rc.accept(task); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
