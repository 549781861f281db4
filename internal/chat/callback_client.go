package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go-chatroom/internal/task"
)

// CallbackClient delivers task results to a chat server over HTTP. It is
// the Callback a standalone task processor uses.
type CallbackClient struct {
	baseURL string
	secret  string
	client  *http.Client
}

var _ task.Callback = (*CallbackClient)(nil)

func NewCallbackClient(baseURL string, client *http.Client) *CallbackClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &CallbackClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// WithSecret sends secret with every callback.
func (c *CallbackClient) WithSecret(secret string) *CallbackClient {
	c.secret = secret
	return c
}

// UpdateMessage posts an already rendered body. The room reads the outcome
// from the status field of metadata.
func (c *CallbackClient) UpdateMessage(ctx context.Context, roomName, messageID, body string, metadata map[string]any) error {
	payload, err := json.Marshal(callbackRequest{
		MessageID:  messageID,
		NewContent: body,
		Status:     "success",
		Metadata:   metadata,
	})
	if err != nil {
		return fmt.Errorf("encode callback: %w", err)
	}

	endpoint := c.baseURL + "/api/rooms/" + url.PathEscape(roomName) + "/callback"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set(CallbackSecretHeader, c.secret)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("callback returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
