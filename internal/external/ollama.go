package external

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaStreamLine struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Ollama generates text through an Ollama server's /api/generate stream.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllama(baseURL, model string, client *http.Client) *Ollama {
	return &Ollama{baseURL: strings.TrimRight(baseURL, "/"), model: model, client: defaultClient(client)}
}

// WithModel returns a generator for another model on the same server.
func (o *Ollama) WithModel(model string) *Ollama {
	cp := *o
	cp.model = model
	return &cp
}

func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := do(ctx, o.client, http.MethodPost, o.baseURL+"/api/generate",
		ollamaRequest{Model: o.model, Prompt: prompt, Stream: true})
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	var result strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var line ollamaStreamLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			continue
		}
		if line.Error != "" {
			return "", fmt.Errorf("ollama: %s", line.Error)
		}
		result.WriteString(line.Response)
		if line.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading stream: %w", err)
	}

	out := strings.TrimSpace(result.String())
	if out == "" {
		return "", errors.New("ollama returned an empty response")
	}
	return out, nil
}
