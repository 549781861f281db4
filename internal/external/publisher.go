package external

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

type publishRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// HTTPPublisher posts articles to the publishing proxy. Each call is a
// single attempt.
type HTTPPublisher struct {
	url    string
	client *http.Client
}

func NewHTTPPublisher(baseURL string, client *http.Client) *HTTPPublisher {
	return &HTTPPublisher{url: strings.TrimRight(baseURL, "/") + "/api/toutiaopost", client: defaultClient(client)}
}

func (p *HTTPPublisher) Publish(ctx context.Context, title, content string) (map[string]any, error) {
	var receipt map[string]any
	if err := doJSON(ctx, p.client, http.MethodPost, p.url, publishRequest{Title: title, Content: content}, &receipt); err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	return receipt, nil
}
