package task

import "context"

// Generator produces text from a prompt (an AI model behind some API).
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Publisher pushes a finished article to the publishing proxy. One call is
// one attempt; retries are the caller's business.
type Publisher interface {
	Publish(ctx context.Context, title, content string) (map[string]any, error)
}

type NewsItem struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	HotValue string `json:"hot_value,omitempty"`
	Source   string `json:"source,omitempty"`
}

// NewsSource looks up recent news for a topic. An empty topic means the
// general headlines.
type NewsSource interface {
	News(ctx context.Context, topic string, limit int) ([]NewsItem, error)
}

type Topic struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	HotValue string `json:"hotValue,omitempty"`
	Excerpt  string `json:"excerpt,omitempty"`
	Kind     string `json:"type,omitempty"` // "hot" or "inspiration"
}

// TopicSource lists currently trending discussion topics.
type TopicSource interface {
	HotTopics(ctx context.Context, limit int) ([]Topic, error)
}
