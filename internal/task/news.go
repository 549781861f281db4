package task

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go-chatroom/internal/store"
)

const newsLimit = 10

type topicPayload struct {
	Topic string `json:"topic"`
}

// NewsExecutor writes an article from the current news on a topic.
type NewsExecutor struct {
	src NewsSource
	gen Generator
}

func NewNewsExecutor(src NewsSource, gen Generator) *NewsExecutor {
	return &NewsExecutor{src: src, gen: gen}
}

func (e *NewsExecutor) Execute(ctx context.Context, _ store.Store, job Job) (Output, error) {
	var p topicPayload
	if err := job.Decode(&p); err != nil {
		return Output{}, err
	}
	topic := strings.TrimSpace(p.Topic)

	items, err := e.src.News(ctx, topic, newsLimit)
	if err != nil {
		return Output{}, fmt.Errorf("fetch news: %w", err)
	}
	if len(items) == 0 {
		if topic == "" {
			return Output{}, errors.New("no news available right now")
		}
		return Output{}, fmt.Errorf("no news found for %q", topic)
	}

	heading := topic
	if heading == "" {
		heading = "Today's headlines"
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Write a news digest titled %q based on these reports:\n", heading)
	for i, it := range items {
		fmt.Fprintf(&prompt, "%d. %s\n", i+1, it.Title)
	}
	prompt.WriteString("Summarize the common thread, then cover the most important items in short paragraphs.")

	article, err := e.gen.Generate(ctx, prompt.String())
	if err != nil {
		return Output{}, fmt.Errorf("generation failed: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## 📰 %s\n\n%s\n\n**Sources**\n", heading, strings.TrimSpace(article))
	for i, it := range items {
		if it.URL != "" {
			fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, it.Title, it.URL)
		} else {
			fmt.Fprintf(&b, "%d. %s\n", i+1, it.Title)
		}
	}
	return Output{
		Content:  strings.TrimRight(b.String(), "\n"),
		Metadata: map[string]any{"topic": topic, "sourceCount": len(items)},
	}, nil
}
