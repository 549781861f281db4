package task

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go-chatroom/internal/store"
)

const (
	lastTopicsKey = "last_topics"
	hotTopicLimit = 10
)

var (
	ErrNoTopics      = errors.New("no topics fetched yet, run /zhihu-hot first")
	ErrTopicNotFound = errors.New("topic not found")
)

type topicList struct {
	Topics    []Topic   `json:"topics"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// ZhihuHotExecutor lists trending topics and remembers them so a later
// zhihu_article can refer to one by number.
type ZhihuHotExecutor struct {
	src TopicSource
	now func() time.Time
}

func NewZhihuHotExecutor(src TopicSource) *ZhihuHotExecutor {
	return &ZhihuHotExecutor{src: src, now: time.Now}
}

func (e *ZhihuHotExecutor) Execute(ctx context.Context, st store.Store, _ Job) (Output, error) {
	topics, err := e.src.HotTopics(ctx, hotTopicLimit)
	if err != nil {
		return Output{}, fmt.Errorf("fetch topics: %w", err)
	}
	if len(topics) == 0 {
		return Output{}, errors.New("no trending topics available right now")
	}
	if err := st.Put(ctx, lastTopicsKey, topicList{Topics: topics, FetchedAt: e.now()}); err != nil {
		return Output{}, fmt.Errorf("save topics: %w", err)
	}

	var b strings.Builder
	b.WriteString("## 🔥 Trending topics\n\n")
	for i, t := range topics {
		fmt.Fprintf(&b, "%d. %s", i+1, t.Title)
		if t.HotValue != "" {
			fmt.Fprintf(&b, " (%s)", t.HotValue)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nUse `/zhihu-article <number or keyword>` to write about one of them.")
	return Output{Content: b.String(), Metadata: map[string]any{"topicCount": len(topics)}}, nil
}

// ZhihuArticleExecutor writes an answer-style article on a remembered topic.
type ZhihuArticleExecutor struct {
	gen Generator
}

func NewZhihuArticleExecutor(gen Generator) *ZhihuArticleExecutor {
	return &ZhihuArticleExecutor{gen: gen}
}

func (e *ZhihuArticleExecutor) Execute(ctx context.Context, st store.Store, job Job) (Output, error) {
	var p topicPayload
	if err := job.Decode(&p); err != nil {
		return Output{}, err
	}
	var list topicList
	found, err := st.Get(ctx, lastTopicsKey, &list)
	if err != nil {
		return Output{}, fmt.Errorf("load topics: %w", err)
	}
	if !found || len(list.Topics) == 0 {
		return Output{}, ErrNoTopics
	}
	topic, err := SelectTopic(list.Topics, p.Topic)
	if err != nil {
		return Output{}, err
	}

	prompt := fmt.Sprintf("Write a thoughtful long-form answer to the question %q.", topic.Title)
	if topic.Excerpt != "" {
		prompt += "\nContext: " + topic.Excerpt
	}
	prompt += "\nUse a clear structure, concrete examples and a short conclusion."
	text, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		return Output{}, fmt.Errorf("generation failed: %w", err)
	}
	return Output{
		Content:  fmt.Sprintf("## %s\n\n%s", topic.Title, strings.TrimSpace(text)),
		Metadata: map[string]any{"topic": topic.Title, "url": topic.URL},
	}, nil
}

// SelectTopic resolves a user selector: a 1-based index, a case-insensitive
// keyword, or empty for the first topic.
func SelectTopic(topics []Topic, selector string) (Topic, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return topics[0], nil
	}
	if n, err := strconv.Atoi(selector); err == nil {
		if n < 1 || n > len(topics) {
			return Topic{}, fmt.Errorf("%w: index %d out of range 1-%d", ErrTopicNotFound, n, len(topics))
		}
		return topics[n-1], nil
	}
	kw := strings.ToLower(selector)
	for _, t := range topics {
		if strings.Contains(strings.ToLower(t.Title), kw) {
			return t, nil
		}
	}
	return Topic{}, fmt.Errorf("%w: no topic matches %q", ErrTopicNotFound, selector)
}
