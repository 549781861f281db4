package task

import (
	"context"
	"errors"
	"sync"

	"go-chatroom/internal/dispatch"
)

type fakeGenerator struct {
	mu      sync.Mutex
	text    string
	err     error
	prompts []string
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	return g.text, g.err
}

func (g *fakeGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

// fakePublisher fails the first failures calls.
type fakePublisher struct {
	mu       sync.Mutex
	failures int
	calls    int
	titles   []string
}

func (p *fakePublisher) Publish(_ context.Context, title, _ string) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.titles = append(p.titles, title)
	if p.calls <= p.failures {
		return nil, errors.New("proxy unavailable")
	}
	return map[string]any{"id": "post-1"}, nil
}

type fakeTopics struct {
	topics []Topic
	err    error
}

func (f fakeTopics) HotTopics(context.Context, int) ([]Topic, error) {
	return f.topics, f.err
}

type fakeNews struct {
	items []NewsItem
	err   error
	topic string
}

func (f *fakeNews) News(_ context.Context, topic string, _ int) ([]NewsItem, error) {
	f.topic = topic
	return f.items, f.err
}

type update struct {
	room, messageID, body string
	meta                  map[string]any
}

type recordingCallback struct {
	updates chan update
	err     error
}

func newRecordingCallback() *recordingCallback {
	return &recordingCallback{updates: make(chan update, 16)}
}

func (c *recordingCallback) UpdateMessage(_ context.Context, room, messageID, body string, meta map[string]any) error {
	c.updates <- update{room: room, messageID: messageID, body: body, meta: meta}
	return c.err
}

func liveTask(command string, payload any) dispatch.Task {
	t, err := dispatch.NewTask(command, payload, dispatch.CallbackInfo{
		RoomName:  "general",
		MessageID: "m-1",
		Username:  "alice",
	})
	if err != nil {
		panic(err)
	}
	return t
}

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialDelay: 0, MaxDelay: 0, BackoffMultiplier: 1}
}
