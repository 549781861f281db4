package chat

import (
	"strings"

	"go-chatroom/internal/task"
)

type commandRule struct {
	prefix  string
	command string
	args    func(rest string) any
}

func contentArg(rest string) any { return map[string]string{"content": rest} }
func topicArg(rest string) any   { return map[string]string{"topic": rest} }
func noArg(string) any           { return map[string]string{} }

// commandTable is matched in order against the trimmed text; the first
// prefix that matches wins. Matching is case-sensitive.
var commandTable = []commandRule{
	{"/headline", task.CommandArticle, contentArg},
	{"/头条", task.CommandArticle, contentArg},
	{"/zhihu-hot", task.CommandZhihuHot, noArg},
	{"/知乎热点", task.CommandZhihuHot, noArg},
	{"/zhihu-article", task.CommandZhihuArticle, topicArg},
	{"/知乎文章", task.CommandZhihuArticle, topicArg},
	{"/news", task.CommandNews, topicArg},
	{"/新闻", task.CommandNews, topicArg},
}

// classify returns the command and its payload for text, or ok=false when
// text is plain chat.
func classify(text string) (command string, payload any, ok bool) {
	text = strings.TrimSpace(text)
	for _, rule := range commandTable {
		if rest, found := strings.CutPrefix(text, rule.prefix); found {
			return rule.command, rule.args(strings.TrimSpace(rest)), true
		}
	}
	return "", nil, false
}

// providerNames maps provider chat frames to the author of the reply.
var providerNames = map[string]string{
	FrameGeminiChat:   "Gemini",
	FrameDeepSeekChat: "DeepSeek",
	FrameKimiChat:     "Kimi",
}

// providerID is the ai_chat provider key for a frame type.
func providerID(frameType string) string {
	return strings.TrimSuffix(frameType, "_chat")
}
