package task

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go-chatroom/internal/store"
)

// MaxTitleRunes is the longest title the publishing proxy accepts.
const MaxTitleRunes = 30

// Templates for article generation.
const (
	TemplateStory   = "story"
	TemplateScience = "science"
	TemplateZhihu   = "zhihu"
	TemplateDefault = "default"
)

var templateKeywords = []struct {
	name     string
	keywords []string
}{
	{TemplateStory, []string{"故事", "小说", "情节", "人物", "童话", "story", "novel", "character", "tale"}},
	{TemplateScience, []string{"科学", "技术", "研究", "原理", "实验", "science", "technology", "research", "physics"}},
	{TemplateZhihu, []string{"如何", "为什么", "怎么看", "观点", "经验", "how", "why", "opinion", "advice"}},
}

var templatePrompts = map[string]string{
	TemplateStory: "Write a short story for a news feed about: %s\n" +
		"Start with a markdown heading of at most 30 characters, then the story in vivid paragraphs.",
	TemplateScience: "Write a popular science article about: %s\n" +
		"Start with a markdown heading of at most 30 characters. Explain the principle, give examples, end with an outlook.",
	TemplateZhihu: "Answer the following question in the style of an experienced expert: %s\n" +
		"Start with a markdown heading of at most 30 characters, then a structured answer with personal insight.",
	TemplateDefault: "Write a feed article about: %s\n" +
		"Start with a markdown heading of at most 30 characters, then three to five well organized paragraphs.",
}

// SelectTemplate picks the template whose keywords occur most often in the
// request. Ties go to the earlier template; no hit selects the default.
func SelectTemplate(request string) string {
	lower := strings.ToLower(request)
	best, bestHits := TemplateDefault, 0
	for _, t := range templateKeywords {
		hits := 0
		for _, kw := range t.keywords {
			if strings.Contains(lower, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = t.name, hits
		}
	}
	return best
}

// Article is generated text split into its publishable parts.
type Article struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Summary string `json:"summary"`
}

var (
	headingRE   = regexp.MustCompile(`(?m)^#{1,6}[ \t]+(.+)$`)
	sentenceRE  = regexp.MustCompile(`[^。！？.!?]+[。！？.!?]?`)
	blankLineRE = regexp.MustCompile(`\n\s*\n+`)
	spaceRE     = regexp.MustCompile(`\s+`)
)

const (
	fallbackTitle = "Reflections"
	summaryRunes  = 200
)

// ExtractArticle derives title, body and summary from generated text. The
// title is the first markdown heading, else a short first line, else the
// first sentence cut to MaxTitleRunes.
func ExtractArticle(text string) (Article, error) {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return Article{}, errors.New("generator returned no text")
	}

	var title, body string
	if loc := headingRE.FindStringSubmatchIndex(text); loc != nil {
		title = text[loc[2]:loc[3]]
		body = text[:loc[0]] + text[loc[1]:]
	} else {
		first, rest, _ := strings.Cut(text, "\n")
		first = strings.TrimSpace(first)
		if utf8.RuneCountInString(first) <= MaxTitleRunes {
			title, body = first, rest
		} else {
			title, body = firstSentence(text), text
		}
	}

	title = strings.Trim(strings.TrimSpace(title), "\"'“”‘’*《》")
	if title == "" {
		title = fallbackTitle
	}
	body = strings.TrimSpace(blankLineRE.ReplaceAllString(body, "\n\n"))
	if body == "" {
		body = text
	}
	return Article{Title: title, Content: body, Summary: summarize(body)}, nil
}

func firstSentence(text string) string {
	for _, s := range sentenceRE.FindAllString(text, -1) {
		s = strings.TrimSpace(s)
		if utf8.RuneCountInString(s) > 5 {
			return truncateRunes(strings.TrimRight(s, "。！？.!?"), MaxTitleRunes)
		}
	}
	return truncateRunes(text, MaxTitleRunes)
}

func summarize(body string) string {
	flat := strings.TrimSpace(spaceRE.ReplaceAllString(headingRE.ReplaceAllString(body, "$1"), " "))
	if utf8.RuneCountInString(flat) <= summaryRunes {
		return flat
	}
	return truncateRunes(flat, summaryRunes) + "..."
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ValidateTitle reports whether the publishing proxy would accept title.
func ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return errors.New("title is empty")
	}
	if n := utf8.RuneCountInString(title); n > MaxTitleRunes {
		return fmt.Errorf("title has %d characters, the limit is %d", n, MaxTitleRunes)
	}
	return nil
}

type articlePayload struct {
	Content string `json:"content"`
}

// ArticleExecutor generates a feed article and publishes it.
type ArticleExecutor struct {
	gen    Generator
	pub    Publisher
	policy Policy
}

func NewArticleExecutor(gen Generator, pub Publisher, policy Policy) *ArticleExecutor {
	return &ArticleExecutor{gen: gen, pub: pub, policy: policy}
}

func (e *ArticleExecutor) Execute(ctx context.Context, _ store.Store, job Job) (Output, error) {
	var p articlePayload
	if err := job.Decode(&p); err != nil {
		return Output{}, err
	}
	request := strings.TrimSpace(p.Content)
	if request == "" {
		return Output{}, errors.New("nothing to write about, add a topic after the command")
	}

	tmpl := SelectTemplate(request)
	text, err := e.gen.Generate(ctx, fmt.Sprintf(templatePrompts[tmpl], request))
	if err != nil {
		return Output{}, fmt.Errorf("generation failed: %w", err)
	}
	art, err := ExtractArticle(text)
	if err != nil {
		return Output{}, err
	}
	if err := ValidateTitle(art.Title); err != nil {
		return Output{}, fmt.Errorf("invalid title %q: %w", art.Title, err)
	}

	var receipt map[string]any
	attempts, err := e.policy.Retry(ctx, func(int) error {
		var perr error
		receipt, perr = e.pub.Publish(ctx, art.Title, art.Content)
		return perr
	})
	if err != nil {
		return Output{}, fmt.Errorf("publish %w", err)
	}

	content := fmt.Sprintf("# %s\n\n%s\n\n> ✅ published", art.Title, art.Content)
	meta := map[string]any{
		"title":          art.Title,
		"summary":        art.Summary,
		"template":       tmpl,
		"publishAttempt": attempts,
	}
	if len(receipt) > 0 {
		meta["publish"] = receipt
	}
	return Output{Content: content, Metadata: meta}, nil
}
