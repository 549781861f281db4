package external

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"go-chatroom/internal/task"
)

type topicItem struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Hot     any    `json:"hot"`
	Excerpt string `json:"excerpt"`
	Type    string `json:"type"`
}

type topicResponse struct {
	Status string      `json:"status"`
	Data   []topicItem `json:"data"`
}

// HTTPTopics reads trending topics from the data API's /api/zhihu/hot.
type HTTPTopics struct {
	baseURL string
	client  *http.Client
}

func NewHTTPTopics(baseURL string, client *http.Client) *HTTPTopics {
	return &HTTPTopics{baseURL: strings.TrimRight(baseURL, "/"), client: defaultClient(client)}
}

// HotTopics returns topics ordered by heat, hottest first.
func (t *HTTPTopics) HotTopics(ctx context.Context, limit int) ([]task.Topic, error) {
	u := t.baseURL + "/api/zhihu/hot?limit=" + url.QueryEscape(strconv.Itoa(limit))
	var resp topicResponse
	if err := doJSON(ctx, t.client, http.MethodGet, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch hot topics: %w", err)
	}

	type ranked struct {
		topic task.Topic
		heat  float64
	}
	items := make([]ranked, 0, len(resp.Data))
	for _, it := range resp.Data {
		if strings.TrimSpace(it.Title) == "" {
			continue
		}
		hot := hotString(it.Hot)
		heat, _ := strconv.ParseFloat(hot, 64)
		kind := it.Type
		if kind == "" {
			kind = "hot"
		}
		items = append(items, ranked{
			topic: task.Topic{Title: it.Title, URL: it.URL, HotValue: hot, Excerpt: it.Excerpt, Kind: kind},
			heat:  heat,
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].heat > items[j].heat })

	out := make([]task.Topic, 0, len(items))
	for _, it := range items {
		out = append(out, it.topic)
	}
	return head(out, limit), nil
}

func hotString(v any) string {
	switch h := v.(type) {
	case nil:
		return ""
	case string:
		return h
	case float64:
		return strconv.FormatFloat(h, 'f', -1, 64)
	default:
		return fmt.Sprint(h)
	}
}
