package external

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"go-chatroom/internal/task"
)

// fallbackNews is how many top items are returned when nothing matches the
// topic.
const fallbackNews = 3

type feedResponse struct {
	Data []task.NewsItem `json:"data"`
}

// HTTPNews merges several JSON news feeds of the form {"data": [...]}.
type HTTPNews struct {
	feeds  []string
	client *http.Client
	logger *slog.Logger
}

func NewHTTPNews(feeds []string, client *http.Client, logger *slog.Logger) *HTTPNews {
	return &HTTPNews{feeds: feeds, client: defaultClient(client), logger: logger}
}

// News fetches every feed concurrently. A failing feed is skipped; only
// when all fail is an error returned. Items whose title contains topic are
// preferred; with none, the top few items stand in.
func (n *HTTPNews) News(ctx context.Context, topic string, limit int) ([]task.NewsItem, error) {
	if len(n.feeds) == 0 {
		return nil, errors.New("no news feeds configured")
	}

	results := make([][]task.NewsItem, len(n.feeds))
	errs := make([]error, len(n.feeds))
	g, gctx := errgroup.WithContext(ctx)
	for i, feed := range n.feeds {
		g.Go(func() error {
			var resp feedResponse
			if err := doJSON(gctx, n.client, http.MethodGet, feed, nil, &resp); err != nil {
				n.logger.Warn("news feed failed", "feed", feed, "error", err)
				errs[i] = err
				return nil
			}
			for j := range resp.Data {
				if resp.Data[j].Source == "" {
					resp.Data[j].Source = feed
				}
			}
			results[i] = resp.Data
			return nil
		})
	}
	_ = g.Wait()

	var all []task.NewsItem
	failed := 0
	for i := range n.feeds {
		if errs[i] != nil {
			failed++
			continue
		}
		all = append(all, results[i]...)
	}
	if failed == len(n.feeds) {
		return nil, errors.Join(errs...)
	}

	if topic == "" {
		return head(all, limit), nil
	}
	kw := strings.ToLower(topic)
	var matched []task.NewsItem
	for _, it := range all {
		if strings.Contains(strings.ToLower(it.Title), kw) {
			matched = append(matched, it)
		}
	}
	if len(matched) == 0 {
		return head(all, fallbackNews), nil
	}
	return head(matched, limit), nil
}

func head[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
