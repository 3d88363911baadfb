// Package news aggregates external technology news from RSS and Atom feeds
// into a read-only list.
package news

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/acmxim/envoy/pkg/logger"
	"github.com/acmxim/envoy/pkg/types"
)

// MaxConcurrency is the number of feeds fetched in parallel.
const MaxConcurrency = 4

// UserAgent is sent with every feed request.
const UserAgent = "envoy-news/1.0"

// ErrNoFeeds is returned when the fetcher has nothing to read.
var ErrNoFeeds = errors.New("no news feeds configured")

// Fetcher reads a fixed list of feeds.
type Fetcher struct {
	feeds []string
	limit int
	now   func() time.Time
}

// NewFetcher creates a fetcher for feeds. limit caps the merged list
// (0 means no cap).
func NewFetcher(feeds []string, limit int) *Fetcher {
	return &Fetcher{
		feeds: append([]string(nil), feeds...),
		limit: limit,
		now:   time.Now,
	}
}

// Fetch reads every feed and returns their items newest first, deduplicated
// by link. A feed that fails is skipped; Fetch fails only when all of them
// do.
func (f *Fetcher) Fetch(ctx context.Context) ([]types.NewsItem, error) {
	if len(f.feeds) == 0 {
		return nil, ErrNoFeeds
	}

	var (
		mu     sync.Mutex
		items  []types.NewsItem
		failed []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrency)
	for _, url := range f.feeds {
		url := url
		g.Go(func() error {
			got, err := f.fetchFeed(gctx, url)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warnf("news: %v", err)
				failed = append(failed, err)
				return nil
			}
			items = append(items, got...)
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) == len(f.feeds) {
		return nil, errors.Join(failed...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
	items = dedupe(items)
	if f.limit > 0 && len(items) > f.limit {
		items = items[:f.limit]
	}
	return items, nil
}

func (f *Fetcher) fetchFeed(ctx context.Context, url string) ([]types.NewsItem, error) {
	// gofeed parsers keep per-document state; one per fetch.
	parser := gofeed.NewParser()
	parser.UserAgent = UserAgent
	parsed, err := parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", url, err)
	}

	source := strings.TrimSpace(parsed.Title)
	fallback := f.now()
	out := make([]types.NewsItem, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item.Link == "" || item.Title == "" {
			continue
		}
		published := fallback
		switch {
		case item.PublishedParsed != nil:
			published = *item.PublishedParsed
		case item.UpdatedParsed != nil:
			published = *item.UpdatedParsed
		}
		out = append(out, types.NewsItem{
			Title:       strings.TrimSpace(item.Title),
			URL:         item.Link,
			Source:      source,
			Image:       imageOf(item),
			Description: strings.TrimSpace(item.Description),
			PublishedAt: published,
		})
	}
	return out, nil
}

func imageOf(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}

func dedupe(items []types.NewsItem) []types.NewsItem {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, it := range items {
		if seen[it.URL] {
			continue
		}
		seen[it.URL] = true
		out = append(out, it)
	}
	return out
}
