package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const rssA = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Alpha Tech</title>
<item><title>Older</title><link>https://a.example/1</link><pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate></item>
<item><title>Newest</title><link>https://a.example/2</link><pubDate>Wed, 04 Jan 2006 15:04:05 GMT</pubDate>
<enclosure url="https://a.example/2.png" type="image/png" length="1"/></item>
<item><title></title><link>https://a.example/skip</link></item>
</channel></rss>`

const atomB = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"><title>Beta News</title>
<entry><title>Middle</title><link href="https://b.example/1"/><updated>2006-01-03T15:04:05Z</updated></entry>
<entry><title>Dup</title><link href="https://a.example/1"/><updated>2006-01-01T00:00:00Z</updated></entry>
</feed>`

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssA))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/atom+xml")
		_, _ = w.Write([]byte(atomB))
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchMergesNewestFirst(t *testing.T) {
	srv := feedServer(t)
	f := NewFetcher([]string{srv.URL + "/a", srv.URL + "/b", srv.URL + "/broken"}, 0)

	items, err := f.Fetch(context.Background())
	require.NoError(t, err)

	titles := make([]string, 0, len(items))
	for _, it := range items {
		titles = append(titles, it.Title)
	}
	require.Len(t, items, 3)
	require.ElementsMatch(t, []string{"Newest", "Middle", "Older"}, titles)
	require.Equal(t, "Newest", items[0].Title)
	require.Equal(t, "Middle", items[1].Title)
	require.Equal(t, "Alpha Tech", items[0].Source)
	require.Equal(t, "https://a.example/2.png", items[0].Image)
	require.Equal(t, "Beta News", items[1].Source)
	require.True(t, items[0].PublishedAt.After(items[1].PublishedAt))
}

func TestFetchLimit(t *testing.T) {
	srv := feedServer(t)
	f := NewFetcher([]string{srv.URL + "/a"}, 1)
	items, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Newest", items[0].Title)
}

func TestFetchFailsWhenEveryFeedFails(t *testing.T) {
	srv := feedServer(t)
	f := NewFetcher([]string{srv.URL + "/broken"}, 0)
	_, err := f.Fetch(context.Background())
	require.Error(t, err)

	_, err = NewFetcher(nil, 0).Fetch(context.Background())
	require.ErrorIs(t, err, ErrNoFeeds)
}

func TestFetchHonoursContext(t *testing.T) {
	srv := feedServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	_, err := NewFetcher([]string{srv.URL + "/a"}, 0).Fetch(ctx)
	require.Error(t, err)
}
