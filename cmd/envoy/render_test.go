package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acmxim/envoy/internal/feed"
	"github.com/acmxim/envoy/pkg/types"
)

func TestOneLine(t *testing.T) {
	require.Equal(t, "a b c", oneLine("a\n  b\tc", 20))
	require.Equal(t, "abcdefg...", oneLine("abcdefghijklmnop", 10))
}

func TestLines(t *testing.T) {
	require.Equal(t, "Welcome (2 likes) hi there",
		postLine(types.Post{Title: "Welcome", Content: "hi\nthere", Likes: []string{"a", "b"}}))
	require.Equal(t, "Hack | 2025-03-01 | Lab 3 | https://r.example",
		eventLine(types.Event{Title: "Hack", Date: "2025-03-01", Location: "Lab 3", RegistrationLink: "https://r.example"}))
	require.Equal(t, "Intro (0 replies)", threadLine(types.Thread{Title: "Intro"}))
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"login"}, {"posts", "like"}, {"posts", "comments"}, {"forum", "reply"},
		{"events", "create"}, {"analytics"}, {"news"}, {"home"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		require.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestWatchViewDismissesShownNotices(t *testing.T) {
	r := feed.New(feed.Config[types.Post]{
		Name: "posts",
		ID:   func(p types.Post) string { return p.ID },
		Seed: []types.Post{{ID: "p1", Title: "Welcome"}},
	})
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watchView(ctx, r, postLine) }()

	var called atomic.Bool
	_, err := r.Delete("p1", func(context.Context) error {
		called.Store(true)
		return errors.New("boom")
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v := r.View()
		_, ok := v.Find("p1")
		return called.Load() && ok && len(v.Pending) == 0 && len(v.Notices) == 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
