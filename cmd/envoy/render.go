package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/acmxim/envoy/internal/feed"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// waitLoaded blocks until the first fetch of r has finished.
func waitLoaded[T any](ctx context.Context, r *feed.Reconciler[T]) (feed.View[T], error) {
	loaded := make(chan feed.View[T], 1)
	cancel := r.Watch(func(v feed.View[T]) {
		if v.Status != feed.StatusReady && v.Status != feed.StatusFailed {
			return
		}
		select {
		case loaded <- v:
		default:
		}
	})
	defer cancel()

	select {
	case v := <-loaded:
		if v.Status == feed.StatusFailed {
			return v, fmt.Errorf("load: %w", v.Err)
		}
		return v, nil
	case <-ctx.Done():
		return feed.View[T]{}, ctx.Err()
	}
}

// settle waits for the server's verdict on a mutation.
func settle[T any](ctx context.Context, r *feed.Reconciler[T], ref string, err error) error {
	if err != nil {
		return err
	}
	return r.Await(ctx, ref)
}

// watchView renders every new view of r until ctx ends. A notice is shown
// once and then dismissed.
func watchView[T any](ctx context.Context, r *feed.Reconciler[T], line func(T) string) error {
	cancel := r.Watch(func(v feed.View[T]) {
		fmt.Printf("--- %s\n", time.Now().Format(time.TimeOnly))
		printView(v, line)
		for _, n := range v.Notices {
			_ = r.Dismiss(n.ID)
		}
	})
	defer cancel()
	<-ctx.Done()
	return nil
}

func listView[T any](ctx context.Context, r *feed.Reconciler[T], line func(T) string) error {
	v, err := waitLoaded(ctx, r)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(v.Values())
	}
	printView(v, line)
	return nil
}

func printView[T any](v feed.View[T], line func(T) string) {
	switch v.Status {
	case feed.StatusLoading:
		if len(v.Items) == 0 {
			fmt.Println("loading...")
		}
	case feed.StatusFailed:
		fmt.Printf("could not refresh: %v\n", v.Err)
	}
	if len(v.Items) == 0 && v.Status == feed.StatusReady {
		fmt.Println("nothing here yet")
	}
	for _, it := range v.Items {
		mark := " "
		if it.Origin == feed.OriginPending {
			mark = "~"
		}
		fmt.Printf("%s %-26s %s\n", mark, it.Key(), line(it.Value))
	}
	for _, n := range v.Notices {
		fmt.Printf("! %s\n", n.Message())
	}
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}
