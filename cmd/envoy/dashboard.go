package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/acmxim/envoy/internal/push"
	"github.com/acmxim/envoy/pkg/types"
)

// analyticsCmd follows the live admin counters
var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Follow the live dashboard counters (admin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(true, func(s *session) error {
			dash, err := s.Analytics()
			if err != nil {
				return err
			}
			stopState := s.Push().WatchState(func(st push.ChannelState) {
				switch st.Status {
				case push.StatusConnected:
					fmt.Println("* live")
				case push.StatusConnecting:
					fmt.Printf("* reconnecting (attempt %d)\n", st.Attempt+1)
				default:
					fmt.Println("* offline")
				}
			})
			defer stopState()
			stop := dash.Watch(printStats)
			defer stop()
			<-s.ctx.Done()
			return nil
		})
	},
}

// newsCmd prints external technology news
var newsCmd = &cobra.Command{
	Use:   "news",
	Short: "Technology news from the configured feeds",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(false, func(s *session) error {
			items, err := s.News(s.ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(items)
			}
			printNews(items)
			return nil
		})
	},
}

// homeCmd prints the landing page
var homeCmd = &cobra.Command{
	Use:   "home",
	Short: "Latest posts, events and news at a glance",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(false, func(s *session) error {
			ov, err := s.Overview(s.ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(ov)
			}
			fmt.Println("== Posts")
			if len(ov.Posts) == 0 {
				fmt.Println("No updates available at the moment.")
			}
			for _, p := range ov.Posts {
				fmt.Println("  " + postLine(p))
			}
			fmt.Println("== Events")
			for _, e := range ov.Events {
				fmt.Println("  " + eventLine(e))
			}
			fmt.Println("== Tech pulse")
			if ov.NewsErr != nil {
				fmt.Printf("  unavailable: %v\n", ov.NewsErr)
			}
			printNews(ov.News)
			return nil
		})
	},
}

func printStats(s types.Stats) {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("--- %s\n", time.Now().Format(time.TimeOnly))
	for _, k := range keys {
		fmt.Printf("  %-20s %v\n", k, s[k])
	}
}

func printNews(items []types.NewsItem) {
	for _, it := range items {
		fmt.Printf("  [%s] %s\n    %s\n", it.Source, it.Title, it.URL)
	}
}
