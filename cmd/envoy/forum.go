package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acmxim/envoy/pkg/types"
)

var (
	threadTitle string
	threadDesc  string
)

// forumCmd lists discussion threads
var forumCmd = &cobra.Command{
	Use:   "forum",
	Short: "Discussion forum",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(false, func(s *session) error {
			threads, err := s.Threads()
			if err != nil {
				return err
			}
			return listView(s.ctx, threads.Reconciler, threadLine)
		})
	},
}

var forumShowCmd = &cobra.Command{
	Use:   "show <thread-id>",
	Short: "Print a thread with its replies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(false, func(s *session) error {
			threads, err := s.Threads()
			if err != nil {
				return err
			}
			v, err := waitLoaded(s.ctx, threads.Reconciler)
			if err != nil {
				return err
			}
			it, ok := v.Find(args[0])
			if !ok {
				return fmt.Errorf("thread %s not found", args[0])
			}
			if asJSON {
				return printJSON(it.Value)
			}
			printThread(it.Value)
			return nil
		})
	},
}

var forumWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the forum, including live replies, until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(true, func(s *session) error {
			threads, err := s.Threads()
			if err != nil {
				return err
			}
			return watchView(s.ctx, threads.Reconciler, threadLine)
		})
	},
}

var forumCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Start a thread",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(false, func(s *session) error {
			threads, err := s.Threads()
			if err != nil {
				return err
			}
			tempID, err := threads.Create(threadTitle, threadDesc)
			if err := settle(s.ctx, threads.Reconciler, tempID, err); err != nil {
				return err
			}
			fmt.Println("Thread created.")
			return nil
		})
	},
}

var forumReplyCmd = &cobra.Command{
	Use:   "reply <thread-id> <text>",
	Short: "Reply to a thread",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(false, func(s *session) error {
			threads, err := s.Threads()
			if err != nil {
				return err
			}
			if _, err := waitLoaded(s.ctx, threads.Reconciler); err != nil {
				return err
			}
			op, err := threads.Reply(args[0], args[1])
			if err := settle(s.ctx, threads.Reconciler, op, err); err != nil {
				return err
			}
			if it, ok := threads.View().Find(args[0]); ok {
				printThread(it.Value)
			}
			return nil
		})
	},
}

var forumDeleteCmd = &cobra.Command{
	Use:   "delete <thread-id>",
	Short: "Delete a thread (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(false, func(s *session) error {
			threads, err := s.Threads()
			if err != nil {
				return err
			}
			if _, err := waitLoaded(s.ctx, threads.Reconciler); err != nil {
				return err
			}
			op, err := threads.Delete(args[0])
			if err := settle(s.ctx, threads.Reconciler, op, err); err != nil {
				return err
			}
			fmt.Println("Thread deleted.")
			return nil
		})
	},
}

func init() {
	forumCreateCmd.Flags().StringVar(&threadTitle, "title", "", "Thread title")
	forumCreateCmd.Flags().StringVar(&threadDesc, "description", "", "Opening post")
	_ = forumCreateCmd.MarkFlagRequired("title")

	forumCmd.AddCommand(forumShowCmd, forumWatchCmd, forumCreateCmd, forumReplyCmd, forumDeleteCmd)
}

func threadLine(t types.Thread) string {
	return fmt.Sprintf("%s (%d replies)", t.Title, len(t.Replies))
}

func printThread(t types.Thread) {
	fmt.Printf("# %s\n", t.Title)
	if t.Description != "" {
		fmt.Println(t.Description)
	}
	for _, r := range t.Replies {
		who := r.User
		if who == "" {
			who = "anonymous"
		}
		fmt.Printf("  %s: %s\n", who, r.Text)
	}
}
