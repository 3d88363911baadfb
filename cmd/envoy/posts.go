package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/acmxim/envoy/pkg/types"
)

var (
	postTitle   string
	postContent string
)

// postsCmd lists chapter posts
var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "Chapter news posts",
	Long: `List chapter posts. Subcommands like, comment and watch the feed; admins
can also create and delete posts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(false, func(s *session) error {
			posts, err := s.Posts()
			if err != nil {
				return err
			}
			return listView(s.ctx, posts.Reconciler, postLine)
		})
	},
}

var postsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the feed until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(true, func(s *session) error {
			posts, err := s.Posts()
			if err != nil {
				return err
			}
			return watchView(s.ctx, posts.Reconciler, postLine)
		})
	},
}

var postsLikeCmd = &cobra.Command{
	Use:   "like <post-id>",
	Short: "Like or unlike a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(false, func(s *session) error {
			posts, err := s.Posts()
			if err != nil {
				return err
			}
			if _, err := waitLoaded(s.ctx, posts.Reconciler); err != nil {
				return err
			}
			op, err := posts.ToggleLike(args[0])
			if err := settle(s.ctx, posts.Reconciler, op, err); err != nil {
				return err
			}
			if it, ok := posts.View().Find(args[0]); ok {
				fmt.Println(postLine(it.Value))
			}
			return nil
		})
	},
}

var postsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Publish a post (admin)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(false, func(s *session) error {
			posts, err := s.Posts()
			if err != nil {
				return err
			}
			tempID, err := posts.Create(postTitle, postContent)
			if err := settle(s.ctx, posts.Reconciler, tempID, err); err != nil {
				return err
			}
			fmt.Println("Post published.")
			return nil
		})
	},
}

var postsDeleteCmd = &cobra.Command{
	Use:   "delete <post-id>",
	Short: "Delete a post (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(false, func(s *session) error {
			posts, err := s.Posts()
			if err != nil {
				return err
			}
			if _, err := waitLoaded(s.ctx, posts.Reconciler); err != nil {
				return err
			}
			op, err := posts.Delete(args[0])
			if err := settle(s.ctx, posts.Reconciler, op, err); err != nil {
				return err
			}
			fmt.Println("Post deleted.")
			return nil
		})
	},
}

var postsCommentsCmd = &cobra.Command{
	Use:   "comments <post-id>",
	Short: "List the comments of a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(false, func(s *session) error {
			comments, err := s.Comments(args[0])
			if err != nil {
				return err
			}
			return listView(s.ctx, comments.Reconciler, commentLine)
		})
	},
}

var postsCommentCmd = &cobra.Command{
	Use:   "comment <post-id> <text>",
	Short: "Comment on a post",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(false, func(s *session) error {
			comments, err := s.Comments(args[0])
			if err != nil {
				return err
			}
			tempID, err := comments.Add(args[1])
			return settle(s.ctx, comments.Reconciler, tempID, err)
		})
	},
}

var postsUncommentCmd = &cobra.Command{
	Use:   "uncomment <post-id> <comment-id>",
	Short: "Delete a comment (admin)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(false, func(s *session) error {
			comments, err := s.Comments(args[0])
			if err != nil {
				return err
			}
			if _, err := waitLoaded(s.ctx, comments.Reconciler); err != nil {
				return err
			}
			op, err := comments.Delete(args[1])
			return settle(s.ctx, comments.Reconciler, op, err)
		})
	},
}

func init() {
	postsCreateCmd.Flags().StringVar(&postTitle, "title", "", "Post title")
	postsCreateCmd.Flags().StringVar(&postContent, "content", "", "Post body")
	_ = postsCreateCmd.MarkFlagRequired("title")

	postsCmd.AddCommand(postsWatchCmd, postsLikeCmd, postsCreateCmd, postsDeleteCmd)
	postsCmd.AddCommand(postsCommentsCmd, postsCommentCmd, postsUncommentCmd)
}

func postLine(p types.Post) string {
	return fmt.Sprintf("%s (%d likes) %s", p.Title, len(p.Likes), oneLine(p.Content, 60))
}

func commentLine(c types.Comment) string {
	return fmt.Sprintf("%s: %s", c.AuthorName(), oneLine(c.Text, 80))
}
