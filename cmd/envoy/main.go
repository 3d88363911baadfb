package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/acmxim/envoy/internal/config"
	"github.com/acmxim/envoy/pkg/logger"
	"github.com/acmxim/envoy/sdk"
)

var (
	verbose bool
	timeout time.Duration
	asJSON  bool

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "envoy",
	Short: "envoy - ACM-XIM chapter client",
	Long: `envoy talks to the chapter platform: news posts, the forum, events and,
for admins, the live analytics dashboard.

Configuration is read from $ENVOY_HOME_DIR/config.yaml (default ~/.envoy)
and ENVOY_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if verbose {
			cfg.LogLevel = "debug"
		}
		level, err := logger.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
		logger.SetDevelopment(cfg.Debug || verbose)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Timeout for one-shot commands")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, whoamiCmd)
	rootCmd.AddCommand(postsCmd, forumCmd, eventsCmd)
	rootCmd.AddCommand(analyticsCmd, newsCmd, homeCmd)
}

// session is one CLI invocation's client.
type session struct {
	*sdk.Client
	ctx context.Context
}

// withClient builds a client, restores the stored session and runs fn.
// Watch commands pass live=true to keep running until interrupted.
func withClient(live bool, fn func(s *session) error) error {
	client, err := sdk.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warnf("close: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if !live {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := client.Start(ctx); err != nil {
		return err
	}
	return fn(&session{Client: client, ctx: ctx})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
