// Command tracker runs the unlock engine on a single device. Position fixes
// and commands are read from stdin; engine events are written to stdout as
// JSON lines.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type options struct {
	api      string
	token    string
	logLevel string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "tracker",
		Short:         "Play a location adventure from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	api := os.Getenv("ADVENTURE_API")
	if api == "" {
		api = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&opts.api, "api", api, "backend base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("ADVENTURE_TOKEN"), "profile bearer token")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "INFO", "log level (DEBUG, INFO, WARN, ERROR)")

	root.AddCommand(newProjectsCmd(opts), newSignupCmd(opts), newPlayCmd(opts))
	return root
}

// newLogger logs to stderr so stdout stays a clean event stream.
func newLogger(cmd *cobra.Command, opts *options) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
		return nil, fmt.Errorf("parsing --log-level: %w", err)
	}
	return slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	})), nil
}
