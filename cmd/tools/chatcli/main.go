// Command chatcli talks to the chat backend from a terminal using the same
// exchange client as the web views.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/floatchat/backend/internal/config"
	"github.com/floatchat/backend/internal/logging"
	"github.com/floatchat/backend/internal/service/chat"
)

type options struct {
	greeting string
	endpoint string
	timeout  time.Duration
	retries  int
	backoff  time.Duration
	logLevel string
	plain    bool
}

func main() {
	_ = godotenv.Load()

	defaults, err := config.LoadChat()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := newRootCmd(defaults).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(defaults config.ChatConfig) *cobra.Command {
	opts := options{greeting: defaults.Greeting}

	cmd := &cobra.Command{
		Use:   "chatcli",
		Short: "Chat with the FloatChat backend from the terminal",
		Long: `Start an interactive chat session against a FloatChat inference endpoint.

Type a message and press Enter. Ctrl-C cancels a pending reply;
/quit or end of input leaves the session.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.endpoint, "endpoint", defaults.Endpoint, "chat endpoint URL")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", defaults.Timeout, "per-attempt request timeout (0 disables)")
	cmd.Flags().IntVar(&opts.retries, "retries", defaults.Retries, "extra attempts after a transport or 5xx failure")
	cmd.Flags().DurationVar(&opts.backoff, "backoff", defaults.Backoff, "delay between retries, multiplied by the attempt number")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "warn", "log level for request diagnostics")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "disable colours")

	return cmd
}

func runChat(ctx context.Context, cmd *cobra.Command, opts options) error {
	if opts.retries < 0 {
		return fmt.Errorf("--retries must be >= 0")
	}

	logger, err := logging.New(opts.logLevel, "console")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	replier := chat.NewHTTPReplier(opts.endpoint, chat.Policy{
		Timeout: opts.timeout,
		Retries: opts.retries,
		Backoff: opts.backoff,
	}, nil, logger)
	exchange := chat.NewExchange(replier, opts.greeting, logger.With(zap.String("component", "chatcli")))

	s := &session{
		exchange: exchange,
		in:       cmd.InOrStdin(),
		out:      cmd.OutOrStdout(),
		styles:   newStyles(opts.plain),
		interruptible: func(parent context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(parent, os.Interrupt)
		},
	}
	return s.run(ctx)
}
