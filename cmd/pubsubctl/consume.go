package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"github.com/slackmgr/types"
	"github.com/spf13/cobra"
	"github.com/topicq/pubsub"
)

func newConsumeCmd(a *app) *cobra.Command {
	var echo bool

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Receive and log messages from the service queue until interrupted",
		Long: `Ensure the service queue and dead-letter queue exist, then receive, log and
delete messages until SIGINT or SIGTERM. With --echo, each body is also
written to standard output.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			client, closer, err := a.client(ctx, true)
			if err != nil {
				return err
			}
			defer closer.Close()

			var out io.Writer
			if echo {
				out = cmd.OutOrStdout()
			}

			consumer, err := client.NewConsumer(newLogHandler(a.logger, out))
			if err != nil {
				return err
			}

			return consumer.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&echo, "echo", false, "write message bodies to standard output")

	return cmd
}

// logHandler logs every message and optionally echoes its body. It prefers
// the per-message scope logger over its own.
type logHandler struct {
	logger types.Logger
	mu     sync.Mutex
	out    io.Writer
}

func newLogHandler(logger types.Logger, out io.Writer) *logHandler {
	return &logHandler{logger: logger, out: out}
}

func (h *logHandler) Handle(ctx context.Context, msg *pubsub.Message) error {
	logger := h.logger
	if scoped, ok := pubsub.ScopeLogger(ctx); ok {
		logger = scoped
	}

	logger.WithField("receive_count", msg.ReceiveCount).Infof("Received message of %d bytes", len(msg.Body))

	if h.out == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := fmt.Fprintln(h.out, msg.Body)

	return err
}
