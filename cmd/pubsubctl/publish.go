package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/topicq/pubsub"
)

func newPublishCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "publish KIND [BODY|-]",
		Short: "Publish a message body to a kind's topic",
		Long: `Publish BODY to the topic of KIND. With no BODY, or with "-", the body is
read from standard input. The topic must already exist.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(cmd.InOrStdin(), args[1:])
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			client, closer, err := a.client(ctx, false)
			if err != nil {
				return err
			}
			defer closer.Close()

			if err := client.Publisher().PublishToTopic(ctx, pubsub.MessageKind(args[0]), body); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "published %d bytes to %s\n", len(body), args[0])

			return nil
		},
	}
}

func readBody(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}

	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read message body: %w", err)
	}

	return string(b), nil
}
