package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/topicq/pubsub"
)

func newProvisionCmd(a *app) *cobra.Command {
	var (
		topics     []string
		subscribes []string
	)

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create or verify topics, queues and subscriptions",
		Long: `Ensure the topics for --topic kinds exist. For --subscribe kinds, also ensure
the service queue and its dead-letter queue exist and are subscribed to the
kind's topic. Outcomes are written to the ledger when one is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(topics) == 0 && len(subscribes) == 0 {
				return errors.New("nothing to provision: pass --topic or --subscribe")
			}

			ctx := cmd.Context()

			client, closer, err := a.client(ctx, true)
			if err != nil {
				return err
			}
			defer closer.Close()

			reconciler := client.Reconciler()
			out := cmd.OutOrStdout()

			for _, kind := range append(append([]string(nil), topics...), subscribes...) {
				arn, err := reconciler.EnsureTopicExists(ctx, pubsub.MessageKind(kind))
				if err != nil {
					return err
				}

				fmt.Fprintf(out, "topic\t%s\t%s\n", kind, arn)
			}

			if len(subscribes) == 0 {
				return nil
			}

			handles, err := reconciler.EnsureQueuesExist(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "queue\t%s\n", handles.Queue)
			fmt.Fprintf(out, "dead-letter-queue\t%s\n", handles.DeadLetterQueue)

			for _, kind := range subscribes {
				arn, err := reconciler.EnsureSubscriptionExists(ctx, pubsub.MessageKind(kind))
				if err != nil {
					return err
				}

				fmt.Fprintf(out, "subscription\t%s\t%s\n", kind, arn)
			}

			return nil
		},
	}

	cmd.Flags().StringSliceVar(&topics, "topic", nil, "message kind whose topic should exist (repeatable)")
	cmd.Flags().StringSliceVar(&subscribes, "subscribe", nil, "message kind the service queue should receive (repeatable)")

	return cmd
}
