package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/topicq/pubsub"
)

func newNamesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "names [kinds...]",
		Short: "Print the topic and queue names derived from the configuration",
		Long: `Print the resource names derived from the prefix, the service and the
given message kinds. No AWS calls are made.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			naming := a.cfg.Naming()

			if err := naming.Validate(false); err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			if naming.Service() != "" {
				queue, err := naming.QueueName()
				if err != nil {
					return err
				}

				dlq, err := naming.DeadLetterQueueName()
				if err != nil {
					return err
				}

				fmt.Fprintf(out, "queue\t%s\n", queue)
				fmt.Fprintf(out, "dead-letter-queue\t%s\n", dlq)
			}

			for _, kind := range args {
				topic, err := naming.TopicName(pubsub.MessageKind(kind))
				if err != nil {
					return err
				}

				fmt.Fprintf(out, "topic\t%s\t%s\n", kind, topic)
			}

			return nil
		},
	}
}
