// Command pubsubctl provisions, publishes to and consumes from the SNS topics
// and SQS queues managed by the pubsub library.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
