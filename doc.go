// Package pubsub is a thin client layer over AWS SNS and SQS. Application
// code publishes typed messages to SNS topics and consumes them from one SQS
// queue per service, without managing the lifecycle of the underlying
// resources by hand.
//
// # Naming
//
// Every resource name is derived from a prefix (typically environment and
// region, e.g. "au-dev"), a service name and a [MessageKind]:
//
//	topic              {prefix}-{kind}          (at most 256 characters)
//	queue              {prefix}-{service}       (at most 80 characters)
//	dead-letter queue  {prefix}-{service}-dlq   (at most 80 characters)
//
// Names are lower-cased and truncated with a hard cut. See [Naming].
//
// # Client
//
// Create a client with [New] and initialise it with [Client.Init]:
//
//	client, err := pubsub.New(&awsCfg, pubsub.NewNaming("au-dev", "discounts"), logger,
//	    pubsub.WithLedger(ledger),
//	).Init(ctx)
//
// The client hands out a [Reconciler], a [Publisher] and any number of
// [Consumer] values. They share one resolution [Cache], so a topic ARN or
// queue URL is looked up at most once per process.
//
// # Provisioning
//
// The [Reconciler] creates topics, queues, the dead-letter queue and
// subscriptions when they are missing and re-applies their attributes
// (retention, redrive policy, raw message delivery, queue access policy)
// every time. All Ensure* methods are idempotent and may run concurrently,
// also from several processes:
//
//	r := client.Reconciler()
//	if _, err := r.EnsureTopicExists(ctx, OrderSubmitted); err != nil { ... }
//	if _, err := r.EnsureQueuesExist(ctx); err != nil { ... }
//	if _, err := r.EnsureSubscriptionExists(ctx, OrderSubmitted); err != nil { ... }
//
// EnsureSubscriptionExists never creates the topic or the queue it binds.
// When a [Ledger] is configured with [WithLedger], every ensured resource is
// recorded there; the dynamodb and postgres sub-packages provide ledgers.
//
// # Publishing
//
//	err := client.Publisher().PublishToTopic(ctx, OrderSubmitted, body)
//
// The publisher only looks topics up. A missing topic is reported as a
// [*TopicNotFoundError].
//
// # Consuming
//
//	consumer, err := client.NewConsumer(pubsub.HandlerFunc(func(ctx context.Context, msg *pubsub.Message) error {
//	    return process(ctx, msg.Body)
//	}))
//	err = consumer.Run(ctx)
//
// Messages are handled one at a time and deleted after the handler returns
// nil. Failed messages are left on the queue and redelivered; after
// [WithMaxReceiveCount] receives SQS moves them to the dead-letter queue.
// [Consumer.Run] recovers from every failure except a failed start-up and
// returns nil when ctx is cancelled.
package pubsub
