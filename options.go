package pubsub

import (
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Option is a functional option for configuring a [Client].
// Options are passed to [New] and applied before [Client.Init] is called.
type Option func(*Options)

// Options holds the resolved configuration for a [Client].
// All fields are set to sensible defaults by [New]; use With* functions to
// override individual values.
type Options struct {
	sqsReceiveMaxNumberOfMessages int32
	sqsReceiveWaitTimeSeconds     int32
	sqsVisibilityTimeoutSeconds   int32
	awsAPIMaxRetryAttempts        int
	awsAPIMaxRetryBackoffDelay    time.Duration
	maxMessageExtension           time.Duration
	emptyQueueDelay               time.Duration
	errorDelay                    time.Duration
	ackTimeout                    time.Duration
	messageRetentionPeriod        time.Duration
	maxReceiveCount               int
	cache                         *Cache
	ledger                        Ledger
	tracer                        trace.Tracer
	snsClient                     snsClient // Optional: injected SNS client for testing
	sqsClient                     sqsClient // Optional: injected SQS client for testing
}

func newOptions() *Options {
	return &Options{
		sqsReceiveMaxNumberOfMessages: 1,
		sqsReceiveWaitTimeSeconds:     20,
		sqsVisibilityTimeoutSeconds:   0, // queue default
		awsAPIMaxRetryAttempts:        5,
		awsAPIMaxRetryBackoffDelay:    10 * time.Second,
		maxMessageExtension:           10 * time.Minute,
		emptyQueueDelay:               5 * time.Second,
		errorDelay:                    5 * time.Second,
		ackTimeout:                    2 * time.Second,
		messageRetentionPeriod:        14 * 24 * time.Hour,
		maxReceiveCount:               5,
	}
}

func (o *Options) validate() error {
	if o.sqsReceiveMaxNumberOfMessages < 1 || o.sqsReceiveMaxNumberOfMessages > 10 {
		return errors.New("max number of messages per SQS receive must be between 1 and 10")
	}

	if o.sqsReceiveWaitTimeSeconds < 0 || o.sqsReceiveWaitTimeSeconds > 20 {
		return errors.New("SQS receive wait time must be between 0 and 20 seconds")
	}

	if o.sqsVisibilityTimeoutSeconds != 0 && (o.sqsVisibilityTimeoutSeconds < 10 || o.sqsVisibilityTimeoutSeconds > 43200) {
		return errors.New("SQS message visibility timeout must be 0 (queue default) or between 10 seconds and 12 hours")
	}

	if o.awsAPIMaxRetryAttempts < 0 || o.awsAPIMaxRetryAttempts > 10 {
		return errors.New("max AWS API retry attempts must be between 0 and 10")
	}

	if o.awsAPIMaxRetryBackoffDelay < 1*time.Second || o.awsAPIMaxRetryBackoffDelay > 30*time.Second {
		return errors.New("max AWS API retry backoff delay must be between 1 and 30 seconds")
	}

	if o.maxMessageExtension < 0 || o.maxMessageExtension > 12*time.Hour {
		return errors.New("max message extension must be between 0 and 12 hours")
	}

	if o.emptyQueueDelay <= 0 || o.emptyQueueDelay > 10*time.Minute {
		return errors.New("empty queue delay must be greater than zero and at most 10 minutes")
	}

	if o.errorDelay <= 0 || o.errorDelay > 10*time.Minute {
		return errors.New("error delay must be greater than zero and at most 10 minutes")
	}

	if o.ackTimeout <= 0 {
		return errors.New("ack timeout must be greater than zero")
	}

	if o.messageRetentionPeriod < time.Minute || o.messageRetentionPeriod > 14*24*time.Hour {
		return errors.New("message retention period must be between 1 minute and 14 days")
	}

	if o.maxReceiveCount < 1 || o.maxReceiveCount > 1000 {
		return errors.New("max receive count must be between 1 and 1000")
	}

	return nil
}

// visibilityExtensionEnabled reports whether in-flight messages get their
// visibility timeout extended while the handler runs.
func (o *Options) visibilityExtensionEnabled() bool {
	return o.sqsVisibilityTimeoutSeconds > 0 && o.maxMessageExtension > 0
}

// WithSqsReceiveMaxNumberOfMessages sets the maximum number of messages
// returned by a single ReceiveMessage API call. Messages in a batch are
// handled one at a time. Must be between 1 and 10. Default: 1.
func WithSqsReceiveMaxNumberOfMessages(n int32) Option {
	return func(o *Options) {
		o.sqsReceiveMaxNumberOfMessages = n
	}
}

// WithSqsReceiveWaitTimeSeconds sets the long-poll wait duration for each
// ReceiveMessage API call. Must be between 0 and 20 seconds. Default: 20.
func WithSqsReceiveWaitTimeSeconds(seconds int32) Option {
	return func(o *Options) {
		o.sqsReceiveWaitTimeSeconds = seconds
	}
}

// WithSqsVisibilityTimeout sets the visibility timeout requested for each
// received message and enables visibility extension while the handler runs.
// Must be 0 (use the queue's default, no extension) or between 10 and 43200
// seconds. Default: 0.
func WithSqsVisibilityTimeout(seconds int32) Option {
	return func(o *Options) {
		o.sqsVisibilityTimeoutSeconds = seconds
	}
}

// WithAWSAPIMaxRetryAttempts sets the maximum number of retry attempts for
// failed SNS and SQS API calls. Must be between 0 and 10. Default: 5.
func WithAWSAPIMaxRetryAttempts(n int) Option {
	return func(o *Options) {
		o.awsAPIMaxRetryAttempts = n
	}
}

// WithAWSAPIMaxRetryBackoffDelay sets the maximum backoff delay between
// consecutive SNS and SQS API retry attempts. Must be between 1 second and
// 30 seconds. Default: 10 seconds.
func WithAWSAPIMaxRetryBackoffDelay(d time.Duration) Option {
	return func(o *Options) {
		o.awsAPIMaxRetryBackoffDelay = d
	}
}

// WithMaxMessageExtension caps how long a message's visibility may be
// extended after it was received. Zero disables extension. Only effective
// together with [WithSqsVisibilityTimeout]. Default: 10 minutes.
func WithMaxMessageExtension(d time.Duration) Option {
	return func(o *Options) {
		o.maxMessageExtension = d
	}
}

// WithEmptyQueueDelay sets how long the consumer waits after an empty
// receive before polling again. Default: 5 seconds.
func WithEmptyQueueDelay(d time.Duration) Option {
	return func(o *Options) {
		o.emptyQueueDelay = d
	}
}

// WithErrorDelay sets how long the consumer backs off after a failed
// poll/handle cycle. Default: 5 seconds.
func WithErrorDelay(d time.Duration) Option {
	return func(o *Options) {
		o.errorDelay = d
	}
}

// WithAckTimeout bounds the DeleteMessage call that acknowledges a handled
// message. The call is not cancelled by consumer shutdown. Default: 2 seconds.
func WithAckTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.ackTimeout = d
	}
}

// WithMessageRetentionPeriod sets the retention period applied to the primary
// and dead-letter queues. Must be between 1 minute and 14 days.
// Default: 14 days.
func WithMessageRetentionPeriod(d time.Duration) Option {
	return func(o *Options) {
		o.messageRetentionPeriod = d
	}
}

// WithMaxReceiveCount sets how many times a message may be received from the
// primary queue before SQS moves it to the dead-letter queue.
// Must be between 1 and 1000. Default: 5.
func WithMaxReceiveCount(n int) Option {
	return func(o *Options) {
		o.maxReceiveCount = n
	}
}

// WithCache shares a resolution [Cache] between clients. By default each
// [Client] gets its own cache.
func WithCache(cache *Cache) Option {
	return func(o *Options) {
		o.cache = cache
	}
}

// WithLedger records every reconciled resource in l.
func WithLedger(l Ledger) Option {
	return func(o *Options) {
		o.ledger = l
	}
}

// WithTracer sets the OpenTelemetry tracer used for publish and handle spans.
// Defaults to the global tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *Options) {
		o.tracer = t
	}
}

// WithSNSClient replaces the default AWS SNS client with a custom
// implementation of the internal snsClient interface. This option is
// intended for testing with mock or stub clients.
func WithSNSClient(client snsClient) Option {
	return func(o *Options) {
		o.snsClient = client
	}
}

// WithSQSClient replaces the default AWS SQS client with a custom
// implementation of the internal sqsClient interface. This option is
// intended for testing with mock or stub clients.
func WithSQSClient(client sqsClient) Option {
	return func(o *Options) {
		o.sqsClient = client
	}
}
