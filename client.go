package pubsub

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/slackmgr/types"
	"go.opentelemetry.io/otel"
)

const tracerName = "github.com/topicq/pubsub"

// Client wires the SNS and SQS clients, the [Naming] and the resolution
// [Cache] shared by the [Reconciler], the [Publisher] and any [Consumer].
//
// Create a Client with [New], then call [Client.Init] once before any other
// method. Init is not thread-safe; all other methods are safe for concurrent
// use after Init returns.
type Client struct {
	sns         snsClient
	sqs         sqsClient
	awsCfg      *aws.Config
	naming      Naming
	opts        *Options
	cache       *Cache
	reconciler  *Reconciler
	publisher   *Publisher
	logger      types.Logger
	initialized bool
}

// New creates a Client for the given naming configuration.
//
// Functional options may be passed to override defaults (see With* functions).
// The logger is automatically enriched with "plugin" and "prefix" fields.
//
// New does not connect to AWS. Call [Client.Init] to validate the
// configuration and construct the AWS clients.
func New(awsCfg *aws.Config, naming Naming, logger types.Logger, opts ...Option) *Client {
	options := newOptions()

	for _, o := range opts {
		o(options)
	}

	logger = logger.
		WithField("plugin", "pubsub").
		WithField("prefix", naming.Prefix())

	if naming.Service() != "" {
		logger = logger.WithField("service", naming.Service())
	}

	return &Client{
		awsCfg: awsCfg,
		naming: naming,
		opts:   options,
		logger: logger,
	}
}

// Init validates the options and the naming prefix and constructs the SNS and
// SQS clients. It returns the receiver so that initialization can be chained
// with [New]:
//
//	client, err := pubsub.New(&awsCfg, pubsub.NewNaming("au-dev", "discounts"), logger).Init(ctx)
//
// Init makes no remote calls. Provision resources with [Client.Reconciler].
//
// Init is idempotent: subsequent calls on an already-initialized Client are
// no-ops.
func (c *Client) Init(_ context.Context) (*Client, error) {
	if c.initialized {
		return c, nil
	}

	if err := c.naming.Validate(false); err != nil {
		return nil, err
	}

	if err := c.opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid pubsub options: %w", err)
	}

	if c.opts.snsClient == nil || c.opts.sqsClient == nil {
		if c.awsCfg == nil {
			return nil, errors.New("AWS config cannot be nil")
		}
	}

	// Use injected clients if provided (for testing), otherwise create real clients
	if c.opts.snsClient != nil {
		c.sns = c.opts.snsClient
	} else {
		c.sns = sns.NewFromConfig(*c.awsCfg, func(o *sns.Options) {
			o.Retryer = retry.AddWithMaxBackoffDelay(o.Retryer, c.opts.awsAPIMaxRetryBackoffDelay)
			o.Retryer = retry.AddWithMaxAttempts(o.Retryer, c.opts.awsAPIMaxRetryAttempts)
		})
	}

	if c.opts.sqsClient != nil {
		c.sqs = c.opts.sqsClient
	} else {
		c.sqs = sqs.NewFromConfig(*c.awsCfg, func(o *sqs.Options) {
			o.Retryer = retry.AddWithMaxBackoffDelay(o.Retryer, c.opts.awsAPIMaxRetryBackoffDelay)
			o.Retryer = retry.AddWithMaxAttempts(o.Retryer, c.opts.awsAPIMaxRetryAttempts)
		})
	}

	c.cache = c.opts.cache
	if c.cache == nil {
		c.cache = NewCache()
	}

	if c.opts.tracer == nil {
		c.opts.tracer = otel.Tracer(tracerName)
	}

	c.reconciler = newReconciler(c.sns, c.sqs, c.naming, c.cache, c.opts, c.logger)
	c.publisher = newPublisher(c.sns, c.naming, c.cache, c.opts, c.logger)

	c.initialized = true

	return c, nil
}

// Naming returns the naming configuration supplied to [New].
func (c *Client) Naming() Naming {
	return c.naming
}

// Cache returns the resolution cache used by this Client.
func (c *Client) Cache() *Cache {
	return c.cache
}

// Reconciler returns the resource reconciler, or nil before [Client.Init].
func (c *Client) Reconciler() *Reconciler {
	return c.reconciler
}

// Publisher returns the publisher, or nil before [Client.Init].
func (c *Client) Publisher() *Publisher {
	return c.publisher
}

// NewConsumer returns a [Consumer] that dispatches messages from this
// client's queue to h. Run it with [Consumer.Run].
func (c *Client) NewConsumer(h Handler) (*Consumer, error) {
	if !c.initialized {
		return nil, errors.New("pubsub client not initialized")
	}

	if h == nil {
		return nil, errors.New("handler cannot be nil")
	}

	if err := c.naming.Validate(true); err != nil {
		return nil, err
	}

	return newConsumer(c.sqs, c.reconciler, h, c.opts, c.logger), nil
}
