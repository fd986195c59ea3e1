package pubsub

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	json "github.com/goccy/go-json"
	"github.com/slackmgr/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Publisher publishes already-serialized message bodies to the topic of a
// [MessageKind].
//
// The Publisher never creates topics. Provision them first with
// [Reconciler.EnsureTopicExists]; publishing to a kind whose topic does not
// exist fails with a [*TopicNotFoundError]. Failed publishes are not retried.
type Publisher struct {
	sns    snsClient
	naming Naming
	cache  *Cache
	opts   *Options
	logger types.Logger
}

func newPublisher(snsAPI snsClient, naming Naming, cache *Cache, opts *Options, logger types.Logger) *Publisher {
	return &Publisher{
		sns:    snsAPI,
		naming: naming,
		cache:  cache,
		opts:   opts,
		logger: logger,
	}
}

// PublishToTopic publishes body to the topic for kind.
func (p *Publisher) PublishToTopic(ctx context.Context, kind MessageKind, body string) error {
	name, err := p.naming.TopicName(kind)
	if err != nil {
		return err
	}

	ctx, span := p.opts.tracer.Start(ctx, "pubsub.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "aws_sns"),
			attribute.String("messaging.destination.name", name),
			attribute.String("messaging.operation", "publish"),
		),
	)
	defer span.End()

	if err := p.publish(ctx, name, body); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return err
	}

	return nil
}

// PublishJSON marshals v to JSON and publishes it to the topic for kind.
func (p *Publisher) PublishJSON(ctx context.Context, kind MessageKind, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", kind, err)
	}

	return p.PublishToTopic(ctx, kind, string(body))
}

func (p *Publisher) publish(ctx context.Context, name, body string) error {
	arn, err := p.cache.Resolve(ctx, topicKey(name), func(ctx context.Context) (string, error) {
		return findTopic(ctx, p.sns, name)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &TopicNotFoundError{Topic: name}
		}

		return err
	}

	output, err := p.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(arn),
		Message:  aws.String(body),
	})
	if err != nil {
		return &PublishError{Topic: name, Err: err}
	}

	p.logger.WithField("topic_name", name).WithField("message_id", aws.ToString(output.MessageId)).Debug("SNS message published")

	return nil
}
