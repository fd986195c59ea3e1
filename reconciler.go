package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	json "github.com/goccy/go-json"
	"github.com/slackmgr/types"
)

const (
	subscriptionProtocolSQS   = "sqs"
	rawMessageDeliveryAttr    = "RawMessageDelivery"
	queueARNCacheKeyPrefix    = "queue-arn:"
	defaultLedgerWriteTimeout = 5 * time.Second
)

// QueueHandles holds the URLs of the primary and dead-letter queues.
type QueueHandles struct {
	Queue           string
	DeadLetterQueue string
}

// Reconciler makes the provider state match the resources this service
// needs: topics, the primary queue, its dead-letter queue, subscriptions and
// their attributes.
//
// Every Ensure* method is idempotent and safe to call concurrently and from
// several processes at once; existence is decided by provider-side lookups,
// never by local state alone. Failures are returned as a [*ReconcileError]
// naming the failed step and are not retried.
type Reconciler struct {
	sns    snsClient
	sqs    sqsClient
	naming Naming
	cache  *Cache
	opts   *Options
	logger types.Logger
}

func newReconciler(snsAPI snsClient, sqsAPI sqsClient, naming Naming, cache *Cache, opts *Options, logger types.Logger) *Reconciler {
	return &Reconciler{
		sns:    snsAPI,
		sqs:    sqsAPI,
		naming: naming,
		cache:  cache,
		opts:   opts,
		logger: logger,
	}
}

// EnsureTopicExists returns the ARN of the topic for kind, creating the topic
// when it does not exist. A pre-existing topic is left untouched.
func (r *Reconciler) EnsureTopicExists(ctx context.Context, kind MessageKind) (string, error) {
	name, err := r.naming.TopicName(kind)
	if err != nil {
		return "", err
	}

	logger := r.logger.WithField("topic_name", name)
	logger.Info("Ensuring SNS topic exists")

	fetchOrCreate := func(ctx context.Context) (string, error) {
		arn, err := findTopic(ctx, r.sns, name)
		if err == nil {
			logger.WithField("topic_arn", arn).Info("SNS topic exists")
			r.record(ctx, ResourceTopic, name, arn, ActionVerified)

			return arn, nil
		}

		if !errors.Is(err, ErrNotFound) {
			return "", err
		}

		logger.Info("Creating SNS topic")

		arn, err = r.createTopic(ctx, name)
		if err != nil {
			return "", err
		}

		r.record(ctx, ResourceTopic, name, arn, ActionCreated)

		return arn, nil
	}

	arn, err := r.cache.Resolve(ctx, topicKey(name), fetchOrCreate)

	// A concurrent fetch-only lookup from the publisher may own the flight
	// and report the topic as missing. Resolve again so that this call
	// creates it.
	if errors.Is(err, ErrNotFound) {
		arn, err = r.cache.Resolve(ctx, topicKey(name), fetchOrCreate)
	}

	if err != nil {
		return "", err
	}

	return arn, nil
}

// EnsureQueueExists returns the URL of the primary queue, creating it when it
// does not exist. It does not touch queue attributes.
func (r *Reconciler) EnsureQueueExists(ctx context.Context) (string, error) {
	name, err := r.naming.QueueName()
	if err != nil {
		return "", err
	}

	return r.ensureQueue(ctx, ResourceQueue, name)
}

// EnsureDeadLetterQueueExists returns the URL of the dead-letter queue,
// creating it when it does not exist. It does not touch queue attributes.
func (r *Reconciler) EnsureDeadLetterQueueExists(ctx context.Context) (string, error) {
	name, err := r.naming.DeadLetterQueueName()
	if err != nil {
		return "", err
	}

	return r.ensureQueue(ctx, ResourceDeadLetterQueue, name)
}

// EnsureQueuesExist ensures the primary and dead-letter queues exist, applies
// the message retention period to both and sets the redrive policy on the
// primary queue so that a message received more than the configured maximum
// number of times is moved to the dead-letter queue.
//
// Both queues are created before the redrive policy is set, since the policy
// references the dead-letter queue's ARN. Calling EnsureQueuesExist again
// returns the same handles without issuing create calls; attributes are
// re-applied every time.
func (r *Reconciler) EnsureQueuesExist(ctx context.Context) (QueueHandles, error) {
	queueName, err := r.naming.QueueName()
	if err != nil {
		return QueueHandles{}, err
	}

	dlqName, err := r.naming.DeadLetterQueueName()
	if err != nil {
		return QueueHandles{}, err
	}

	if queueName == dlqName {
		return QueueHandles{}, &ConfigurationError{
			Setting: ServiceSetting,
			Reason:  fmt.Sprintf("queue name %s is too long to derive a distinct dead-letter queue name", queueName),
		}
	}

	queueURL, err := r.ensureQueue(ctx, ResourceQueue, queueName)
	if err != nil {
		return QueueHandles{}, err
	}

	dlqURL, err := r.ensureQueue(ctx, ResourceDeadLetterQueue, dlqName)
	if err != nil {
		return QueueHandles{}, err
	}

	retention := strconv.FormatInt(int64(r.opts.messageRetentionPeriod/time.Second), 10)

	if err := r.setQueueAttributes(ctx, dlqName, dlqURL, map[string]string{
		string(sqstypes.QueueAttributeNameMessageRetentionPeriod): retention,
	}); err != nil {
		return QueueHandles{}, err
	}

	dlqARN, err := r.queueARN(ctx, dlqName, dlqURL)
	if err != nil {
		return QueueHandles{}, err
	}

	redrivePolicy, err := json.Marshal(redrivePolicy{
		DeadLetterTargetArn: dlqARN,
		MaxReceiveCount:     strconv.Itoa(r.opts.maxReceiveCount),
	})
	if err != nil {
		return QueueHandles{}, fmt.Errorf("failed to marshal redrive policy: %w", err)
	}

	if err := r.setQueueAttributes(ctx, queueName, queueURL, map[string]string{
		string(sqstypes.QueueAttributeNameMessageRetentionPeriod): retention,
		string(sqstypes.QueueAttributeNameRedrivePolicy):          string(redrivePolicy),
	}); err != nil {
		return QueueHandles{}, err
	}

	r.logger.WithField("queue_url", queueURL).WithField("dead_letter_queue_url", dlqURL).Debug("SQS queues reconciled")

	return QueueHandles{Queue: queueURL, DeadLetterQueue: dlqURL}, nil
}

// EnsureSubscriptionExists subscribes the primary queue to the topic for
// kind and returns the subscription ARN.
//
// The topic and the queue must already exist; this method never creates
// them, so that publisher-side and subscriber-side provisioning stay
// separate. A missing dependency is reported as a [*DependencyMissingError].
//
// The RawMessageDelivery attribute is set to true on every call, including
// for subscriptions that already existed, and the queue's access policy is
// extended to accept messages from the topic.
func (r *Reconciler) EnsureSubscriptionExists(ctx context.Context, kind MessageKind) (string, error) {
	topicName, err := r.naming.TopicName(kind)
	if err != nil {
		return "", err
	}

	queueName, err := r.naming.QueueName()
	if err != nil {
		return "", err
	}

	logger := r.logger.WithField("topic_name", topicName).WithField("queue_name", queueName)
	logger.Info("Ensuring SNS subscription exists")

	topicARN, err := r.cache.Resolve(ctx, topicKey(topicName), func(ctx context.Context) (string, error) {
		return findTopic(ctx, r.sns, topicName)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", &DependencyMissingError{Resource: ResourceTopic, Name: topicName}
		}

		return "", err
	}

	queueURL, err := r.cache.Resolve(ctx, queueKey(queueName), func(ctx context.Context) (string, error) {
		return r.getQueueURL(ctx, queueName)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", &DependencyMissingError{Resource: ResourceQueue, Name: queueName}
		}

		return "", err
	}

	// The subscription endpoint is the queue ARN, not its URL.
	queueARN, err := r.queueARN(ctx, queueName, queueURL)
	if err != nil {
		return "", err
	}

	subscriptionARN, err := r.findSubscription(ctx, topicARN, queueARN)
	action := ActionVerified

	switch {
	case err == nil:
		logger.WithField("subscription_arn", subscriptionARN).Info("SNS subscription exists")
	case errors.Is(err, ErrNotFound):
		logger.Info("Subscribing SQS queue to SNS topic")

		subscriptionARN, err = r.subscribe(ctx, topicARN, queueARN)
		if err != nil {
			return "", err
		}

		action = ActionCreated
	default:
		return "", err
	}

	if err := r.ensureQueuePolicy(ctx, queueName, queueURL, queueARN, topicARN); err != nil {
		return "", err
	}

	logger.WithField("subscription_arn", subscriptionARN).Debug("Setting attributes on SNS subscription")

	if _, err := r.sns.SetSubscriptionAttributes(ctx, &sns.SetSubscriptionAttributesInput{
		SubscriptionArn: aws.String(subscriptionARN),
		AttributeName:   aws.String(rawMessageDeliveryAttr),
		AttributeValue:  aws.String("true"),
	}); err != nil {
		return "", &ReconcileError{Step: StepSetSubscriptionAttributes, Resource: subscriptionARN, Err: err}
	}

	r.record(ctx, ResourceSubscription, topicName+"->"+queueName, subscriptionARN, action)

	return subscriptionARN, nil
}

func (r *Reconciler) ensureQueue(ctx context.Context, kind ResourceKind, name string) (string, error) {
	logger := r.logger.WithField("queue_name", name)
	logger.Infof("Ensuring SQS %s exists", kind)

	fetchOrCreate := func(ctx context.Context) (string, error) {
		url, err := r.getQueueURL(ctx, name)
		if err == nil {
			logger.WithField("queue_url", url).Infof("SQS %s exists", kind)
			r.record(ctx, kind, name, url, ActionVerified)

			return url, nil
		}

		if !errors.Is(err, ErrNotFound) {
			return "", err
		}

		logger.Infof("Creating SQS %s", kind)

		url, err = r.createQueue(ctx, name)
		if err != nil {
			return "", err
		}

		r.record(ctx, kind, name, url, ActionCreated)

		return url, nil
	}

	url, err := r.cache.Resolve(ctx, queueKey(name), fetchOrCreate)

	// EnsureSubscriptionExists may own the flight with a lookup that never
	// creates. Resolve again so that this call creates the queue.
	if errors.Is(err, ErrNotFound) {
		url, err = r.cache.Resolve(ctx, queueKey(name), fetchOrCreate)
	}

	if err != nil {
		return "", err
	}

	return url, nil
}

func (r *Reconciler) getQueueURL(ctx context.Context, name string) (string, error) {
	output, err := r.sqs.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		var notExists *sqstypes.QueueDoesNotExist
		if errors.As(err, &notExists) {
			return "", fmt.Errorf("SQS queue %s: %w", name, ErrNotFound)
		}

		return "", &ReconcileError{Step: StepGetQueueURL, Resource: name, Err: err}
	}

	url := aws.ToString(output.QueueUrl)
	if url == "" {
		return "", fmt.Errorf("SQS queue %s: %w", name, ErrNotFound)
	}

	return url, nil
}

func (r *Reconciler) createQueue(ctx context.Context, name string) (string, error) {
	output, err := r.sqs.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String(name)})
	if err != nil {
		return "", &ReconcileError{Step: StepCreateQueue, Resource: name, Err: err}
	}

	url := aws.ToString(output.QueueUrl)
	if url == "" {
		return "", &ReconcileError{Step: StepCreateQueue, Resource: name, Err: errors.New("empty queue URL in response")}
	}

	return url, nil
}

func (r *Reconciler) setQueueAttributes(ctx context.Context, name, url string, attributes map[string]string) error {
	if _, err := r.sqs.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
		QueueUrl:   aws.String(url),
		Attributes: attributes,
	}); err != nil {
		return &ReconcileError{Step: StepSetQueueAttributes, Resource: name, Err: err}
	}

	return nil
}

// queueARN returns the ARN of the queue at url. ARNs never change for a given
// URL, so they are cached alongside the URL.
func (r *Reconciler) queueARN(ctx context.Context, name, url string) (string, error) {
	return r.cache.Resolve(ctx, queueARNCacheKeyPrefix+name, func(ctx context.Context) (string, error) {
		attributes, err := r.getQueueAttributes(ctx, name, url, sqstypes.QueueAttributeNameQueueArn)
		if err != nil {
			return "", err
		}

		arn := attributes[string(sqstypes.QueueAttributeNameQueueArn)]
		if arn == "" {
			return "", &ReconcileError{Step: StepGetQueueAttributes, Resource: name, Err: errors.New("queue ARN missing from response")}
		}

		return arn, nil
	})
}

func (r *Reconciler) getQueueAttributes(ctx context.Context, name, url string, names ...sqstypes.QueueAttributeName) (map[string]string, error) {
	output, err := r.sqs.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(url),
		AttributeNames: names,
	})
	if err != nil {
		return nil, &ReconcileError{Step: StepGetQueueAttributes, Resource: name, Err: err}
	}

	return output.Attributes, nil
}

func (r *Reconciler) createTopic(ctx context.Context, name string) (string, error) {
	output, err := r.sns.CreateTopic(ctx, &sns.CreateTopicInput{Name: aws.String(name)})
	if err != nil {
		return "", &ReconcileError{Step: StepCreateTopic, Resource: name, Err: err}
	}

	arn := aws.ToString(output.TopicArn)
	if arn == "" {
		return "", &ReconcileError{Step: StepCreateTopic, Resource: name, Err: errors.New("empty topic ARN in response")}
	}

	return arn, nil
}

// findSubscription returns the ARN of the sqs subscription of topicARN whose
// endpoint is queueARN.
func (r *Reconciler) findSubscription(ctx context.Context, topicARN, queueARN string) (string, error) {
	paginator := sns.NewListSubscriptionsByTopicPaginator(r.sns, &sns.ListSubscriptionsByTopicInput{
		TopicArn: aws.String(topicARN),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", &ReconcileError{Step: StepListSubscriptions, Resource: topicARN, Err: err}
		}

		for _, s := range page.Subscriptions {
			if aws.ToString(s.Protocol) == subscriptionProtocolSQS && aws.ToString(s.Endpoint) == queueARN {
				return aws.ToString(s.SubscriptionArn), nil
			}
		}
	}

	return "", fmt.Errorf("subscription of %s to %s: %w", queueARN, topicARN, ErrNotFound)
}

func (r *Reconciler) subscribe(ctx context.Context, topicARN, queueARN string) (string, error) {
	output, err := r.sns.Subscribe(ctx, &sns.SubscribeInput{
		TopicArn:              aws.String(topicARN),
		Protocol:              aws.String(subscriptionProtocolSQS),
		Endpoint:              aws.String(queueARN),
		ReturnSubscriptionArn: true,
	})
	if err != nil {
		return "", &ReconcileError{Step: StepSubscribe, Resource: topicARN, Err: err}
	}

	arn := aws.ToString(output.SubscriptionArn)
	if arn == "" {
		return "", &ReconcileError{Step: StepSubscribe, Resource: topicARN, Err: errors.New("empty subscription ARN in response")}
	}

	return arn, nil
}

// record writes a ledger entry. It uses a context detached from ctx so that
// the entry survives cancellation of the reconciliation that produced it.
func (r *Reconciler) record(ctx context.Context, kind ResourceKind, name, handle string, action LedgerAction) {
	if r.opts.ledger == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultLedgerWriteTimeout)
	defer cancel()

	entry := LedgerEntry{
		Kind:      kind,
		Name:      name,
		Handle:    handle,
		Action:    action,
		Prefix:    r.naming.Prefix(),
		Service:   r.naming.Service(),
		Timestamp: time.Now().UTC(),
	}

	if err := r.opts.ledger.Record(ctx, entry); err != nil {
		r.logger.WithField("resource_name", name).Errorf("Failed to record %s in provisioning ledger: %v", kind, err)
	}
}

// findTopic pages through the account's topics looking for one named name.
// SNS has no lookup by name; a topic ARN always ends with ":<name>".
func findTopic(ctx context.Context, client snsClient, name string) (string, error) {
	paginator := sns.NewListTopicsPaginator(client, &sns.ListTopicsInput{})
	suffix := ":" + name

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", &ReconcileError{Step: StepFindTopic, Resource: name, Err: err}
		}

		for _, t := range page.Topics {
			if arn := aws.ToString(t.TopicArn); strings.HasSuffix(arn, suffix) {
				return arn, nil
			}
		}
	}

	return "", fmt.Errorf("SNS topic %s: %w", name, ErrNotFound)
}

type redrivePolicy struct {
	DeadLetterTargetArn string `json:"deadLetterTargetArn"`
	MaxReceiveCount     string `json:"maxReceiveCount"`
}
