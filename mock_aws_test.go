//nolint:testpackage // Mocks must be in the pubsub package to implement unexported interfaces
package pubsub

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/slackmgr/types"
)

// mockSNSClient is a mock implementation of the snsClient interface for testing.
type mockSNSClient struct {
	listTopicsFunc                func(ctx context.Context, input *sns.ListTopicsInput, optFns ...func(*sns.Options)) (*sns.ListTopicsOutput, error)
	createTopicFunc               func(ctx context.Context, input *sns.CreateTopicInput, optFns ...func(*sns.Options)) (*sns.CreateTopicOutput, error)
	publishFunc                   func(ctx context.Context, input *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	listSubscriptionsByTopicFunc  func(ctx context.Context, input *sns.ListSubscriptionsByTopicInput, optFns ...func(*sns.Options)) (*sns.ListSubscriptionsByTopicOutput, error)
	subscribeFunc                 func(ctx context.Context, input *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error)
	setSubscriptionAttributesFunc func(ctx context.Context, input *sns.SetSubscriptionAttributesInput, optFns ...func(*sns.Options)) (*sns.SetSubscriptionAttributesOutput, error)
}

func (m *mockSNSClient) ListTopics(ctx context.Context, params *sns.ListTopicsInput, optFns ...func(*sns.Options)) (*sns.ListTopicsOutput, error) {
	if m.listTopicsFunc != nil {
		return m.listTopicsFunc(ctx, params, optFns...)
	}
	return &sns.ListTopicsOutput{}, nil
}

func (m *mockSNSClient) CreateTopic(ctx context.Context, params *sns.CreateTopicInput, optFns ...func(*sns.Options)) (*sns.CreateTopicOutput, error) {
	if m.createTopicFunc != nil {
		return m.createTopicFunc(ctx, params, optFns...)
	}
	return &sns.CreateTopicOutput{}, nil
}

func (m *mockSNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if m.publishFunc != nil {
		return m.publishFunc(ctx, params, optFns...)
	}
	return &sns.PublishOutput{MessageId: aws.String("mock-message-id")}, nil
}

func (m *mockSNSClient) ListSubscriptionsByTopic(ctx context.Context, params *sns.ListSubscriptionsByTopicInput, optFns ...func(*sns.Options)) (*sns.ListSubscriptionsByTopicOutput, error) {
	if m.listSubscriptionsByTopicFunc != nil {
		return m.listSubscriptionsByTopicFunc(ctx, params, optFns...)
	}
	return &sns.ListSubscriptionsByTopicOutput{}, nil
}

func (m *mockSNSClient) Subscribe(ctx context.Context, params *sns.SubscribeInput, optFns ...func(*sns.Options)) (*sns.SubscribeOutput, error) {
	if m.subscribeFunc != nil {
		return m.subscribeFunc(ctx, params, optFns...)
	}
	return &sns.SubscribeOutput{}, nil
}

func (m *mockSNSClient) SetSubscriptionAttributes(ctx context.Context, params *sns.SetSubscriptionAttributesInput, optFns ...func(*sns.Options)) (*sns.SetSubscriptionAttributesOutput, error) {
	if m.setSubscriptionAttributesFunc != nil {
		return m.setSubscriptionAttributesFunc(ctx, params, optFns...)
	}
	return &sns.SetSubscriptionAttributesOutput{}, nil
}

// mockSQSClient is a mock implementation of the sqsClient interface for testing.
type mockSQSClient struct {
	getQueueUrlFunc             func(ctx context.Context, input *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	createQueueFunc             func(ctx context.Context, input *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	getQueueAttributesFunc      func(ctx context.Context, input *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	setQueueAttributesFunc      func(ctx context.Context, input *sqs.SetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.SetQueueAttributesOutput, error)
	receiveMessageFunc          func(ctx context.Context, input *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	deleteMessageFunc           func(ctx context.Context, input *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	changeMessageVisibilityFunc func(ctx context.Context, input *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

//nolint:revive,stylecheck // AWS SDK method name
func (m *mockSQSClient) GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	if m.getQueueUrlFunc != nil {
		return m.getQueueUrlFunc(ctx, params, optFns...)
	}
	return &sqs.GetQueueUrlOutput{}, nil
}

func (m *mockSQSClient) CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
	if m.createQueueFunc != nil {
		return m.createQueueFunc(ctx, params, optFns...)
	}
	return &sqs.CreateQueueOutput{}, nil
}

func (m *mockSQSClient) GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	if m.getQueueAttributesFunc != nil {
		return m.getQueueAttributesFunc(ctx, params, optFns...)
	}
	return &sqs.GetQueueAttributesOutput{}, nil
}

func (m *mockSQSClient) SetQueueAttributes(ctx context.Context, params *sqs.SetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.SetQueueAttributesOutput, error) {
	if m.setQueueAttributesFunc != nil {
		return m.setQueueAttributesFunc(ctx, params, optFns...)
	}
	return &sqs.SetQueueAttributesOutput{}, nil
}

func (m *mockSQSClient) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if m.receiveMessageFunc != nil {
		return m.receiveMessageFunc(ctx, params, optFns...)
	}
	return &sqs.ReceiveMessageOutput{}, nil
}

func (m *mockSQSClient) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	if m.deleteMessageFunc != nil {
		return m.deleteMessageFunc(ctx, params, optFns...)
	}
	return &sqs.DeleteMessageOutput{}, nil
}

func (m *mockSQSClient) ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	if m.changeMessageVisibilityFunc != nil {
		return m.changeMessageVisibilityFunc(ctx, params, optFns...)
	}
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

const (
	testAccountPrefix = "arn:aws:sns:ap-southeast-2:123456789012:"
	testQueueARNBase  = "arn:aws:sqs:ap-southeast-2:123456789012:"
	testQueueURLBase  = "https://sqs.ap-southeast-2.amazonaws.com/123456789012/"
	testTopicPageSize = 2
)

// fakeAWS is an in-memory SNS and SQS account. Its mocks behave like the real
// services for the calls the reconciler makes, and count the calls that
// create resources.
type fakeAWS struct {
	mu            sync.Mutex
	topics        []string // topic ARNs, in creation order
	queues        map[string]string
	queueAttrs    map[string]map[string]string
	subscriptions map[string][]snstypes.Subscription
	subAttrs      map[string]map[string]string

	listTopicsCalls   atomic.Int32
	createTopicCalls  atomic.Int32
	getQueueURLCalls  atomic.Int32
	createQueueCalls  atomic.Int32
	subscribeCalls    atomic.Int32
	setQueueAttrCalls atomic.Int32
}

func newFakeAWS() *fakeAWS {
	return &fakeAWS{
		queues:        make(map[string]string),
		queueAttrs:    make(map[string]map[string]string),
		subscriptions: make(map[string][]snstypes.Subscription),
		subAttrs:      make(map[string]map[string]string),
	}
}

func (f *fakeAWS) addTopic(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	arn := testAccountPrefix + name
	f.topics = append(f.topics, arn)

	return arn
}

func (f *fakeAWS) addQueue(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.addQueueLocked(name)
}

func (f *fakeAWS) addQueueLocked(name string) string {
	url := testQueueURLBase + name
	f.queues[name] = url
	f.queueAttrs[url] = map[string]string{
		string(sqstypes.QueueAttributeNameQueueArn): testQueueARNBase + name,
	}

	return url
}

func (f *fakeAWS) queueAttribute(url, name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.queueAttrs[url][name]
}

func (f *fakeAWS) subscriptionAttribute(arn, name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.subAttrs[arn][name]
}

func (f *fakeAWS) subscriptionCount(topicARN string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.subscriptions[topicARN])
}

func (f *fakeAWS) snsClient() *mockSNSClient {
	return &mockSNSClient{
		listTopicsFunc: func(_ context.Context, input *sns.ListTopicsInput, _ ...func(*sns.Options)) (*sns.ListTopicsOutput, error) {
			f.listTopicsCalls.Add(1)

			f.mu.Lock()
			defer f.mu.Unlock()

			start := 0
			if input.NextToken != nil {
				start, _ = strconv.Atoi(*input.NextToken)
			}

			end := min(start+testTopicPageSize, len(f.topics))
			out := &sns.ListTopicsOutput{}

			for _, arn := range f.topics[start:end] {
				out.Topics = append(out.Topics, snstypes.Topic{TopicArn: aws.String(arn)})
			}

			if end < len(f.topics) {
				out.NextToken = aws.String(strconv.Itoa(end))
			}

			return out, nil
		},
		createTopicFunc: func(_ context.Context, input *sns.CreateTopicInput, _ ...func(*sns.Options)) (*sns.CreateTopicOutput, error) {
			f.createTopicCalls.Add(1)

			f.mu.Lock()
			defer f.mu.Unlock()

			arn := testAccountPrefix + aws.ToString(input.Name)
			for _, existing := range f.topics {
				if existing == arn {
					return &sns.CreateTopicOutput{TopicArn: aws.String(arn)}, nil
				}
			}

			f.topics = append(f.topics, arn)

			return &sns.CreateTopicOutput{TopicArn: aws.String(arn)}, nil
		},
		listSubscriptionsByTopicFunc: func(_ context.Context, input *sns.ListSubscriptionsByTopicInput, _ ...func(*sns.Options)) (*sns.ListSubscriptionsByTopicOutput, error) {
			f.mu.Lock()
			defer f.mu.Unlock()

			return &sns.ListSubscriptionsByTopicOutput{
				Subscriptions: append([]snstypes.Subscription(nil), f.subscriptions[aws.ToString(input.TopicArn)]...),
			}, nil
		},
		subscribeFunc: func(_ context.Context, input *sns.SubscribeInput, _ ...func(*sns.Options)) (*sns.SubscribeOutput, error) {
			f.subscribeCalls.Add(1)

			f.mu.Lock()
			defer f.mu.Unlock()

			topicARN := aws.ToString(input.TopicArn)
			arn := fmt.Sprintf("%s:sub-%d", topicARN, len(f.subscriptions[topicARN])+1)

			f.subscriptions[topicARN] = append(f.subscriptions[topicARN], snstypes.Subscription{
				SubscriptionArn: aws.String(arn),
				TopicArn:        input.TopicArn,
				Protocol:        input.Protocol,
				Endpoint:        input.Endpoint,
			})

			return &sns.SubscribeOutput{SubscriptionArn: aws.String(arn)}, nil
		},
		setSubscriptionAttributesFunc: func(_ context.Context, input *sns.SetSubscriptionAttributesInput, _ ...func(*sns.Options)) (*sns.SetSubscriptionAttributesOutput, error) {
			f.mu.Lock()
			defer f.mu.Unlock()

			arn := aws.ToString(input.SubscriptionArn)
			if f.subAttrs[arn] == nil {
				f.subAttrs[arn] = make(map[string]string)
			}

			f.subAttrs[arn][aws.ToString(input.AttributeName)] = aws.ToString(input.AttributeValue)

			return &sns.SetSubscriptionAttributesOutput{}, nil
		},
	}
}

func (f *fakeAWS) sqsClient() *mockSQSClient {
	return &mockSQSClient{
		getQueueUrlFunc: func(_ context.Context, input *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
			f.getQueueURLCalls.Add(1)

			f.mu.Lock()
			defer f.mu.Unlock()

			url, ok := f.queues[aws.ToString(input.QueueName)]
			if !ok {
				return nil, &sqstypes.QueueDoesNotExist{Message: aws.String("The specified queue does not exist.")}
			}

			return &sqs.GetQueueUrlOutput{QueueUrl: aws.String(url)}, nil
		},
		createQueueFunc: func(_ context.Context, input *sqs.CreateQueueInput, _ ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
			f.createQueueCalls.Add(1)

			f.mu.Lock()
			defer f.mu.Unlock()

			name := aws.ToString(input.QueueName)
			if url, ok := f.queues[name]; ok {
				return &sqs.CreateQueueOutput{QueueUrl: aws.String(url)}, nil
			}

			return &sqs.CreateQueueOutput{QueueUrl: aws.String(f.addQueueLocked(name))}, nil
		},
		getQueueAttributesFunc: func(_ context.Context, input *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
			f.mu.Lock()
			defer f.mu.Unlock()

			attrs, ok := f.queueAttrs[aws.ToString(input.QueueUrl)]
			if !ok {
				return nil, &sqstypes.QueueDoesNotExist{Message: aws.String("The specified queue does not exist.")}
			}

			out := make(map[string]string)
			for _, name := range input.AttributeNames {
				if v, ok := attrs[string(name)]; ok {
					out[string(name)] = v
				}
			}

			return &sqs.GetQueueAttributesOutput{Attributes: out}, nil
		},
		setQueueAttributesFunc: func(_ context.Context, input *sqs.SetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.SetQueueAttributesOutput, error) {
			f.setQueueAttrCalls.Add(1)

			f.mu.Lock()
			defer f.mu.Unlock()

			attrs, ok := f.queueAttrs[aws.ToString(input.QueueUrl)]
			if !ok {
				return nil, &sqstypes.QueueDoesNotExist{Message: aws.String("The specified queue does not exist.")}
			}

			for k, v := range input.Attributes {
				attrs[k] = v
			}

			return &sqs.SetQueueAttributesOutput{}, nil
		},
	}
}

// memoryLedger records entries in memory.
type memoryLedger struct {
	mu      sync.Mutex
	entries []LedgerEntry
	err     error
}

func (l *memoryLedger) Record(_ context.Context, entry LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.err != nil {
		return l.err
	}

	l.entries = append(l.entries, entry)

	return nil
}

func (l *memoryLedger) snapshot() []LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]LedgerEntry(nil), l.entries...)
}

// mockLogger is a no-op logger for testing.
type mockLogger struct{}

//nolint:ireturn // Must return interface to implement types.Logger
func (m *mockLogger) WithField(_ string, _ any) types.Logger { return m }

//nolint:ireturn // Must return interface to implement types.Logger
func (m *mockLogger) WithFields(_ map[string]any) types.Logger { return m }
func (m *mockLogger) Debug(_ string)                           {}
func (m *mockLogger) Debugf(_ string, _ ...any)                {}
func (m *mockLogger) Info(_ string)                            {}
func (m *mockLogger) Infof(_ string, _ ...any)                 {}
func (m *mockLogger) Warn(_ string)                            {}
func (m *mockLogger) Warnf(_ string, _ ...any)                 {}
func (m *mockLogger) Error(_ string)                           {}
func (m *mockLogger) Errorf(_ string, _ ...any)                {}
func (m *mockLogger) Fatal(_ string)                           {}
func (m *mockLogger) Fatalf(_ string, _ ...any)                {}

//nolint:ireturn // Returns interface for convenience in tests
func newMockLogger() types.Logger {
	return &mockLogger{}
}
