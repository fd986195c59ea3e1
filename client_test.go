//nolint:paralleltest,testpackage // Tests need access to unexported fields
package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	awsCfg := &aws.Config{}

	client := New(awsCfg, NewNaming("au-dev", "discounts"), newMockLogger(), WithMaxReceiveCount(7))

	require.NotNil(t, client)
	assert.Same(t, awsCfg, client.awsCfg)
	assert.Equal(t, 7, client.opts.maxReceiveCount)
	assert.False(t, client.initialized)
	assert.Nil(t, client.Reconciler())
	assert.Nil(t, client.Publisher())
}

func TestInit_WithRealAWSConfig(t *testing.T) {
	client, err := New(&aws.Config{Region: "ap-southeast-2"}, NewNaming("au-dev", "discounts"), newMockLogger()).Init(context.Background())
	require.NoError(t, err)

	assert.NotNil(t, client.sns)
	assert.NotNil(t, client.sqs)
	assert.NotNil(t, client.Cache())
	assert.NotNil(t, client.Reconciler())
	assert.NotNil(t, client.Publisher())
	assert.NotNil(t, client.opts.tracer)
}

func TestInit_IsIdempotent(t *testing.T) {
	client := newFakeClient(t, newFakeAWS())
	reconciler := client.Reconciler()

	again, err := client.Init(context.Background())
	require.NoError(t, err)
	assert.Same(t, client, again)
	assert.Same(t, reconciler, again.Reconciler())
}

func TestInit_Errors(t *testing.T) {
	tests := []struct {
		name   string
		client *Client
	}{
		{
			name:   "missing prefix",
			client: New(&aws.Config{}, NewNaming("", "discounts"), newMockLogger()),
		},
		{
			name:   "invalid options",
			client: New(&aws.Config{}, NewNaming("au-dev", "discounts"), newMockLogger(), WithMaxReceiveCount(0)),
		},
		{
			name:   "missing AWS config",
			client: New(nil, NewNaming("au-dev", "discounts"), newMockLogger(), WithSNSClient(&mockSNSClient{})),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.client.Init(context.Background())
			require.Error(t, err)
			assert.False(t, tt.client.initialized)
		})
	}
}

func TestInit_MissingPrefixIsConfigurationError(t *testing.T) {
	_, err := New(&aws.Config{}, NewNaming(" ", ""), newMockLogger()).Init(context.Background())

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, PrefixSetting, cfgErr.Setting)
}

func TestInit_SharedCache(t *testing.T) {
	cache := NewCache()
	fake := newFakeAWS()
	fake.addTopic("au-dev-ordersubmittedevent")

	publisherSide := newTestClient(t, fake.snsClient(), fake.sqsClient(), NewNaming("au-dev", ""), WithCache(cache))
	subscriberSide := newTestClient(t, fake.snsClient(), fake.sqsClient(), NewNaming("au-dev", "discounts"), WithCache(cache))

	require.NoError(t, publisherSide.Publisher().PublishToTopic(context.Background(), testKind, "{}"))

	_, err := subscriberSide.Reconciler().EnsureTopicExists(context.Background(), testKind)
	require.NoError(t, err)

	assert.Same(t, cache, subscriberSide.Cache())
	assert.Equal(t, int32(1), fake.listTopicsCalls.Load())
}

func TestNewConsumer_Errors(t *testing.T) {
	h := HandlerFunc(func(_ context.Context, _ *Message) error { return nil })

	_, err := New(&aws.Config{}, NewNaming("au-dev", "discounts"), newMockLogger()).NewConsumer(h)
	require.Error(t, err, "uninitialized client")

	client := newFakeClient(t, newFakeAWS())
	_, err = client.NewConsumer(nil)
	require.Error(t, err, "nil handler")

	publisherOnly := newTestClient(t, &mockSNSClient{}, &mockSQSClient{}, NewNaming("au-dev", ""))
	_, err = publisherOnly.NewConsumer(h)

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ServiceSetting, cfgErr.Setting)
}
