package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/slackmgr/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State is the lifecycle state of a [Consumer].
type State int32

const (
	StateIdle State = iota
	StateStarting
	StatePolling
	StateHandling
	StateErrorBackoff
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StatePolling:
		return "polling"
	case StateHandling:
		return "handling"
	case StateErrorBackoff:
		return "error-backoff"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Consumer polls the service's primary queue and dispatches each message to
// a [Handler], one message at a time.
//
// A message is deleted only after its handler returns nil. Any other failure
// in a poll/handle cycle is logged, followed by a fixed back-off delay, and
// polling resumes; the loop only stops when its context is cancelled.
// Messages that keep failing are moved to the dead-letter queue by SQS once
// the queue's redrive policy allows no more receives.
type Consumer struct {
	sqs        sqsClient
	reconciler *Reconciler
	handler    Handler
	opts       *Options
	logger     types.Logger
	queueURL   string
	state      atomic.Int32
	running    atomic.Bool
}

func newConsumer(sqsAPI sqsClient, reconciler *Reconciler, h Handler, opts *Options, logger types.Logger) *Consumer {
	return &Consumer{
		sqs:        sqsAPI,
		reconciler: reconciler,
		handler:    h,
		opts:       opts,
		logger:     logger,
	}
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
}

// Run ensures the primary and dead-letter queues exist and then polls the
// queue until ctx is cancelled. A failure to ensure the queues is returned
// immediately; after that Run only returns nil, on cancellation.
//
// The batch being handled when ctx is cancelled is worked through to the end;
// handlers see the cancelled context. Deletes use a context detached from ctx
// so that the acknowledgment of a successfully handled message is not lost.
func (c *Consumer) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("consumer is already running")
	}
	defer c.running.Store(false)

	c.setState(StateStarting)

	handles, err := c.reconciler.EnsureQueuesExist(ctx)
	if err != nil {
		c.setState(StateStopped)

		if ctx.Err() != nil && isCancellation(err) {
			return nil
		}

		return fmt.Errorf("failed to ensure SQS queues exist: %w", err)
	}

	c.queueURL = handles.Queue

	logger := c.logger.WithField("queue_url", c.queueURL)
	logger.Info("SQS consumer started")

	defer func() {
		c.setState(StateStopped)
		logger.Info("SQS consumer exited")
	}()

	for ctx.Err() == nil {
		c.setState(StatePolling)

		delay, err := c.poll(ctx)
		if err != nil {
			if ctx.Err() != nil && isCancellation(err) {
				break
			}

			c.setState(StateErrorBackoff)
			logger.Errorf("SQS consumer cycle failed, retrying in %v: %v", c.opts.errorDelay, err)

			delay = c.opts.errorDelay
		}

		if delay > 0 && !sleep(ctx, delay) {
			break
		}
	}

	c.setState(StateStopping)

	return nil
}

// poll receives one batch and handles it. It returns how long to wait before
// the next poll.
func (c *Consumer) poll(ctx context.Context) (time.Duration, error) {
	output, err := c.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: c.opts.sqsReceiveMaxNumberOfMessages,
		VisibilityTimeout:   c.opts.sqsVisibilityTimeoutSeconds,
		WaitTimeSeconds:     c.opts.sqsReceiveWaitTimeSeconds,
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
			sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
			sqstypes.MessageSystemAttributeNameSentTimestamp,
		},
	})
	if err != nil {
		return 0, &LoopError{Stage: StageReceive, Err: err}
	}

	if len(output.Messages) == 0 {
		c.logger.Debug("No SQS messages received")
		return c.opts.emptyQueueDelay, nil
	}

	return 0, c.handleBatch(ctx, output.Messages)
}

func (c *Consumer) handleBatch(ctx context.Context, batch []sqstypes.Message) error {
	now := time.Now()
	messages := make([]*Message, 0, len(batch))

	for _, m := range batch {
		messages = append(messages, newMessage(m, now))
	}

	var extender *visibilityExtender

	if c.opts.visibilityExtensionEnabled() {
		extender = newVisibilityExtender(c.sqs, c.queueURL, c.opts, c.logger)

		for _, msg := range messages {
			extender.track(msg)
		}

		extCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan struct{})

		go func() {
			defer close(done)
			extender.run(extCtx)
		}()

		defer func() {
			cancel()
			<-done
		}()
	}

	for _, msg := range messages {
		c.setState(StateHandling)

		if err := c.handle(ctx, msg); err != nil {
			return &LoopError{Stage: StageHandle, MessageID: msg.ID, Err: err}
		}

		if err := c.deleteMessage(ctx, msg); err != nil {
			return &LoopError{Stage: StageDelete, MessageID: msg.ID, Err: err}
		}

		if extender != nil {
			extender.release(msg.ID)
		}
	}

	return nil
}

// handle runs the handler for msg inside a fresh scope and converts a panic
// into an error.
func (c *Consumer) handle(ctx context.Context, msg *Message) (err error) {
	scopeID := uuid.NewString()
	logger := c.logger.WithField("message_id", msg.ID).WithField("scope_id", scopeID)

	ctx, span := c.opts.tracer.Start(withScope(ctx, scopeID, logger), "pubsub.handle",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "aws_sqs"),
			attribute.String("messaging.destination.name", c.queueURL),
			attribute.String("messaging.operation", "process"),
			attribute.String("messaging.message.id", msg.ID),
			attribute.Int("messaging.aws_sqs.receive_count", msg.ReceiveCount),
		),
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()
	}()

	logger.Debug("SQS message received")

	return c.handler.Handle(ctx, msg)
}

func (c *Consumer) deleteMessage(ctx context.Context, msg *Message) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ackTimeout)
	defer cancel()

	if _, err := c.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(msg.ReceiptHandle),
	}); err != nil {
		return fmt.Errorf("failed to delete SQS message: %w", err)
	}

	c.logger.WithField("message_id", msg.ID).Debug("SQS message deleted")

	return nil
}

func newMessage(m sqstypes.Message, receivedAt time.Time) *Message {
	msg := &Message{
		ID:            aws.ToString(m.MessageId),
		ReceiptHandle: aws.ToString(m.ReceiptHandle),
		Body:          aws.ToString(m.Body),
		Attributes:    m.Attributes,
		ReceivedAt:    receivedAt,
	}

	if count, err := strconv.Atoi(m.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]); err == nil {
		msg.ReceiveCount = count
	}

	return msg
}

// sleep waits for d or until ctx is done. It returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
