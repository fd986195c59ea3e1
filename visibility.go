package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/slackmgr/types"
	"golang.org/x/sync/semaphore"
)

const maxConcurrentExtensions = 3

type inFlightMessage struct {
	id             string
	receiptHandle  string
	receivedAt     time.Time
	lastExtendedAt time.Time
}

// visibilityExtender keeps the received-but-unhandled messages of one batch
// invisible to other consumers while the batch is being worked through.
//
// Extension is best-effort: a message whose extension fails, or that has
// reached the maximum extension, is dropped from tracking and may be
// redelivered before its handler finishes. Handlers must be idempotent.
type visibilityExtender struct {
	sqs      sqsClient
	queueURL string
	opts     *Options
	logger   types.Logger
	now      func() time.Time

	mu       sync.Mutex
	messages map[string]*inFlightMessage
}

func newVisibilityExtender(sqsAPI sqsClient, queueURL string, opts *Options, logger types.Logger) *visibilityExtender {
	return &visibilityExtender{
		sqs:      sqsAPI,
		queueURL: queueURL,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		messages: make(map[string]*inFlightMessage),
	}
}

func (v *visibilityExtender) visibilityTimeout() time.Duration {
	return time.Duration(v.opts.sqsVisibilityTimeoutSeconds) * time.Second
}

func (v *visibilityExtender) track(msg *Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.messages[msg.ID] = &inFlightMessage{
		id:             msg.ID,
		receiptHandle:  msg.ReceiptHandle,
		receivedAt:     msg.ReceivedAt,
		lastExtendedAt: msg.ReceivedAt,
	}
}

func (v *visibilityExtender) release(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.messages, id)
}

func (v *visibilityExtender) tracked(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, ok := v.messages[id]

	return ok
}

func (v *visibilityExtender) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return len(v.messages)
}

func (v *visibilityExtender) run(ctx context.Context) {
	checkInterval := max(v.visibilityTimeout()/3, time.Second)

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.processInFlightMessages(ctx)
		}
	}
}

// dueForExtension returns the tracked messages whose visibility should be
// extended now. Messages that have reached the extension limit are dropped.
func (v *visibilityExtender) dueForExtension() []inFlightMessage {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	timeout := v.visibilityTimeout()
	due := []inFlightMessage{}

	for id, msg := range v.messages {
		if now.Sub(msg.receivedAt)+timeout >= v.opts.maxMessageExtension {
			v.logger.WithField("message_id", id).Error("SQS message has reached maximum visibility timeout extension limit, removing from list of in-flight messages")
			delete(v.messages, id)

			continue
		}

		if now.Sub(msg.lastExtendedAt) > timeout/2 {
			due = append(due, *msg)
		}
	}

	return due
}

func (v *visibilityExtender) processInFlightMessages(ctx context.Context) {
	due := v.dueForExtension()
	if len(due) == 0 {
		return
	}

	started := v.now()

	sem := semaphore.NewWeighted(maxConcurrentExtensions)
	wg := sync.WaitGroup{}

	for _, msg := range due {
		wg.Go(func() {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			v.extend(ctx, msg)
		})
	}

	wg.Wait()

	v.logger.WithField("count", len(due)).WithField("elapsed", v.now().Sub(started)).Debug("Completed SQS in-flight message processing")
}

func (v *visibilityExtender) extend(ctx context.Context, msg inFlightMessage) {
	_, err := v.sqs.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(v.queueURL),
		ReceiptHandle:     aws.String(msg.receiptHandle),
		VisibilityTimeout: v.opts.sqsVisibilityTimeoutSeconds,
	})
	if err != nil {
		if ctx.Err() != nil || !v.tracked(msg.id) {
			return
		}

		v.logger.WithField("message_id", msg.id).Errorf("Failed to extend message visibility, removing from in-flight tracking: %v", err)
		v.release(msg.id)

		return
	}

	v.mu.Lock()
	if tracked, ok := v.messages[msg.id]; ok {
		tracked.lastExtendedAt = v.now()
	}
	v.mu.Unlock()

	v.logger.WithField("message_id", msg.id).Debug("SQS message visibility extended")
}
