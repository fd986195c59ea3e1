package pubsub

import (
	"errors"
	"fmt"
)

// ErrNotFound marks a provider "does not exist" condition. It is returned by
// the lookup functions handed to the [Cache] and can be matched with
// [errors.Is] through any of the wrapping error types in this package.
var ErrNotFound = errors.New("resource not found")

// ConfigurationError reports a missing or invalid setting. It is raised before
// any remote call is made.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("configuration setting '%s' is missing", e.Setting)
	}

	return fmt.Sprintf("configuration setting '%s' is invalid: %s", e.Setting, e.Reason)
}

// ResolutionError reports that a cache key could not be resolved to a handle.
type ResolutionError struct {
	Key string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve %s: %v", e.Key, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// DependencyMissingError is returned by [Reconciler.EnsureSubscriptionExists]
// when the topic or the queue it binds has not been provisioned yet.
type DependencyMissingError struct {
	Resource ResourceKind
	Name     string
}

func (e *DependencyMissingError) Error() string {
	return fmt.Sprintf("%s does not exist: %s", e.Resource, e.Name)
}

func (e *DependencyMissingError) Unwrap() error {
	return ErrNotFound
}

// TopicNotFoundError is returned by the [Publisher] when the target topic has
// not been provisioned. The publisher never creates topics.
type TopicNotFoundError struct {
	Topic string
}

func (e *TopicNotFoundError) Error() string {
	return fmt.Sprintf("no SNS topic exists for %s", e.Topic)
}

func (e *TopicNotFoundError) Unwrap() error {
	return ErrNotFound
}

// PublishError wraps a transport failure from the SNS Publish call.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to publish message to SNS topic %s: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// ReconcileError identifies the reconciliation step that failed and the
// resource it was operating on.
type ReconcileError struct {
	Step     string
	Resource string
	Err      error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Step, e.Resource, e.Err)
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// LoopError is a recoverable failure inside one poll/handle cycle of the
// [Consumer]. The consumer logs it, backs off and resumes polling.
type LoopError struct {
	Stage     string
	MessageID string
	Err       error
}

func (e *LoopError) Error() string {
	if e.MessageID == "" {
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}

	return fmt.Sprintf("%s failed for message %s: %v", e.Stage, e.MessageID, e.Err)
}

func (e *LoopError) Unwrap() error {
	return e.Err
}

// Reconciliation steps reported in [ReconcileError.Step].
const (
	StepFindTopic                 = "find-topic"
	StepCreateTopic               = "create-topic"
	StepGetQueueURL               = "get-queue-url"
	StepCreateQueue               = "create-queue"
	StepSetQueueAttributes        = "set-queue-attributes"
	StepGetQueueAttributes        = "get-queue-attributes"
	StepSetQueuePolicy            = "set-queue-policy"
	StepListSubscriptions         = "list-subscriptions"
	StepSubscribe                 = "subscribe"
	StepSetSubscriptionAttributes = "set-subscription-attributes"
)

// Consumer loop stages reported in [LoopError.Stage].
const (
	StageReceive = "receive"
	StageHandle  = "handle"
	StageDelete  = "delete"
)
