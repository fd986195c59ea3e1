package pubsub

import (
	"strings"
	"unicode"
)

const (
	// MaxTopicNameLength is the SNS limit for topic names.
	MaxTopicNameLength = 256

	// MaxQueueNameLength is the SQS limit for queue names.
	MaxQueueNameLength = 80

	// PrefixSetting and ServiceSetting are the configuration keys reported in
	// a [ConfigurationError].
	PrefixSetting  = "pubsub.prefix"
	ServiceSetting = "pubsub.service"

	deadLetterSuffix = "-dlq"
)

// MessageKind is the canonical logical identifier of a message type. Declare
// one constant per supported kind:
//
//	const OrderSubmitted pubsub.MessageKind = "OrderSubmittedEvent"
//
// The topic for a kind is derived from this identifier alone. Kinds must be
// ASCII; provider names cannot hold other characters.
type MessageKind string

func (k MessageKind) String() string {
	return string(k)
}

// Naming derives provider resource names from a prefix, a service name and a
// [MessageKind]. All methods are pure functions of those inputs.
//
// Names longer than the provider limit are truncated with a hard cut. Two
// logical names that share a long common prefix may therefore map to the same
// resource; keep prefixes and service names short.
type Naming struct {
	prefix  string
	service string
}

// NewNaming returns a Naming for the given prefix and service. The values are
// validated lazily by each method, so a publisher-only process may leave the
// service empty.
func NewNaming(prefix, service string) Naming {
	return Naming{
		prefix:  strings.TrimSpace(prefix),
		service: strings.TrimSpace(service),
	}
}

// Prefix returns the configured prefix.
func (n Naming) Prefix() string {
	return n.prefix
}

// Service returns the configured service name.
func (n Naming) Service() string {
	return n.service
}

// Validate checks that the prefix, and the service when requireService is
// true, are set.
func (n Naming) Validate(requireService bool) error {
	if n.prefix == "" {
		return &ConfigurationError{Setting: PrefixSetting}
	}

	if !isASCII(n.prefix) {
		return &ConfigurationError{Setting: PrefixSetting, Reason: "must contain only ASCII characters"}
	}

	if requireService && n.service == "" {
		return &ConfigurationError{Setting: ServiceSetting}
	}

	if !isASCII(n.service) {
		return &ConfigurationError{Setting: ServiceSetting, Reason: "must contain only ASCII characters"}
	}

	return nil
}

// TopicName returns {prefix}-{kind}, lower-cased and truncated to
// [MaxTopicNameLength].
func (n Naming) TopicName(kind MessageKind) (string, error) {
	if err := n.Validate(false); err != nil {
		return "", err
	}

	if strings.TrimSpace(string(kind)) == "" {
		return "", &ConfigurationError{Setting: "message kind", Reason: "must not be empty"}
	}

	if !isASCII(string(kind)) {
		return "", &ConfigurationError{Setting: "message kind", Reason: "must contain only ASCII characters"}
	}

	return truncate(strings.ToLower(n.prefix+"-"+string(kind)), MaxTopicNameLength), nil
}

// QueueName returns {prefix}-{service}, lower-cased and truncated to
// [MaxQueueNameLength].
func (n Naming) QueueName() (string, error) {
	if err := n.Validate(true); err != nil {
		return "", err
	}

	return truncate(strings.ToLower(n.prefix+"-"+n.service), MaxQueueNameLength), nil
}

// DeadLetterQueueName returns {prefix}-{service}-dlq, lower-cased and
// truncated to [MaxQueueNameLength].
func (n Naming) DeadLetterQueueName() (string, error) {
	if err := n.Validate(true); err != nil {
		return "", err
	}

	return truncate(strings.ToLower(n.prefix+"-"+n.service+deadLetterSuffix), MaxQueueNameLength), nil
}

func isASCII(s string) bool {
	for i := range len(s) {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}

	return true
}

// truncate cuts at a byte index; callers only pass ASCII.
func truncate(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}

	return s[:maxLength]
}
