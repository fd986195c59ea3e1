package pubsub

import (
	"context"
	"time"
)

// ResourceKind names the kind of provider resource a handle refers to.
type ResourceKind string

const (
	ResourceTopic           ResourceKind = "topic"
	ResourceQueue           ResourceKind = "queue"
	ResourceDeadLetterQueue ResourceKind = "dead-letter-queue"
	ResourceSubscription    ResourceKind = "subscription"
)

func (k ResourceKind) String() string {
	return string(k)
}

// LedgerAction tells whether reconciliation created a resource or found it
// already in place.
type LedgerAction string

const (
	ActionCreated  LedgerAction = "created"
	ActionVerified LedgerAction = "verified"
)

// LedgerEntry is one reconciliation outcome.
type LedgerEntry struct {
	Kind      ResourceKind `json:"kind"`
	Name      string       `json:"name"`
	Handle    string       `json:"handle"`
	Action    LedgerAction `json:"action"`
	Prefix    string       `json:"prefix"`
	Service   string       `json:"service,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Ledger stores reconciliation outcomes so that provisioning can be audited
// independently of the provider. The dynamodb and postgres sub-packages
// provide implementations.
//
// Recording is best-effort: a failed Record is logged by the [Reconciler]
// and never fails reconciliation.
type Ledger interface {
	Record(ctx context.Context, entry LedgerEntry) error
}
