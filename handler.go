package pubsub

import (
	"context"
	"time"

	"github.com/slackmgr/types"
)

// Message is one delivery from the queue.
//
// Delivery is at-least-once: a message whose handler fails, or whose process
// dies before the message is deleted, is delivered again once its visibility
// timeout expires.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          string
	// Attributes holds the SQS system attributes returned with the message,
	// keyed by attribute name (e.g. "ApproximateReceiveCount").
	Attributes   map[string]string
	ReceiveCount int
	ReceivedAt   time.Time
}

// Handler processes one message. Returning nil acknowledges the message and
// deletes it from the queue; returning an error leaves it for redelivery.
//
// Handlers are called sequentially, never concurrently for the same
// [Consumer].
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts an ordinary function to the [Handler] interface.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

type scopedHandler struct {
	factory func() Handler
}

// NewScopedHandler returns a Handler that calls factory for every message and
// dispatches to the returned handler, so that no handler state is shared
// between messages.
func NewScopedHandler(factory func() Handler) Handler {
	return &scopedHandler{factory: factory}
}

func (s *scopedHandler) Handle(ctx context.Context, msg *Message) error {
	return s.factory().Handle(ctx, msg)
}

type scopeContextKey struct{}

type scope struct {
	id     string
	logger types.Logger
}

func withScope(ctx context.Context, id string, logger types.Logger) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, &scope{id: id, logger: logger})
}

// ScopeID returns the ID of the per-message scope carried by ctx, or "" when
// ctx was not created by a [Consumer].
func ScopeID(ctx context.Context) string {
	if s, ok := ctx.Value(scopeContextKey{}).(*scope); ok {
		return s.id
	}

	return ""
}

// ScopeLogger returns the logger of the per-message scope carried by ctx,
// enriched with the message ID and scope ID.
func ScopeLogger(ctx context.Context) (types.Logger, bool) {
	if s, ok := ctx.Value(scopeContextKey{}).(*scope); ok {
		return s.logger, true
	}

	return nil, false
}
