// Package dynamodb provides a DynamoDB-backed implementation of the
// [github.com/topicq/pubsub.Ledger] interface, recording which topics, queues
// and subscriptions reconciliation created or verified.
//
// # Overview
//
// The package uses a single table. Every entry is keyed by the resource it
// concerns (partition key, "pk") and the moment it was recorded (sort key, "sk"):
//
//   - pk: <kind>#<name>, e.g. topic#au-dev-ordersubmittedevent
//   - sk: <RFC3339 timestamp>#<action>, e.g. 2026-03-01T10:00:00Z#created
//
// The full entry is stored as JSON in the "body" attribute, and the provider
// handle is copied to "handle" so it can be read from the console.
//
// # Getting Started
//
//	ledger := dynamodb.New(&awsCfg, tableName)
//
//	if err := ledger.Connect(); err != nil {
//	    return err
//	}
//
//	if err := ledger.Init(ctx, false); err != nil {
//	    return err
//	}
//
//	client := pubsub.New(&awsCfg, naming, logger, pubsub.WithLedger(ledger))
//
// By default, [Client.Connect] creates an AWS SDK v2 DynamoDB client from the
// supplied [aws.Config]. Supply [WithAPI] to inject a custom or mock
// implementation.
//
// # TTL Behaviour
//
// Entries expire after 90 days by default, configurable via
// [WithRecordTimeToLive]. TTL values are stored as Unix timestamps and rely
// on DynamoDB's built-in TTL feature for automatic deletion. Deletion can lag
// expiry by up to two days, so [Client.History] filters on the ttl attribute
// as well.
//
// # Concurrency
//
// [Client] is safe for concurrent use by multiple goroutines.
package dynamodb
