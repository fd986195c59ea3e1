// Package postgres provides a PostgreSQL-backed implementation of the
// [github.com/topicq/pubsub.Ledger] interface.
//
// It uses pgx v5 with connection pooling (pgxpool) and stores every entry as
// JSONB next to indexed kind, name and recorded_at columns.
//
// # Usage
//
// Create a client using [New] with functional options, call [Client.Connect]
// to establish the connection pool, and then [Client.Init] to create the
// ledger table:
//
//	ledger := postgres.New(
//	    postgres.WithHost("localhost"),
//	    postgres.WithUser("postgres"),
//	    postgres.WithPassword("secret"),
//	    postgres.WithDatabase("pubsub"),
//	)
//
//	if err := ledger.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer ledger.Close(ctx)
//
//	if err := ledger.Init(ctx, false); err != nil {
//	    log.Fatal(err)
//	}
//
//	client := pubsub.New(&awsCfg, naming, logger, pubsub.WithLedger(ledger))
//
// # TTL and Cleanup
//
// Rows expire 90 days after they are written, configurable via
// [WithRecordTimeToLive]. A background goroutine started by [Client.Init]
// deletes expired rows every hour. Change the interval with
// [WithTTLCleanupInterval] or turn it off with [WithTTLCleanupDisabled].
//
// # Schema Validation
//
// When [Client.Init] is called with skipSchemaValidation set to false, it
// queries information_schema.columns and verifies that every expected column
// exists with the correct data type and nullability.
package postgres
