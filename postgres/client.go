package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/topicq/pubsub"
)

var errNotConnected = errors.New("client is not connected")

var _ pubsub.Ledger = (*Client)(nil)

// pool defines the interface for database operations.
// This interface is satisfied by *pgxpool.Pool and can be mocked for testing.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
	Ping(ctx context.Context) error
}

// Client is a Postgres-backed [pubsub.Ledger].
type Client struct {
	conn      pool
	opts      *options
	cancelTTL context.CancelFunc
}

func New(opts ...Option) *Client {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Client{opts: o}
}

func (c *Client) Connect(ctx context.Context) error {
	// Close existing connection if any to prevent leaks
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	if err := c.opts.validate(); err != nil {
		return fmt.Errorf("invalid Postgres db configuration: %w", err)
	}

	config, err := pgxpool.ParseConfig(c.opts.connectionString())
	if err != nil {
		return fmt.Errorf("failed to parse Postgres db connection string: %w", err)
	}

	if c.opts.poolMaxConnections != nil {
		config.MaxConns = *c.opts.poolMaxConnections
	}

	if c.opts.poolMinConnections != nil {
		config.MinConns = *c.opts.poolMinConnections
	}

	if c.opts.poolMaxConnectionLifetime != nil {
		config.MaxConnLifetime = *c.opts.poolMaxConnectionLifetime
	}

	if c.opts.poolMaxConnectionIdleTime != nil {
		config.MaxConnIdleTime = *c.opts.poolMaxConnectionIdleTime
	}

	conn, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to create new Postgres connection pool: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("failed to ping Postgres db: %w", err)
	}

	c.conn = conn

	return nil
}

func (c *Client) Close(_ context.Context) error {
	if c.cancelTTL != nil {
		c.cancelTTL()
		c.cancelTTL = nil
	}

	if c.conn == nil {
		return nil
	}

	c.conn.Close()

	c.conn = nil

	return nil
}

// Init creates the ledger table and its indexes if they do not exist, then
// verifies the column layout unless skipSchemaValidation is true. It also
// starts the background cleanup of expired rows, unless disabled with
// [WithTTLCleanupDisabled].
func (c *Client) Init(ctx context.Context, skipSchemaValidation bool) error {
	if c.conn == nil {
		return errNotConnected
	}

	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin init transaction: %w", err)
	}

	defer func() { _ = tx.Rollback(ctx) }() // No-op if committed

	for _, sql := range c.opts.createStatements() {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return fmt.Errorf("failed to execute create statement: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit init transaction: %w", err)
	}

	if !skipSchemaValidation {
		if err := c.verifySchema(ctx); err != nil {
			return err
		}
	}

	if c.cancelTTL == nil && c.opts.ttlCleanupInterval != nil {
		ttlCtx, cancel := context.WithCancel(context.Background())
		c.cancelTTL = cancel

		//nolint:contextcheck // Intentionally using a new context: the TTL goroutine must outlive the Init call.
		go c.runTTLCleanup(ttlCtx)
	}

	return nil
}

func (c *Client) verifySchema(ctx context.Context) error {
	query := "SELECT table_name, column_name, data_type, is_nullable FROM information_schema.columns WHERE table_schema = 'public' AND table_name = $1 ORDER BY ordinal_position"

	rows, err := c.conn.Query(ctx, query, strings.ToLower(c.opts.ledgerTable))
	if err != nil {
		return fmt.Errorf("failed to query information schema: %w", err)
	}

	defer rows.Close()

	infoRows := map[string]*dbRow{}

	for rows.Next() {
		var table, column string
		infoRow := &dbRow{}

		if err := rows.Scan(&table, &column, &infoRow.DataType, &infoRow.IsNullable); err != nil {
			return fmt.Errorf("failed to scan row from information schema: %w", err)
		}

		infoRows[c.opts.ledgerTable+"."+column] = infoRow
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating over rows from information schema: %w", err)
	}

	if err := c.opts.verifyCurrentDatabaseVersion(infoRows); err != nil {
		return fmt.Errorf("failed to verify current database version: %w", err)
	}

	return nil
}

// DropAllData drops the ledger table.
//
// This method is intended for use in tests only. Do not call it in production.
func (c *Client) DropAllData(ctx context.Context) error {
	if c.conn == nil {
		return errNotConnected
	}

	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin drop tables transaction: %w", err)
	}

	defer func() { _ = tx.Rollback(ctx) }() // No-op if committed

	for _, sql := range c.opts.dropStatements() {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return fmt.Errorf("failed to execute drop statement: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit drop tables transaction: %w", err)
	}

	return nil
}

// Record inserts one reconciliation outcome. Entries without a timestamp are
// stamped with the current time.
func (c *Client) Record(ctx context.Context, entry pubsub.LedgerEntry) error {
	if c.conn == nil {
		return errNotConnected
	}

	if err := validateEntry(entry.Kind, entry.Name); err != nil {
		return err
	}

	if entry.Action == "" {
		return errors.New("ledger entry action cannot be empty")
	}

	now := c.opts.clock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}

	sql, args := c.getEntryInsertSQL(entry, string(body), now.Add(c.opts.recordTimeToLive))

	if _, err := c.conn.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to save ledger entry to Postgres db: %w", err)
	}

	return nil
}

// History returns every unexpired entry recorded for one resource, newest first.
func (c *Client) History(ctx context.Context, kind pubsub.ResourceKind, name string) ([]pubsub.LedgerEntry, error) {
	if c.conn == nil {
		return nil, errNotConnected
	}

	if err := validateEntry(kind, name); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT attrs FROM %s WHERE kind = $1 AND name = $2 AND (expires_at IS NULL OR expires_at > NOW()) ORDER BY recorded_at DESC", c.opts.ledgerTable)

	rows, err := c.conn.Query(ctx, query, string(kind), name)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger history from Postgres db: %w", err)
	}

	defer rows.Close()

	var entries []pubsub.LedgerEntry

	for rows.Next() {
		var body []byte

		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}

		var entry pubsub.LedgerEntry
		if err := json.Unmarshal(body, &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal ledger entry: %w", err)
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over ledger rows: %w", err)
	}

	return entries, nil
}

func (c *Client) getEntryInsertSQL(entry pubsub.LedgerEntry, body string, expiresAt time.Time) (string, []any) {
	sql := fmt.Sprintf("INSERT INTO %s (id, version, kind, name, handle, action, recorded_at, attrs, expires_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)", c.opts.ledgerTable)

	args := []any{
		uuid.NewString(),
		EntryModelVersion,
		string(entry.Kind),
		entry.Name,
		entry.Handle,
		string(entry.Action),
		entry.Timestamp,
		body,
		expiresAt,
	}

	return sql, args
}

func validateEntry(kind pubsub.ResourceKind, name string) error {
	if kind == "" {
		return errors.New("resource kind cannot be empty")
	}

	if name == "" {
		return errors.New("resource name cannot be empty")
	}

	return nil
}

func (c *Client) runTTLCleanup(ctx context.Context) {
	ticker := time.NewTicker(*c.opts.ttlCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.deleteExpiredRows(ctx)
		}
	}
}

func (c *Client) deleteExpiredRows(ctx context.Context) {
	_, _ = c.conn.Exec(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at < NOW()", c.opts.ledgerTable))
}
