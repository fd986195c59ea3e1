package postgres

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// validIdentifier accepts unquoted identifiers only, so the ledger table name
// can be formatted straight into SQL.
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// EntryModelVersion is written to the version column of every ledger row.
const EntryModelVersion = 1

// SSLMode is the libpq sslmode passed in the connection string.
type SSLMode string

const (
	SSLModeDisable    SSLMode = "disable"
	SSLModeAllow      SSLMode = "allow"
	SSLModePrefer     SSLMode = "prefer" // default
	SSLModeRequire    SSLMode = "require"
	SSLModeVerifyCA   SSLMode = "verify-ca"
	SSLModeVerifyFull SSLMode = "verify-full"
)

// Option configures a ledger Client.
type Option func(*options)

type options struct {
	host                      string
	port                      int
	user                      string
	password                  string
	database                  string
	sslMode                   SSLMode
	poolMaxConnections        *int32
	poolMinConnections        *int32
	poolMaxConnectionLifetime *time.Duration
	poolMaxConnectionIdleTime *time.Duration
	ledgerTable               string
	recordTimeToLive          time.Duration
	ttlCleanupInterval        *time.Duration
	clock                     func() time.Time
}

func newOptions() *options {
	defaultCleanupInterval := time.Hour

	return &options{
		host:               "localhost",
		port:               5432,
		sslMode:            SSLModePrefer,
		ledgerTable:        "pubsub_ledger",
		recordTimeToLive:   90 * 24 * time.Hour,
		ttlCleanupInterval: &defaultCleanupInterval,
		clock:              time.Now,
	}
}

func WithHost(host string) Option {
	return func(o *options) { o.host = host }
}

func WithPort(port int) Option {
	return func(o *options) { o.port = port }
}

func WithUser(user string) Option {
	return func(o *options) { o.user = user }
}

func WithPassword(password string) Option {
	return func(o *options) { o.password = password }
}

func WithDatabase(database string) Option {
	return func(o *options) { o.database = database }
}

func WithSSLMode(mode SSLMode) Option {
	return func(o *options) { o.sslMode = mode }
}

func WithPoolMaxConnections(n int32) Option {
	return func(o *options) { o.poolMaxConnections = &n }
}

func WithPoolMinConnections(n int32) Option {
	return func(o *options) { o.poolMinConnections = &n }
}

func WithPoolMaxConnectionLifetime(d time.Duration) Option {
	return func(o *options) { o.poolMaxConnectionLifetime = &d }
}

func WithPoolMaxConnectionIdleTime(d time.Duration) Option {
	return func(o *options) { o.poolMaxConnectionIdleTime = &d }
}

// WithLedgerTable sets the table ledger entries are written to. The default
// is pubsub_ledger. The name must be a plain unquoted identifier.
func WithLedgerTable(name string) Option {
	return func(o *options) { o.ledgerTable = name }
}

// WithRecordTimeToLive sets how long ledger rows are kept. The default is
// 90 days. The duration must be greater than zero.
func WithRecordTimeToLive(d time.Duration) Option {
	return func(o *options) { o.recordTimeToLive = d }
}

// WithTTLCleanupInterval sets how often expired ledger rows are deleted.
// The default is one hour.
func WithTTLCleanupInterval(d time.Duration) Option {
	return func(o *options) { o.ttlCleanupInterval = &d }
}

// WithTTLCleanupDisabled stops Init from starting the cleanup goroutine.
// Expired rows are still hidden from History.
func WithTTLCleanupDisabled() Option {
	return func(o *options) { o.ttlCleanupInterval = nil }
}

type dbRow struct {
	DataType   string
	IsNullable string
}

func (o *options) validate() error {
	if o.port < 1 || o.port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", o.port)
	}

	if o.user == "" {
		return errors.New("user is required")
	}

	if o.database == "" {
		return errors.New("database is required")
	}

	if !o.sslMode.isValid() {
		return fmt.Errorf("invalid SSL mode: %s", o.sslMode)
	}

	if err := validateTableName(o.ledgerTable); err != nil {
		return fmt.Errorf("invalid ledger table name: %w", err)
	}

	if o.recordTimeToLive <= 0 {
		return errors.New("record time to live must be greater than zero")
	}

	if o.ttlCleanupInterval != nil && *o.ttlCleanupInterval <= 0 {
		return errors.New("ttl cleanup interval must be greater than zero")
	}

	return nil
}

func validateTableName(name string) error {
	if !validIdentifier.MatchString(name) {
		return fmt.Errorf("table name %q contains invalid characters", name)
	}

	return nil
}

func (s SSLMode) isValid() bool {
	switch s {
	case SSLModeDisable, SSLModeAllow, SSLModePrefer, SSLModeRequire, SSLModeVerifyCA, SSLModeVerifyFull:
		return true
	default:
		return false
	}
}

func (o *options) connectionString() string {
	host := net.JoinHostPort(o.host, strconv.Itoa(o.port))

	user := url.QueryEscape(o.user)

	if o.password != "" {
		user += ":" + url.QueryEscape(o.password)
	}

	return fmt.Sprintf("postgres://%s@%s/%s?sslmode=%s", user, host, o.database, o.sslMode)
}

func (o *options) createStatements() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id text PRIMARY KEY, version SMALLINT NOT NULL, kind text NOT NULL, name text NOT NULL, handle text NOT NULL, action text NOT NULL, recorded_at TIMESTAMP WITH TIME ZONE NOT NULL, attrs JSONB NOT NULL, expires_at TIMESTAMP WITH TIME ZONE NULL);`, o.ledgerTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_kind_name_idx ON %s (kind, name, recorded_at DESC);`, o.ledgerTable, o.ledgerTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_expires_at_idx ON %s (expires_at) WHERE expires_at IS NOT NULL;`, o.ledgerTable, o.ledgerTable),
	}
}

func (o *options) dropStatements() []string {
	return []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE;", o.ledgerTable),
	}
}

func (o *options) verifyCurrentDatabaseVersion(actualRows map[string]*dbRow) error {
	expectedRows := map[string]*dbRow{
		o.ledgerTable + ".id":          {DataType: "text", IsNullable: "NO"},
		o.ledgerTable + ".version":     {DataType: "smallint", IsNullable: "NO"},
		o.ledgerTable + ".kind":        {DataType: "text", IsNullable: "NO"},
		o.ledgerTable + ".name":        {DataType: "text", IsNullable: "NO"},
		o.ledgerTable + ".handle":      {DataType: "text", IsNullable: "NO"},
		o.ledgerTable + ".action":      {DataType: "text", IsNullable: "NO"},
		o.ledgerTable + ".recorded_at": {DataType: "timestamp with time zone", IsNullable: "NO"},
		o.ledgerTable + ".attrs":       {DataType: "jsonb", IsNullable: "NO"},
		o.ledgerTable + ".expires_at":  {DataType: "timestamp with time zone", IsNullable: "YES"},
	}

	for id, expectedRow := range expectedRows {
		actual, ok := actualRows[id]
		if !ok {
			return fmt.Errorf("expected row '%s' not found in current database schema", id)
		}

		if !strings.EqualFold(actual.DataType, expectedRow.DataType) {
			return fmt.Errorf("data type mismatch for '%s': expected %s, got %s", id, expectedRow.DataType, actual.DataType)
		}

		if !strings.EqualFold(actual.IsNullable, expectedRow.IsNullable) {
			return fmt.Errorf("nullability mismatch for '%s': expected %s, got %s", id, expectedRow.IsNullable, actual.IsNullable)
		}
	}

	return nil
}
