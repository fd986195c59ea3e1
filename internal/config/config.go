// Package config loads pubsubctl settings from a YAML file, a .env file and
// the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/topicq/pubsub"
	"gopkg.in/yaml.v3"
)

// Environment variables read by [Load]. They override values from the file.
const (
	EnvPrefix           = "PUBSUB_PREFIX"
	EnvService          = "PUBSUB_SERVICE"
	EnvRegion           = "AWS_REGION"
	EnvLogLevel         = "PUBSUB_LOG_LEVEL"
	EnvLedgerDriver     = "PUBSUB_LEDGER_DRIVER"
	EnvPostgresPassword = "PUBSUB_POSTGRES_PASSWORD"
)

// Ledger drivers.
const (
	LedgerNone     = ""
	LedgerDynamoDB = "dynamodb"
	LedgerPostgres = "postgres"
)

type Config struct {
	Prefix   string         `yaml:"prefix"`
	Service  string         `yaml:"service"`
	Region   string         `yaml:"region"`
	Log      LogConfig      `yaml:"log"`
	Consumer ConsumerConfig `yaml:"consumer"`
	Ledger   LedgerConfig   `yaml:"ledger"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConsumerConfig holds the tunables passed to the pubsub client. Zero values
// keep the library defaults.
type ConsumerConfig struct {
	MaxMessages              int32         `yaml:"max_messages"`
	WaitTimeSeconds          *int32        `yaml:"wait_time_seconds"`
	VisibilityTimeoutSeconds int32         `yaml:"visibility_timeout_seconds"`
	MaxMessageExtension      time.Duration `yaml:"max_message_extension"`
	MaxReceiveCount          int           `yaml:"max_receive_count"`
	MessageRetention         time.Duration `yaml:"message_retention"`
	ErrorDelay               time.Duration `yaml:"error_delay"`
	EmptyQueueDelay          time.Duration `yaml:"empty_queue_delay"`
}

type LedgerConfig struct {
	Driver   string         `yaml:"driver"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type DynamoDBConfig struct {
	Table string `yaml:"table"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	Table    string `yaml:"table"`
}

// LookupFunc reads one environment variable.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}

		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}

	return nil
}

// Load reads the YAML file at path, if any, and applies environment
// overrides using lookup. A nil lookup uses os.LookupEnv. ${VAR} references
// inside the file are expanded with the same lookup.
func Load(path string, lookup LookupFunc) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := decode(data, lookup, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv(lookup)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func decode(data []byte, lookup LookupFunc, cfg *Config) error {
	expanded := os.Expand(string(data), func(key string) string {
		v, _ := lookup(key)
		return v
	})

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return nil
}

func (c *Config) applyEnv(lookup LookupFunc) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set(EnvPrefix, &c.Prefix)
	set(EnvService, &c.Service)
	set(EnvRegion, &c.Region)
	set(EnvLogLevel, &c.Log.Level)
	set(EnvLedgerDriver, &c.Ledger.Driver)
	set(EnvPostgresPassword, &c.Ledger.Postgres.Password)
}

// Validate checks settings that cannot be validated by the pubsub packages
// themselves.
func (c *Config) Validate() error {
	switch c.Ledger.Driver {
	case LedgerNone:
	case LedgerDynamoDB:
		if c.Ledger.DynamoDB.Table == "" {
			return errors.New("ledger.dynamodb.table is required when the dynamodb ledger is enabled")
		}
	case LedgerPostgres:
		if c.Ledger.Postgres.User == "" || c.Ledger.Postgres.Database == "" {
			return errors.New("ledger.postgres.user and ledger.postgres.database are required when the postgres ledger is enabled")
		}
	default:
		return fmt.Errorf("unknown ledger driver %q", c.Ledger.Driver)
	}

	return nil
}

// Naming returns the naming configuration for the loaded prefix and service.
func (c *Config) Naming() pubsub.Naming {
	return pubsub.NewNaming(c.Prefix, c.Service)
}

// ClientOptions translates the consumer settings into pubsub client options.
func (c *Config) ClientOptions() []pubsub.Option {
	var opts []pubsub.Option

	cc := c.Consumer

	if cc.MaxMessages > 0 {
		opts = append(opts, pubsub.WithSqsReceiveMaxNumberOfMessages(cc.MaxMessages))
	}

	if cc.WaitTimeSeconds != nil {
		opts = append(opts, pubsub.WithSqsReceiveWaitTimeSeconds(*cc.WaitTimeSeconds))
	}

	if cc.VisibilityTimeoutSeconds > 0 {
		opts = append(opts, pubsub.WithSqsVisibilityTimeout(cc.VisibilityTimeoutSeconds))
	}

	if cc.MaxMessageExtension > 0 {
		opts = append(opts, pubsub.WithMaxMessageExtension(cc.MaxMessageExtension))
	}

	if cc.MaxReceiveCount > 0 {
		opts = append(opts, pubsub.WithMaxReceiveCount(cc.MaxReceiveCount))
	}

	if cc.MessageRetention > 0 {
		opts = append(opts, pubsub.WithMessageRetentionPeriod(cc.MessageRetention))
	}

	if cc.ErrorDelay > 0 {
		opts = append(opts, pubsub.WithErrorDelay(cc.ErrorDelay))
	}

	if cc.EmptyQueueDelay > 0 {
		opts = append(opts, pubsub.WithEmptyQueueDelay(cc.EmptyQueueDelay))
	}

	return opts
}
