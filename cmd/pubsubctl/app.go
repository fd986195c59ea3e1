package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/cobra"
	"github.com/topicq/pubsub"
	"github.com/topicq/pubsub/dynamodb"
	"github.com/topicq/pubsub/internal/config"
	"github.com/topicq/pubsub/internal/logging"
	"github.com/topicq/pubsub/postgres"
)

// app carries the state shared by all subcommands.
type app struct {
	configPath string
	prefix     string
	service    string
	region     string
	logLevel   string

	cfg    *config.Config
	logger *logging.Logger
	lookup config.LookupFunc
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&app{})
}

func newRootCmdWith(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "pubsubctl",
		Short:         "Manage SNS topics and SQS queues for message kinds",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	flags.StringVar(&a.prefix, "prefix", "", "resource name prefix (overrides "+config.EnvPrefix+")")
	flags.StringVar(&a.service, "service", "", "subscribing service name (overrides "+config.EnvService+")")
	flags.StringVar(&a.region, "region", "", "AWS region (overrides "+config.EnvRegion+")")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		newNamesCmd(a),
		newProvisionCmd(a),
		newPublishCmd(a),
		newConsumeCmd(a),
	)

	return root
}

// load reads .env, the config file and the environment, then applies any
// flags set on the command line.
func (a *app) load(cmd *cobra.Command) error {
	if a.lookup == nil {
		if err := config.LoadDotEnv(".env"); err != nil {
			return err
		}
	}

	cfg, err := config.Load(a.configPath, a.lookup)
	if err != nil {
		return err
	}

	flags := cmd.Flags()

	if flags.Changed("prefix") {
		cfg.Prefix = a.prefix
	}

	if flags.Changed("service") {
		cfg.Service = a.service
	}

	if flags.Changed("region") {
		cfg.Region = a.region
	}

	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}

	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, logging.Format(cfg.Log.Format))
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger

	return nil
}

func (a *app) awsConfig(ctx context.Context) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if a.cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(a.cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return awsCfg, nil
}

// client builds and initializes a pubsub client. The returned closer
// releases the ledger connection, if any.
func (a *app) client(ctx context.Context, withLedger bool) (*pubsub.Client, io.Closer, error) {
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	opts := a.cfg.ClientOptions()
	closer := io.Closer(nopCloser{})

	if withLedger {
		ledger, c, err := a.openLedger(ctx, &awsCfg)
		if err != nil {
			return nil, nil, err
		}

		if ledger != nil {
			opts = append(opts, pubsub.WithLedger(ledger))
			closer = c
		}
	}

	client, err := pubsub.New(&awsCfg, a.cfg.Naming(), a.logger, opts...).Init(ctx)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}

	return client, closer, nil
}

func (a *app) openLedger(ctx context.Context, awsCfg *aws.Config) (pubsub.Ledger, io.Closer, error) {
	lc := a.cfg.Ledger

	switch lc.Driver {
	case config.LedgerDynamoDB:
		ledger := dynamodb.New(awsCfg, lc.DynamoDB.Table)

		if err := ledger.Connect(); err != nil {
			return nil, nil, err
		}

		if err := ledger.Init(ctx, false); err != nil {
			return nil, nil, fmt.Errorf("failed to initialize DynamoDB ledger: %w", err)
		}

		return ledger, nopCloser{}, nil

	case config.LedgerPostgres:
		opts := []postgres.Option{
			postgres.WithUser(lc.Postgres.User),
			postgres.WithPassword(lc.Postgres.Password),
			postgres.WithDatabase(lc.Postgres.Database),
		}

		if lc.Postgres.Host != "" {
			opts = append(opts, postgres.WithHost(lc.Postgres.Host))
		}

		if lc.Postgres.Port != 0 {
			opts = append(opts, postgres.WithPort(lc.Postgres.Port))
		}

		if lc.Postgres.SSLMode != "" {
			opts = append(opts, postgres.WithSSLMode(postgres.SSLMode(lc.Postgres.SSLMode)))
		}

		if lc.Postgres.Table != "" {
			opts = append(opts, postgres.WithLedgerTable(lc.Postgres.Table))
		}

		ledger := postgres.New(opts...)

		if err := ledger.Connect(ctx); err != nil {
			return nil, nil, err
		}

		if err := ledger.Init(ctx, false); err != nil {
			_ = ledger.Close(ctx)
			return nil, nil, fmt.Errorf("failed to initialize Postgres ledger: %w", err)
		}

		return ledger, closerFunc(func() error { return ledger.Close(context.Background()) }), nil

	case config.LedgerNone:
		return nil, nopCloser{}, nil
	}

	return nil, nil, errors.New("unknown ledger driver " + lc.Driver)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
