package dynamodb

import (
	"errors"
	"time"
)

// Option is a functional option for configuring a [Client].
type Option func(*Options)

// Options holds the configuration for a [Client].
type Options struct {
	recordTimeToLive time.Duration
	dynamoDBAPI      API
	clock            func() time.Time
}

func newOptions() *Options {
	return &Options{
		recordTimeToLive: 90 * 24 * time.Hour,
		clock:            time.Now,
	}
}

func (o *Options) validate() error {
	if o.recordTimeToLive <= 0 {
		return errors.New("record time to live must be greater than zero")
	}

	if o.clock == nil {
		return errors.New("clock cannot be nil")
	}

	return nil
}

// WithRecordTimeToLive sets how long ledger records are kept before DynamoDB
// expires them. The default is 90 days. The duration must be greater than zero.
func WithRecordTimeToLive(d time.Duration) Option {
	return func(o *Options) {
		o.recordTimeToLive = d
	}
}

// WithAPI sets a custom [API] implementation. This is useful when a custom
// DynamoDB configuration is required, or for injecting mocks in tests.
func WithAPI(api API) Option {
	return func(o *Options) {
		o.dynamoDBAPI = api
	}
}

// WithClock sets a custom clock function used when computing TTL values and
// stamping entries without a timestamp. Defaults to [time.Now].
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		o.clock = clock
	}
}
