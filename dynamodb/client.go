package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	json "github.com/goccy/go-json"
	"github.com/topicq/pubsub"
)

const (
	// PartitionKey is the DynamoDB partition key attribute name. Its value is
	// <resource kind>#<resource name>.
	PartitionKey = "pk"

	// SortKey is the DynamoDB sort key attribute name. Its value is
	// <RFC3339 timestamp>#<action>, so a query on one resource returns its
	// history in chronological order.
	SortKey = "sk"

	// HandleAttr is the attribute name used to store the provider handle (ARN
	// or queue URL) of the resource.
	HandleAttr = "handle"

	// BodyAttr is the attribute name used to store the JSON-encoded entry.
	BodyAttr = "body"

	// TTLAttr is the attribute name used for DynamoDB TTL-based expiration. The
	// table must have TTL enabled on this attribute.
	TTLAttr = "ttl"
)

var _ pubsub.Ledger = (*Client)(nil)

// Client is a DynamoDB-backed [pubsub.Ledger]. Every reconciliation outcome
// is written as one item keyed by the resource it concerns.
//
// Use [New] to create a Client, [Client.Connect] to initialize the underlying
// DynamoDB connection, and [Client.Init] to validate the table schema.
type Client struct {
	client    API
	tableName string
	awsCfg    *aws.Config
	opts      *Options
}

// New creates a new Client configured with the given AWS config, table name,
// and optional options. Call [Client.Connect] on the returned client before use.
func New(awsCfg *aws.Config, tableName string, opts ...Option) *Client {
	options := newOptions()

	for _, o := range opts {
		o(options)
	}

	return &Client{
		awsCfg:    awsCfg,
		tableName: tableName,
		opts:      options,
	}
}

// Connect initializes the DynamoDB client from the AWS config provided to [New].
// It must be called before any other Client methods, and must complete before
// the Client is used concurrently.
func (c *Client) Connect() error {
	if err := c.opts.validate(); err != nil {
		return fmt.Errorf("invalid DynamoDB options: %w", err)
	}

	if c.tableName == "" {
		return errors.New("table name cannot be empty")
	}

	if c.opts.dynamoDBAPI != nil {
		c.client = c.opts.dynamoDBAPI
		return nil
	}

	if c.awsCfg == nil {
		return errors.New("AWS config cannot be nil")
	}

	c.client = dynamodb.NewFromConfig(*c.awsCfg)

	return nil
}

// Init validates the DynamoDB table schema. It checks that the table exists,
// is active, has the partition key (pk) and sort key (sk), and has TTL
// enabled on the ttl attribute.
//
// Pass skipSchemaValidation true to skip all checks and return immediately,
// which is useful when schema validation is managed separately.
func (c *Client) Init(ctx context.Context, skipSchemaValidation bool) error {
	if skipSchemaValidation {
		return nil
	}

	input := &dynamodb.DescribeTableInput{
		TableName: aws.String(c.tableName),
	}

	response, err := c.client.DescribeTable(ctx, input)
	if err != nil {
		var notFoundError *dynamodbtypes.ResourceNotFoundException
		if errors.As(err, &notFoundError) {
			return fmt.Errorf("table %s does not exist", c.tableName)
		}
		return fmt.Errorf("failed to describe table %s: %w", c.tableName, err)
	}

	if response.Table == nil || len(response.Table.KeySchema) < 1 {
		return fmt.Errorf("table %s has no key schema", c.tableName)
	}

	if aws.ToString(response.Table.KeySchema[0].AttributeName) != PartitionKey {
		return fmt.Errorf("table %s has partition key %s, expected %s", c.tableName, aws.ToString(response.Table.KeySchema[0].AttributeName), PartitionKey)
	}

	if len(response.Table.KeySchema) < 2 {
		return fmt.Errorf("table %s has a simple primary key, expected composite", c.tableName)
	}

	if aws.ToString(response.Table.KeySchema[1].AttributeName) != SortKey {
		return fmt.Errorf("table %s has sort key %s, expected %s", c.tableName, aws.ToString(response.Table.KeySchema[1].AttributeName), SortKey)
	}

	if response.Table.TableStatus != dynamodbtypes.TableStatusActive {
		return fmt.Errorf("table %s is not active (status: %s)", c.tableName, response.Table.TableStatus)
	}

	ttlInput := &dynamodb.DescribeTimeToLiveInput{
		TableName: aws.String(c.tableName),
	}

	ttlResponse, err := c.client.DescribeTimeToLive(ctx, ttlInput)
	if err != nil {
		return fmt.Errorf("failed to describe TTL for table %s: %w", c.tableName, err)
	}

	if ttlResponse.TimeToLiveDescription == nil {
		return fmt.Errorf("table %s has no TTL description", c.tableName)
	}

	if ttlResponse.TimeToLiveDescription.TimeToLiveStatus != dynamodbtypes.TimeToLiveStatusEnabled {
		return fmt.Errorf("table %s has TTL status %s (expected %s)", c.tableName, ttlResponse.TimeToLiveDescription.TimeToLiveStatus, dynamodbtypes.TimeToLiveStatusEnabled)
	}

	if aws.ToString(ttlResponse.TimeToLiveDescription.AttributeName) != TTLAttr {
		return fmt.Errorf("TTL attribute name for table %s is %s, expected %s", c.tableName, aws.ToString(ttlResponse.TimeToLiveDescription.AttributeName), TTLAttr)
	}

	return nil
}

// Record writes a reconciliation outcome to the table. Entries without a
// timestamp are stamped with the configured clock. The item expires after
// the time to live configured via [WithRecordTimeToLive] (default: 90 days).
func (c *Client) Record(ctx context.Context, entry pubsub.LedgerEntry) error {
	pk, err := buildPartitionKey(entry.Kind, entry.Name)
	if err != nil {
		return err
	}

	now := c.opts.clock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}

	if entry.Action == "" {
		return errors.New("ledger entry action cannot be empty")
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}

	sk := entry.Timestamp.UTC().Format(time.RFC3339Nano) + "#" + string(entry.Action)
	ttl := strconv.FormatInt(now.Add(c.opts.recordTimeToLive).Unix(), 10)

	input := &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]dynamodbtypes.AttributeValue{
			PartitionKey: &dynamodbtypes.AttributeValueMemberS{Value: pk},
			SortKey:      &dynamodbtypes.AttributeValueMemberS{Value: sk},
			HandleAttr:   &dynamodbtypes.AttributeValueMemberS{Value: entry.Handle},
			BodyAttr:     &dynamodbtypes.AttributeValueMemberS{Value: string(body)},
			TTLAttr:      &dynamodbtypes.AttributeValueMemberN{Value: ttl},
		},
	}

	if _, err := c.client.PutItem(ctx, input); err != nil {
		return fmt.Errorf("failed to write ledger entry to DynamoDB table %s: %w", c.tableName, err)
	}

	return nil
}

// History returns every unexpired entry recorded for one resource, newest first.
func (c *Client) History(ctx context.Context, kind pubsub.ResourceKind, name string) ([]pubsub.LedgerEntry, error) {
	pk, err := buildPartitionKey(kind, name)
	if err != nil {
		return nil, err
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("#pk = :pk"),
		// DynamoDB removes expired items lazily, so they are filtered here.
		FilterExpression: aws.String("#ttl > :now"),
		ExpressionAttributeNames: map[string]string{
			"#pk":  PartitionKey,
			"#ttl": TTLAttr,
		},
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":pk":  &dynamodbtypes.AttributeValueMemberS{Value: pk},
			":now": &dynamodbtypes.AttributeValueMemberN{Value: strconv.FormatInt(c.opts.clock().Unix(), 10)},
		},
		ProjectionExpression: aws.String(BodyAttr),
		ScanIndexForward:     aws.Bool(false),
	}

	var entries []pubsub.LedgerEntry

	for {
		output, err := c.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query DynamoDB table %s: %w", c.tableName, err)
		}

		for _, item := range output.Items {
			body := getStringValue(item[BodyAttr])
			if body == "" {
				continue
			}

			var entry pubsub.LedgerEntry
			if err := json.Unmarshal([]byte(body), &entry); err != nil {
				return nil, fmt.Errorf("failed to unmarshal ledger entry for %s: %w", pk, err)
			}

			entries = append(entries, entry)
		}

		if len(output.LastEvaluatedKey) == 0 {
			break
		}

		input.ExclusiveStartKey = output.LastEvaluatedKey
	}

	return entries, nil
}

func buildPartitionKey(kind pubsub.ResourceKind, name string) (string, error) {
	if kind == "" {
		return "", errors.New("resource kind cannot be empty")
	}

	if name == "" {
		return "", errors.New("resource name cannot be empty")
	}

	if strings.Contains(string(kind), "#") {
		return "", errors.New("resource kind cannot contain '#'")
	}

	return string(kind) + "#" + name, nil
}

func getStringValue(attr dynamodbtypes.AttributeValue) string {
	if s, ok := attr.(*dynamodbtypes.AttributeValueMemberS); ok {
		return s.Value
	}

	return ""
}
