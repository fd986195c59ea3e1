package pubsub

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	json "github.com/goccy/go-json"
)

const (
	queuePolicyVersion  = "2012-10-17"
	snsServicePrincipal = "sns.amazonaws.com"
	sqsSendMessage      = "sqs:SendMessage"
	sourceARNCondition  = "aws:SourceArn"
)

// queuePolicy is an SQS access policy. Existing statements are kept as raw
// JSON so that statements written by other tools survive a rewrite unchanged.
type queuePolicy struct {
	Version   string            `json:"Version"`
	ID        string            `json:"Id,omitempty"`
	Statement []json.RawMessage `json:"Statement"`
}

type policyStatement struct {
	Sid       string                       `json:"Sid,omitempty"`
	Effect    string                       `json:"Effect"`
	Principal map[string]string            `json:"Principal"`
	Action    string                       `json:"Action"`
	Resource  string                       `json:"Resource"`
	Condition map[string]map[string]string `json:"Condition"`
}

// statementCondition decodes only the parts of a statement needed to decide
// whether it already grants the topic access. SourceArn may be a single
// string or a list.
type statementCondition struct {
	Effect    string `json:"Effect"`
	Condition struct {
		ArnEquals map[string]any `json:"ArnEquals"`
	} `json:"Condition"`
}

func parseQueuePolicy(raw string) (*queuePolicy, error) {
	policy := &queuePolicy{Version: queuePolicyVersion}

	if raw == "" {
		return policy, nil
	}

	if err := json.Unmarshal([]byte(raw), policy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal SQS queue policy: %w", err)
	}

	if policy.Version == "" {
		policy.Version = queuePolicyVersion
	}

	return policy, nil
}

// allowsTopic reports whether some Allow statement is conditioned on
// aws:SourceArn matching topicARN.
func (p *queuePolicy) allowsTopic(topicARN string) bool {
	for _, raw := range p.Statement {
		var s statementCondition
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}

		if s.Effect != "Allow" {
			continue
		}

		switch v := s.Condition.ArnEquals[sourceARNCondition].(type) {
		case string:
			if v == topicARN {
				return true
			}
		case []any:
			for _, item := range v {
				if str, ok := item.(string); ok && str == topicARN {
					return true
				}
			}
		}
	}

	return false
}

// grantTopic appends a statement allowing topicARN to send to queueARN.
// It returns false when an equivalent statement already exists.
func (p *queuePolicy) grantTopic(queueARN, topicARN string) (bool, error) {
	if p.allowsTopic(topicARN) {
		return false, nil
	}

	statement, err := json.Marshal(policyStatement{
		Effect:    "Allow",
		Principal: map[string]string{"Service": snsServicePrincipal},
		Action:    sqsSendMessage,
		Resource:  queueARN,
		Condition: map[string]map[string]string{
			"ArnEquals": {sourceARNCondition: topicARN},
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to marshal SQS queue policy statement: %w", err)
	}

	p.Statement = append(p.Statement, statement)

	return true, nil
}

// ensureQueuePolicy makes sure the queue accepts messages published to
// topicARN. Without it SNS silently drops deliveries to the queue.
func (r *Reconciler) ensureQueuePolicy(ctx context.Context, queueName, queueURL, queueARN, topicARN string) error {
	attributes, err := r.getQueueAttributes(ctx, queueName, queueURL, sqstypes.QueueAttributeNamePolicy)
	if err != nil {
		return err
	}

	policy, err := parseQueuePolicy(attributes[string(sqstypes.QueueAttributeNamePolicy)])
	if err != nil {
		return &ReconcileError{Step: StepSetQueuePolicy, Resource: queueName, Err: err}
	}

	changed, err := policy.grantTopic(queueARN, topicARN)
	if err != nil {
		return &ReconcileError{Step: StepSetQueuePolicy, Resource: queueName, Err: err}
	}

	if !changed {
		return nil
	}

	b, err := json.Marshal(policy)
	if err != nil {
		return &ReconcileError{Step: StepSetQueuePolicy, Resource: queueName, Err: err}
	}

	r.logger.WithField("queue_name", queueName).WithField("topic_arn", topicARN).Info("Granting SNS topic access to SQS queue")

	if _, err := r.sqs.SetQueueAttributes(ctx, &sqs.SetQueueAttributesInput{
		QueueUrl: aws.String(queueURL),
		Attributes: map[string]string{
			string(sqstypes.QueueAttributeNamePolicy): string(b),
		},
	}); err != nil {
		return &ReconcileError{Step: StepSetQueuePolicy, Resource: queueName, Err: err}
	}

	return nil
}
