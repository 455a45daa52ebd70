package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/support-copilot/internal/inbox"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

const statusTTL = 7 * 24 * time.Hour

// ErrStatusNotFound indicates the requested message id has no status record.
var ErrStatusNotFound = errors.New("pipeline: status not found")

type dynamoAPI interface {
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// StatusRecord is the persisted state of one inbound message.
type StatusRecord struct {
	MessageID   string `dynamodbav:"messageId" json:"messageId"`
	ThreadID    string `dynamodbav:"threadId" json:"threadId"`
	Stage       Stage  `dynamodbav:"stage" json:"stage"`
	Attempts    int    `dynamodbav:"attempts" json:"attempts"`
	Attachments int    `dynamodbav:"attachments" json:"attachments"`
	Detail      string `dynamodbav:"detail,omitempty" json:"detail,omitempty"`
	CreatedAt   string `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt   string `dynamodbav:"updatedAt" json:"updatedAt"`
	ExpiresAt   int64  `dynamodbav:"expiresAt,omitempty" json:"-"`
}

// JobStore persists status records to DynamoDB.
type JobStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
	now       func() time.Time
}

var _ StatusRecorder = (*JobStore)(nil)

// NewJobStore builds a store backed by the provided DynamoDB client.
func NewJobStore(client dynamoAPI, tableName string, logger *logging.Logger) *JobStore {
	if client == nil {
		panic("pipeline: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("pipeline: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &JobStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
		now:       time.Now,
	}
}

// MarkReceived creates the record, or re-enters a queued message at Received.
// A message in any other stage is left untouched and reported as an error.
func (s *JobStore) MarkReceived(ctx context.Context, msg inbox.InboundMessage) error {
	if msg.ID == "" {
		return errors.New("pipeline: message id required")
	}
	now := s.now().UTC()
	stamp := now.Format(time.RFC3339Nano)

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"messageId": &types.AttributeValueMemberS{Value: msg.ID},
		},
		UpdateExpression: aws.String("SET #stage = :received, threadId = :thread, attachments = :attachments, " +
			"#detail = :empty, createdAt = if_not_exists(createdAt, :now), updatedAt = :now, expiresAt = :expires " +
			"ADD attempts :one"),
		ConditionExpression: aws.String("attribute_not_exists(messageId) OR #stage = :queued"),
		ExpressionAttributeNames: map[string]string{
			"#stage":  "stage",
			"#detail": "detail",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":received":    &types.AttributeValueMemberS{Value: string(StageReceived)},
			":queued":      &types.AttributeValueMemberS{Value: string(StageQueued)},
			":thread":      &types.AttributeValueMemberS{Value: msg.ThreadID},
			":attachments": &types.AttributeValueMemberN{Value: strconv.Itoa(len(msg.Attachments))},
			":empty":       &types.AttributeValueMemberS{Value: ""},
			":now":         &types.AttributeValueMemberS{Value: stamp},
			":expires":     &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(statusTTL).Unix(), 10)},
			":one":         &types.AttributeValueMemberN{Value: "1"},
		},
	})
	if err != nil {
		return fmt.Errorf("pipeline: failed to record received %s: %w", msg.ID, err)
	}
	return nil
}

// Advance moves an existing record to stage.
func (s *JobStore) Advance(ctx context.Context, messageID string, stage Stage, detail string) error {
	if messageID == "" {
		return errors.New("pipeline: message id required")
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"messageId": &types.AttributeValueMemberS{Value: messageID},
		},
		UpdateExpression: aws.String("SET #stage = :stage, #detail = :detail, updatedAt = :now"),
		ExpressionAttributeNames: map[string]string{
			"#stage":  "stage",
			"#detail": "detail",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":stage":  &types.AttributeValueMemberS{Value: string(stage)},
			":detail": &types.AttributeValueMemberS{Value: detail},
			":now":    &types.AttributeValueMemberS{Value: s.now().UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_exists(messageId)"),
	})
	if err != nil {
		return fmt.Errorf("pipeline: failed to advance %s to %s: %w", messageID, stage, err)
	}
	return nil
}

// Get fetches the status record for a message id.
func (s *JobStore) Get(ctx context.Context, messageID string) (*StatusRecord, error) {
	if messageID == "" {
		return nil, errors.New("pipeline: message id required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"messageId": &types.AttributeValueMemberS{Value: messageID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to fetch status: %w", err)
	}
	if out.Item == nil {
		return nil, ErrStatusNotFound
	}

	var rec StatusRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("pipeline: failed to decode status: %w", err)
	}
	return &rec, nil
}
