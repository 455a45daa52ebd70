package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/wolfman30/support-copilot/pkg/logging"
)

const (
	// sqsMaxBody is the SQS size limit for one message, attributes included.
	sqsMaxBody         = 256 * 1024
	defaultInlineLimit = sqsMaxBody - 16*1024
	claimAttribute     = "claim_key"
	claimDeleteTimeout = 5 * time.Second
)

// ErrBodyTooLarge is returned by Send when a body exceeds the inline limit
// and no claim store is configured.
var ErrBodyTooLarge = errors.New("pipeline: message body exceeds the intake queue limit")

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue is the IntakeQueue for AWS or LocalStack SQS. Bodies over the
// inline limit are stored in a ClaimStore and the SQS message carries only
// the claim key, in the claim_key attribute. Receive swaps the stored body
// back in and Delete removes it after the delivery is acknowledged.
type SQSQueue struct {
	client      sqsAPI
	queueURL    string
	claims      ClaimStore
	inlineLimit int
	logger      *logging.Logger

	mu      sync.Mutex
	claimed map[string]string // receipt handle -> claim key
}

type SQSOption func(*SQSQueue)

// WithClaimStore lets Send accept bodies over the inline limit.
func WithClaimStore(store ClaimStore) SQSOption {
	return func(q *SQSQueue) {
		q.claims = store
	}
}

// WithInlineLimit sets the largest body sent inline. It is capped at the SQS
// message limit.
func WithInlineLimit(n int) SQSOption {
	return func(q *SQSQueue) {
		if n > 0 && n <= sqsMaxBody {
			q.inlineLimit = n
		}
	}
}

func WithSQSLogger(logger *logging.Logger) SQSOption {
	return func(q *SQSQueue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

func NewSQSQueue(client sqsAPI, queueURL string, opts ...SQSOption) *SQSQueue {
	if client == nil {
		panic("pipeline: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("pipeline: SQS queueURL cannot be empty")
	}
	q := &SQSQueue{
		client:      client,
		queueURL:    queueURL,
		inlineLimit: defaultInlineLimit,
		logger:      logging.Default(),
		claimed:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *SQSQueue) Send(ctx context.Context, body string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	}

	var key string
	if len(body) > q.inlineLimit {
		if q.claims == nil {
			return fmt.Errorf("%w: %d bytes, limit %d", ErrBodyTooLarge, len(body), q.inlineLimit)
		}
		key = newClaimKey()
		if err := q.claims.Put(ctx, key, []byte(body)); err != nil {
			return fmt.Errorf("pipeline: store oversized intake body: %w", err)
		}
		input.MessageBody = aws.String(key)
		input.MessageAttributes = map[string]sqstypes.MessageAttributeValue{
			claimAttribute: {DataType: aws.String("String"), StringValue: aws.String(key)},
		}
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		if key != "" {
			q.dropClaim(ctx, key)
		}
		return fmt.Errorf("pipeline: send intake message: %w", err)
	}
	if key != "" {
		q.logger.Debug("intake body stored as claim", "claim_key", key, "bytes", len(body))
	}
	return nil
}

// Receive returns up to maxMessages deliveries. A claimed delivery whose body
// cannot be loaded is skipped and left for redelivery.
func (q *SQSQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error) {
	output, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.queueURL),
		MaxNumberOfMessages:   int32(maxMessages),
		WaitTimeSeconds:       int32(waitSeconds),
		MessageAttributeNames: []string{claimAttribute},
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: receive intake messages: %w", err)
	}

	messages := make([]queueMessage, 0, len(output.Messages))
	for _, msg := range output.Messages {
		m := queueMessage{
			ID:            aws.ToString(msg.MessageId),
			Body:          aws.ToString(msg.Body),
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		}
		if attr, ok := msg.MessageAttributes[claimAttribute]; ok {
			key := aws.ToString(attr.StringValue)
			body, err := q.loadClaim(ctx, key)
			if err != nil {
				q.logger.Error("claimed intake body unavailable; leaving for redelivery", "error", err, "msg_id", m.ID, "claim_key", key)
				continue
			}
			m.Body = string(body)
			q.rememberClaim(m.ReceiptHandle, key)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}

	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("pipeline: delete intake message: %w", err)
	}
	if key := q.takeClaim(receiptHandle); key != "" {
		q.dropClaim(ctx, key)
	}
	return nil
}

func (q *SQSQueue) loadClaim(ctx context.Context, key string) ([]byte, error) {
	if q.claims == nil {
		return nil, errors.New("pipeline: no claim store configured")
	}
	if key == "" {
		return nil, errors.New("pipeline: empty claim key")
	}
	return q.claims.Get(ctx, key)
}

func (q *SQSQueue) rememberClaim(receiptHandle, key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.claimed[receiptHandle] = key
}

func (q *SQSQueue) takeClaim(receiptHandle string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := q.claimed[receiptHandle]
	delete(q.claimed, receiptHandle)
	return key
}

// dropClaim logs a failed delete instead of returning it.
func (q *SQSQueue) dropClaim(ctx context.Context, key string) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), claimDeleteTimeout)
	defer cancel()
	if err := q.claims.Delete(dctx, key); err != nil {
		q.logger.Warn("failed to delete intake claim", "error", err, "claim_key", key)
	}
}
