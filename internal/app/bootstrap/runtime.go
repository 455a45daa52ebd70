package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/support-copilot/internal/config"
	"github.com/wolfman30/support-copilot/internal/llm"
	"github.com/wolfman30/support-copilot/internal/offlinequeue"
	"github.com/wolfman30/support-copilot/internal/pipeline"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

const memoryIntakeBuffer = 256

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// BuildRetryPolicy maps the backend call settings onto a retry policy.
func BuildRetryPolicy(cfg *appconfig.Config) llm.RetryPolicy {
	if cfg == nil {
		return llm.NoRetry()
	}
	return llm.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Timeout:     cfg.BackendTimeout,
	}
}

// BuildOfflineQueue selects the offline queue backend. The Redis backend
// needs redisClient; the memory backend loses its items on restart.
func BuildOfflineQueue(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger) (offlinequeue.Queue, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	opts := []offlinequeue.Option{offlinequeue.WithRetention(cfg.QueueRetentionWindow)}
	switch cfg.QueueBackend {
	case "memory":
		logger.Warn("offline queue is in-memory; queued messages are lost on restart")
		return offlinequeue.NewMemoryQueue(opts...), nil
	case "redis", "":
		if redisClient == nil {
			return nil, fmt.Errorf("bootstrap: QUEUE_BACKEND=redis requires REDIS_ADDR")
		}
		return offlinequeue.NewRedisQueue(redisClient, opts...), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
}

// BuildIntakeQueue returns the in-process queue when USE_MEMORY_QUEUE is set,
// otherwise SQS. With INTAKE_CLAIM_BUCKET set, bodies over the SQS limit are
// stored in that bucket.
func BuildIntakeQueue(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (pipeline.IntakeQueue, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if cfg.UseMemoryQueue {
		return pipeline.NewMemoryQueue(memoryIntakeBuffer), nil
	}
	if strings.TrimSpace(cfg.IntakeQueueURL) == "" {
		return nil, fmt.Errorf("bootstrap: INTAKE_QUEUE_URL is required unless USE_MEMORY_QUEUE=true")
	}
	opts := []pipeline.SQSOption{pipeline.WithSQSLogger(logger)}
	if bucket := strings.TrimSpace(cfg.IntakeClaimBucket); bucket != "" {
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWSEndpointOverride != ""
		})
		opts = append(opts, pipeline.WithClaimStore(pipeline.NewS3ClaimStore(client, bucket)))
	}
	return pipeline.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.IntakeQueueURL, opts...), nil
}

// BuildJobStore returns the DynamoDB status store, or nil when no table is
// configured.
func BuildJobStore(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) *pipeline.JobStore {
	if cfg == nil || strings.TrimSpace(cfg.MessageJobTable) == "" {
		return nil
	}
	return pipeline.NewJobStore(dynamodb.NewFromConfig(awsCfg), cfg.MessageJobTable, logger)
}

// BuildArchive returns the S3 export archive. It reports disabled when no
// bucket is configured.
func BuildArchive(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) *offlinequeue.S3Archive {
	if cfg == nil || strings.TrimSpace(cfg.QueueExportBucket) == "" {
		return offlinequeue.NewS3Archive(nil, "", logger)
	}
	return offlinequeue.NewS3Archive(s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.AWSEndpointOverride != ""
	}), cfg.QueueExportBucket, logger)
}
