package bootstrap

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"

	appconfig "github.com/wolfman30/support-copilot/internal/config"
	"github.com/wolfman30/support-copilot/internal/offlinequeue"
	"github.com/wolfman30/support-copilot/internal/pipeline"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

func quietLogger() *logging.Logger {
	return logging.NewWithWriter(io.Discard, "error")
}

func validConfig() *appconfig.Config {
	return &appconfig.Config{
		EmbeddingDimensions:   8,
		TrustWeightConfidence: 0.6,
		TrustWeightKeywords:   0.2,
		TrustWeightRetrieval:  0.2,
		MaxIngestBytes:        1 << 20,
		DefaultTone:           "formal",
		QueueBackend:          "memory",
		QueueRetentionWindow:  time.Hour,
		UseMemoryQueue:        true,
		LLMProvider:           "gemini",
	}
}

func TestBuildRedisClient(t *testing.T) {
	if client := BuildRedisClient(context.Background(), &appconfig.Config{}, quietLogger(), true); client != nil {
		t.Fatal("expected nil client without REDIS_ADDR")
	}

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, quietLogger(), true)
	if client == nil {
		t.Fatal("expected verified client")
	}
	_ = client.Close()

	mr.Close()
	if client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, quietLogger(), true); client != nil {
		t.Fatal("expected nil client when ping fails")
	}
}

func TestBuildRetryPolicy(t *testing.T) {
	cfg := &appconfig.Config{
		RetryMaxAttempts: 4,
		RetryBaseDelay:   100 * time.Millisecond,
		RetryMaxDelay:    time.Second,
		BackendTimeout:   5 * time.Second,
	}
	policy := BuildRetryPolicy(cfg)
	if policy.MaxAttempts != 4 || policy.BaseDelay != 100*time.Millisecond || policy.MaxDelay != time.Second || policy.Timeout != 5*time.Second {
		t.Fatalf("unexpected policy %+v", policy)
	}
	if BuildRetryPolicy(nil).MaxAttempts != 1 {
		t.Fatal("expected single attempt without config")
	}
}

func TestBuildOfflineQueue(t *testing.T) {
	cfg := validConfig()

	queue, err := BuildOfflineQueue(cfg, nil, quietLogger())
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	if _, ok := queue.(*offlinequeue.MemoryQueue); !ok {
		t.Fatalf("expected memory queue, got %T", queue)
	}

	cfg.QueueBackend = "redis"
	if _, err := BuildOfflineQueue(cfg, nil, quietLogger()); err == nil {
		t.Fatal("expected redis backend without client to fail")
	}

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, quietLogger(), false)
	defer client.Close()
	queue, err = BuildOfflineQueue(cfg, client, quietLogger())
	if err != nil {
		t.Fatalf("redis backend: %v", err)
	}
	if _, ok := queue.(*offlinequeue.RedisQueue); !ok {
		t.Fatalf("expected redis queue, got %T", queue)
	}

	cfg.QueueBackend = "kafka"
	if _, err := BuildOfflineQueue(cfg, client, quietLogger()); err == nil {
		t.Fatal("expected unknown backend to fail")
	}
}

func TestBuildIntakeQueue(t *testing.T) {
	cfg := validConfig()
	queue, err := BuildIntakeQueue(cfg, aws.Config{Region: "us-east-1"}, quietLogger())
	if err != nil {
		t.Fatalf("memory intake: %v", err)
	}
	if _, ok := queue.(*pipeline.MemoryQueue); !ok {
		t.Fatalf("expected memory intake queue, got %T", queue)
	}

	cfg.UseMemoryQueue = false
	if _, err := BuildIntakeQueue(cfg, aws.Config{Region: "us-east-1"}, quietLogger()); err == nil {
		t.Fatal("expected missing INTAKE_QUEUE_URL to fail")
	}

	cfg.IntakeQueueURL = "http://localhost:4566/000000000000/intake"
	queue, err = BuildIntakeQueue(cfg, aws.Config{Region: "us-east-1"}, quietLogger())
	if err != nil {
		t.Fatalf("sqs intake: %v", err)
	}
	if _, ok := queue.(*pipeline.SQSQueue); !ok {
		t.Fatalf("expected sqs intake queue, got %T", queue)
	}

	cfg.IntakeClaimBucket = "support-intake-claims"
	queue, err = BuildIntakeQueue(cfg, aws.Config{Region: "us-east-1"}, quietLogger())
	if err != nil {
		t.Fatalf("sqs intake with claims: %v", err)
	}
	if _, ok := queue.(*pipeline.SQSQueue); !ok {
		t.Fatalf("expected sqs intake queue, got %T", queue)
	}
}

func TestBuildOptionalAWSStores(t *testing.T) {
	cfg := validConfig()
	awsCfg := aws.Config{Region: "us-east-1"}

	if store := BuildJobStore(cfg, awsCfg, quietLogger()); store != nil {
		t.Fatal("expected nil job store without table")
	}
	cfg.MessageJobTable = "message-jobs"
	if store := BuildJobStore(cfg, awsCfg, quietLogger()); store == nil {
		t.Fatal("expected job store when table is set")
	}

	if BuildArchive(cfg, awsCfg, quietLogger()).Enabled() {
		t.Fatal("expected archive disabled without bucket")
	}
	cfg.QueueExportBucket = "support-exports"
	if !BuildArchive(cfg, awsCfg, quietLogger()).Enabled() {
		t.Fatal("expected archive enabled with bucket")
	}
}

func TestBuildReasoningClientErrors(t *testing.T) {
	cfg := validConfig()
	awsCfg := aws.Config{Region: "us-east-1"}

	if _, _, err := BuildReasoningClient(context.Background(), cfg, awsCfg, quietLogger()); err == nil {
		t.Fatal("expected error when gemini has no API key")
	}

	cfg.LLMProvider = "openai"
	if _, _, err := BuildReasoningClient(context.Background(), cfg, awsCfg, quietLogger()); err == nil {
		t.Fatal("expected unknown provider to fail")
	}

	cfg.LLMProvider = "bedrock"
	cfg.BedrockModelID = "anthropic.claude-3-haiku"
	client, cleanup, err := BuildReasoningClient(context.Background(), cfg, awsCfg, quietLogger())
	if err != nil {
		t.Fatalf("bedrock provider: %v", err)
	}
	defer cleanup()
	if client == nil {
		t.Fatal("expected client")
	}
}

func TestBuildEmbedder(t *testing.T) {
	cfg := validConfig()
	awsCfg := aws.Config{Region: "us-east-1"}

	cfg.EmbeddingProvider = "bedrock"
	cfg.BedrockEmbeddingModelID = "amazon.titan-embed-text-v2:0"
	embedder, cleanup, err := BuildEmbedder(context.Background(), cfg, awsCfg)
	if err != nil || embedder == nil {
		t.Fatalf("bedrock embedder: %v", err)
	}
	cleanup()

	cfg.EmbeddingProvider = "gemini"
	if _, _, err := BuildEmbedder(context.Background(), cfg, awsCfg); err == nil {
		t.Fatal("expected gemini embedder without key to fail")
	}

	cfg.EmbeddingProvider = "word2vec"
	if _, _, err := BuildEmbedder(context.Background(), cfg, awsCfg); err == nil {
		t.Fatal("expected unknown embedder to fail")
	}
}

func TestBuildRuntimeRejectsBadConfig(t *testing.T) {
	awsCfg := aws.Config{Region: "us-east-1"}

	if _, err := BuildRuntime(context.Background(), nil, awsCfg, nil, quietLogger()); err == nil {
		t.Fatal("expected nil config to fail")
	}

	cfg := validConfig()
	cfg.TrustWeightRetrieval = 0.5
	if _, err := BuildRuntime(context.Background(), cfg, awsCfg, nil, quietLogger()); err == nil {
		t.Fatal("expected weights not summing to one to fail")
	}

	cfg = validConfig()
	cfg.DefaultTone = "sarcastic"
	_, err := BuildRuntime(context.Background(), cfg, awsCfg, nil, quietLogger())
	if err == nil || !strings.Contains(err.Error(), "DEFAULT_TONE") {
		t.Fatalf("expected tone error, got %v", err)
	}

	cfg = validConfig()
	cfg.LLMProvider = "openai"
	if _, err := BuildRuntime(context.Background(), cfg, awsCfg, nil, quietLogger()); err == nil {
		t.Fatal("expected unknown provider to fail")
	}
}

func TestHealthProbes(t *testing.T) {
	if probes := healthProbes(nil, nil); len(probes) != 0 {
		t.Fatalf("expected no probes, got %d", len(probes))
	}

	mr := miniredis.RunT(t)
	client := BuildRedisClient(context.Background(), &appconfig.Config{RedisAddr: mr.Addr()}, quietLogger(), false)
	defer client.Close()

	checker := pipeline.NewHealthChecker(healthProbes(client, nil), pipeline.WithProbeTimeout(500*time.Millisecond))
	if health := checker.Check(context.Background()); health.Offline() {
		t.Fatalf("expected online, got %s", health.Reason())
	}

	mr.Close()
	health := checker.Check(context.Background())
	if !health.Offline() || health.Reason() != "redis unavailable" {
		t.Fatalf("expected redis failure, got online=%v reason=%q", health.Online, health.Reason())
	}
}

func TestRuntimeCloseRunsInReverse(t *testing.T) {
	var order []int
	rt := &Runtime{}
	rt.onClose(func() { order = append(order, 1) })
	rt.onClose(nil)
	rt.onClose(func() { order = append(order, 2) })
	rt.Close()
	rt.Close()

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("unexpected close order %v", order)
	}
}
