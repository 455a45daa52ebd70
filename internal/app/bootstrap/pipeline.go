package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/support-copilot/internal/config"
	"github.com/wolfman30/support-copilot/internal/drafting"
	"github.com/wolfman30/support-copilot/internal/drafts"
	"github.com/wolfman30/support-copilot/internal/extraction"
	"github.com/wolfman30/support-copilot/internal/inbox"
	"github.com/wolfman30/support-copilot/internal/llm"
	"github.com/wolfman30/support-copilot/internal/observability/metrics"
	"github.com/wolfman30/support-copilot/internal/offlinequeue"
	"github.com/wolfman30/support-copilot/internal/pipeline"
	"github.com/wolfman30/support-copilot/internal/retrieval"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

const startupPingTimeout = 3 * time.Second

// Runtime holds everything a binary needs to process, queue and serve
// support messages.
type Runtime struct {
	Pipeline     *pipeline.Pipeline
	Health       *pipeline.HealthChecker
	OfflineQueue offlinequeue.Queue
	IntakeQueue  pipeline.IntakeQueue
	Publisher    *pipeline.Publisher
	JobStore     *pipeline.JobStore
	Drafts       *drafts.PostgresRepository
	Archive      *offlinequeue.S3Archive
	Metrics      *metrics.PipelineMetrics

	closers []func()
}

// Close releases pools and SDK clients in reverse build order.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

func (r *Runtime) onClose(fn func()) {
	if fn != nil {
		r.closers = append(r.closers, fn)
	}
}

// BuildRuntime wires the drafting pipeline from config. Configuration errors,
// including an embedder whose dimensionality does not match the index, are
// fatal. An unreachable backend at startup is only logged; messages queue
// until it recovers.
func BuildRuntime(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, reg prometheus.Registerer, logger *logging.Logger) (_ *Runtime, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Default()
	}
	defaultTone, ok := inbox.ParseTone(cfg.DefaultTone)
	if !ok {
		return nil, fmt.Errorf("bootstrap: unknown DEFAULT_TONE %q", cfg.DefaultTone)
	}

	rt := &Runtime{}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	redisClient := BuildRedisClient(ctx, cfg, logger, false)
	if redisClient != nil {
		rt.onClose(func() { _ = redisClient.Close() })
	}

	rt.OfflineQueue, err = BuildOfflineQueue(cfg, redisClient, logger)
	if err != nil {
		return nil, err
	}

	reasoning, closeReasoning, err := BuildReasoningClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	rt.onClose(closeReasoning)

	embedder, closeEmbedder, err := BuildEmbedder(ctx, cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	rt.onClose(closeEmbedder)

	retry := BuildRetryPolicy(cfg)

	retriever, err := buildRetriever(ctx, cfg, redisClient, embedder, retry, logger)
	if err != nil {
		return nil, err
	}

	whisper := extraction.NewWhisperTranscriber(extraction.WhisperConfig{
		BaseURL:  cfg.WhisperBaseURL,
		APIKey:   cfg.WhisperAPIKey,
		Model:    cfg.WhisperModel,
		Language: cfg.WhisperLanguage,
		Timeout:  cfg.BackendTimeout,
	}, logger)
	pingCtx, cancelPing := context.WithTimeout(ctx, startupPingTimeout)
	pingErr := whisper.Ping(pingCtx)
	cancelPing()
	if pingErr != nil {
		logger.Warn("speech-to-text backend unavailable at startup; audio attachments will fail", "error", pingErr)
	}

	stages := pipeline.Stages{
		Attachments: extraction.NewExtractor(reasoning, whisper, extraction.NewFitzRasterizer(0),
			extraction.WithRetryPolicy(retry),
			extraction.WithConcurrency(cfg.ExtractConcurrency),
			extraction.WithLogger(logger),
		),
		Signals: extraction.NewSignalExtractor(reasoning,
			extraction.WithSignalRetryPolicy(retry),
			extraction.WithVocabulary(extraction.DefaultVocabulary(cfg.ExtraKeywords...)),
			extraction.WithSignalLogger(logger),
		),
		Retriever: retriever,
		Composer: drafting.NewComposer(reasoning,
			drafting.WithRetryPolicy(retry),
			drafting.WithDefaultTone(defaultTone),
			drafting.WithLogger(logger),
		),
		Trust: drafting.NewTrustScorer(drafting.Weights{
			Confidence: cfg.TrustWeightConfidence,
			Keywords:   cfg.TrustWeightKeywords,
			Retrieval:  cfg.TrustWeightRetrieval,
		}),
	}

	rt.Metrics = metrics.NewPipelineMetrics(reg)
	opts := []pipeline.Option{
		pipeline.WithMetrics(rt.Metrics),
		pipeline.WithLogger(logger),
		pipeline.WithTopN(cfg.KBTopN),
	}

	var pool *pgxpool.Pool
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
		}
		rt.onClose(pool.Close)
		rt.Drafts = drafts.NewPostgresRepository(pool)
		opts = append(opts, pipeline.WithSink(rt.Drafts))
	} else {
		logger.Warn("DATABASE_URL not set; drafts are only logged")
		opts = append(opts, pipeline.WithSink(logSink(logger)))
	}

	if redisClient != nil {
		opts = append(opts, pipeline.WithHistory(pipeline.NewRedisHistoryStore(redisClient, nil)))
	} else {
		logger.Warn("REDIS_ADDR not set; thread history disabled")
	}

	if rt.JobStore = BuildJobStore(cfg, awsCfg, logger); rt.JobStore != nil {
		opts = append(opts, pipeline.WithStatusRecorder(rt.JobStore))
	}

	rt.Pipeline = pipeline.New(stages, rt.OfflineQueue, opts...)
	rt.Health = pipeline.NewHealthChecker(
		healthProbes(redisClient, pool),
		pipeline.WithForcedOffline(cfg.OfflineMode),
	)
	if cfg.OfflineMode {
		logger.Warn("offline mode enabled; every message goes to the offline queue")
	}

	rt.IntakeQueue, err = BuildIntakeQueue(cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	rt.Publisher = pipeline.NewPublisher(rt.IntakeQueue, logger)
	rt.Archive = BuildArchive(cfg, awsCfg, logger)
	return rt, nil
}

func buildRetriever(ctx context.Context, cfg *appconfig.Config, redisClient *redis.Client, embedder llm.Embedder, retry llm.RetryPolicy, logger *logging.Logger) (*retrieval.Retriever, error) {
	index := retrieval.NewIndex(cfg.EmbeddingDimensions)
	if redisClient != nil {
		built, err := retrieval.BuildIndex(ctx, retrieval.NewRedisKnowledgeRepository(redisClient),
			llm.NewRetryingEmbedder(embedder, retry), cfg.EmbeddingDimensions, logger)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: build knowledge index: %w", err)
		}
		index = built
	} else {
		logger.Warn("REDIS_ADDR not set; knowledge base is empty")
	}

	retriever := retrieval.NewRetriever(embedder, index,
		retrieval.WithRetryPolicy(retry),
		retrieval.WithDefaultTopN(cfg.KBTopN),
		retrieval.WithMaxQueryChars(cfg.MaxQueryChars),
		retrieval.WithLogger(logger),
	)
	if err := retriever.Validate(ctx); err != nil {
		if errors.Is(err, retrieval.ErrDimensionMismatch) {
			return nil, err
		}
		logger.Warn("embedding backend unavailable at startup", "error", err)
	}
	return retriever, nil
}

func logSink(logger *logging.Logger) pipeline.DraftSink {
	return pipeline.DraftSinkFunc(func(ctx context.Context, d inbox.Draft) error {
		logger.WithThread(d.ThreadID).Info("draft ready",
			"draft_id", d.ID,
			"message_id", d.MessageID,
			"tone", d.Tone,
			"trust_score", d.TrustScore,
			"priority", d.Priority,
		)
		return nil
	})
}
