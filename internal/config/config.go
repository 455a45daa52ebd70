package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	WorkerCount   int
	OfflineMode   bool
	DrainInterval time.Duration

	// Intake queue (scheduler contract)
	UseMemoryQueue  bool
	IntakeQueueURL  string
	MessageJobTable string

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Reasoning / vision backend
	LLMProvider             string
	GeminiAPIKey            string
	GeminiModelID           string
	GeminiEmbeddingModelID  string
	BedrockModelID          string
	BedrockEmbeddingModelID string
	EmbeddingProvider       string
	EmbeddingDimensions     int

	// Speech-to-text
	WhisperBaseURL  string
	WhisperAPIKey   string
	WhisperModel    string
	WhisperLanguage string

	// Backend call policy
	BackendTimeout     time.Duration
	RetryMaxAttempts   int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	ExtractConcurrency int

	// Retrieval / drafting
	KBTopN                int
	MaxQueryChars         int
	DefaultTone           string
	ExtraKeywords         []string
	TrustWeightConfidence float64
	TrustWeightKeywords   float64
	TrustWeightRetrieval  float64

	// Offline queue
	QueueBackend         string
	QueueRetentionWindow time.Duration
	QueueExportBucket    string
	IntakeClaimBucket    string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Ops API
	AdminJWTSecret   string
	AdminJWTAudience string
	IngestRatePerSec float64
	IngestBurst      int
	MaxIngestBytes   int64
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		WorkerCount:   getEnvAsInt("WORKER_COUNT", 2),
		OfflineMode:   getEnvAsBool("OFFLINE_MODE", false),
		DrainInterval: getEnvAsDuration("DRAIN_INTERVAL", 5*time.Minute),

		UseMemoryQueue:  getEnvAsBool("USE_MEMORY_QUEUE", false),
		IntakeQueueURL:  getEnv("INTAKE_QUEUE_URL", ""),
		MessageJobTable: getEnv("MESSAGE_JOBS_TABLE", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		LLMProvider:             strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "gemini"))),
		GeminiAPIKey:            getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:           getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		GeminiEmbeddingModelID:  getEnv("GEMINI_EMBEDDING_MODEL_ID", "text-embedding-004"),
		BedrockModelID:          getEnv("BEDROCK_MODEL_ID", ""),
		BedrockEmbeddingModelID: getEnv("BEDROCK_EMBEDDING_MODEL_ID", "amazon.titan-embed-text-v2:0"),
		EmbeddingProvider:       strings.ToLower(strings.TrimSpace(getEnv("EMBEDDING_PROVIDER", "bedrock"))),
		EmbeddingDimensions:     getEnvAsInt("EMBEDDING_DIMENSIONS", 1024),

		WhisperBaseURL:  getEnv("WHISPER_BASE_URL", "http://localhost:9000/v1"),
		WhisperAPIKey:   getEnv("WHISPER_API_KEY", ""),
		WhisperModel:    getEnv("WHISPER_MODEL", "whisper-1"),
		WhisperLanguage: getEnv("WHISPER_LANGUAGE", ""),

		BackendTimeout:     getEnvAsDuration("BACKEND_TIMEOUT", 30*time.Second),
		RetryMaxAttempts:   getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:     getEnvAsDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryMaxDelay:      getEnvAsDuration("RETRY_MAX_DELAY", 5*time.Second),
		ExtractConcurrency: getEnvAsInt("EXTRACT_CONCURRENCY", 4),

		KBTopN:                getEnvAsInt("KB_TOP_N", 3),
		MaxQueryChars:         getEnvAsInt("MAX_QUERY_CHARS", 2000),
		DefaultTone:           strings.ToLower(strings.TrimSpace(getEnv("DEFAULT_TONE", "formal"))),
		ExtraKeywords:         getEnvAsList("EXTRA_KEYWORDS"),
		TrustWeightConfidence: getEnvAsFloat("TRUST_WEIGHT_CONFIDENCE", 0.6),
		TrustWeightKeywords:   getEnvAsFloat("TRUST_WEIGHT_KEYWORDS", 0.2),
		TrustWeightRetrieval:  getEnvAsFloat("TRUST_WEIGHT_RETRIEVAL", 0.2),

		QueueBackend:         strings.ToLower(strings.TrimSpace(getEnv("QUEUE_BACKEND", "redis"))),
		QueueRetentionWindow: getEnvAsDuration("QUEUE_RETENTION_WINDOW", 72*time.Hour),
		QueueExportBucket:    getEnv("QUEUE_EXPORT_BUCKET", ""),
		IntakeClaimBucket:    getEnv("INTAKE_CLAIM_BUCKET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AdminJWTSecret:   getEnv("ADMIN_JWT_SECRET", ""),
		AdminJWTAudience: getEnv("ADMIN_JWT_AUDIENCE", ""),
		IngestRatePerSec: getEnvAsFloat("INGEST_RATE_PER_SEC", 20),
		IngestBurst:      getEnvAsInt("INGEST_BURST", 40),
		MaxIngestBytes:   int64(getEnvAsInt("MAX_INGEST_BYTES", 25<<20)),
	}
}

// Validate rejects settings that must fail fast at startup.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil config")
	}
	var errs []error
	if c.EmbeddingDimensions <= 0 {
		errs = append(errs, fmt.Errorf("config: EMBEDDING_DIMENSIONS must be positive, got %d", c.EmbeddingDimensions))
	}
	weights := []float64{c.TrustWeightConfidence, c.TrustWeightKeywords, c.TrustWeightRetrieval}
	sum := 0.0
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) {
			errs = append(errs, fmt.Errorf("config: trust weights must be non-negative, got %v", weights))
			break
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-6 {
		errs = append(errs, fmt.Errorf("config: trust weights must sum to 1.0, got %.4f", sum))
	}
	if c.KBTopN < 0 {
		errs = append(errs, fmt.Errorf("config: KB_TOP_N must not be negative, got %d", c.KBTopN))
	}
	if c.MaxIngestBytes <= 0 {
		errs = append(errs, fmt.Errorf("config: MAX_INGEST_BYTES must be positive, got %d", c.MaxIngestBytes))
	}
	return errors.Join(errs...)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
