package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/support-copilot/internal/config"
	"github.com/wolfman30/support-copilot/internal/llm"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

// BuildReasoningClient wires the reasoning and vision backend. The provider
// named by LLM_PROVIDER is primary; the other one, when configured, is the
// fallback. The returned cleanup releases SDK clients.
func BuildReasoningClient(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (llm.Client, func(), error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cleanup := func() {}

	var gemini, bedrock llm.Client
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: gemini client: %w", err)
		}
		gemini = client
		cleanup = func() { _ = client.Close() }
	}
	if strings.TrimSpace(cfg.BedrockModelID) != "" {
		bedrock = llm.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID)
	}

	var primary, fallback llm.Client
	switch cfg.LLMProvider {
	case "gemini", "":
		primary, fallback = gemini, bedrock
	case "bedrock":
		primary, fallback = bedrock, gemini
	default:
		cleanup()
		return nil, nil, fmt.Errorf("bootstrap: unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
	if primary == nil {
		cleanup()
		return nil, nil, fmt.Errorf("bootstrap: LLM_PROVIDER=%s is not configured", cfg.LLMProvider)
	}

	logger.Info("reasoning backend configured", "provider", cfg.LLMProvider, "fallback", fallback != nil)
	return llm.NewFallbackClient(primary, fallback, logger), cleanup, nil
}

// BuildEmbedder wires the embedding backend selected by EMBEDDING_PROVIDER.
func BuildEmbedder(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config) (llm.Embedder, func(), error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	switch cfg.EmbeddingProvider {
	case "bedrock", "":
		client := llm.NewBedrockEmbeddingClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockEmbeddingModelID, cfg.EmbeddingDimensions)
		return client, func() {}, nil
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, nil, fmt.Errorf("bootstrap: EMBEDDING_PROVIDER=gemini requires GEMINI_API_KEY")
		}
		client, err := llm.NewGeminiEmbeddingClient(ctx, cfg.GeminiAPIKey, cfg.GeminiEmbeddingModelID)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: gemini embedder: %w", err)
		}
		return client, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown EMBEDDING_PROVIDER %q", cfg.EmbeddingProvider)
	}
}
