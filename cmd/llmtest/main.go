package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/joho/godotenv"

	"github.com/wolfman30/support-copilot/cmd/mainconfig"
	"github.com/wolfman30/support-copilot/internal/app/bootstrap"
	appconfig "github.com/wolfman30/support-copilot/internal/config"
	"github.com/wolfman30/support-copilot/internal/inbox"
	"github.com/wolfman30/support-copilot/internal/llm"
	"github.com/wolfman30/support-copilot/internal/pipeline"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

// Usage:
//
//	go run ./cmd/llmtest                  probe each configured reasoning backend
//	go run ./cmd/llmtest message.eml [tone]  draft one message end to end
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		log.Fatalf("load AWS config: %v", err)
	}

	if len(os.Args) < 2 {
		probeBackends(ctx, cfg, bedrockruntime.NewFromConfig(awsCfg))
		return
	}

	raw, err := os.ReadFile(os.Args[1])
	if err != nil {
		log.Fatalf("read message: %v", err)
	}
	msg, err := inbox.ParseRFC822(bytes.NewReader(raw))
	if err != nil {
		log.Fatalf("parse message: %v", err)
	}
	var opts []pipeline.ProcessOption
	if len(os.Args) >= 3 {
		tone, ok := inbox.ParseTone(os.Args[2])
		if !ok {
			log.Fatalf("unknown tone %q", os.Args[2])
		}
		opts = append(opts, pipeline.RequestTone(tone))
	}

	// A one-shot run never waits on the intake queue.
	cfg.UseMemoryQueue = true
	rt, err := bootstrap.BuildRuntime(ctx, cfg, awsCfg, nil, logger)
	if err != nil {
		log.Fatalf("build pipeline: %v", err)
	}
	defer rt.Close()

	start := time.Now()
	outcome, err := rt.Pipeline.Process(ctx, msg, rt.Health.Check(ctx), opts...)
	if err != nil {
		log.Fatalf("process: %v", err)
	}
	fmt.Fprintf(os.Stderr, "stage=%s reason=%s elapsed=%v\n", outcome.Stage, outcome.Reason, time.Since(start).Round(time.Millisecond))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcome); err != nil {
		log.Fatalf("encode outcome: %v", err)
	}
}

func probeBackends(ctx context.Context, cfg *appconfig.Config, bedrockAPI *bedrockruntime.Client) {
	req := llm.Request{
		System: []string{"You draft short customer support replies."},
		Messages: []llm.ChatMessage{
			{Role: llm.ChatRoleUser, Content: "My invoice shows a duplicate charge for March. Can you help?"},
		},
		MaxTokens:   200,
		Temperature: 0.2,
	}

	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("Reasoning backend check")
	fmt.Println(strings.Repeat("=", 60))

	if cfg.GeminiAPIKey != "" {
		fmt.Println("\n[gemini]", cfg.GeminiModelID)
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			fmt.Printf("    client error: %v\n", err)
		} else {
			probe(ctx, client, req)
			_ = client.Close()
		}
	} else {
		fmt.Println("\n[gemini] skipped: GEMINI_API_KEY not set")
	}

	if cfg.BedrockModelID != "" {
		fmt.Println("\n[bedrock]", cfg.BedrockModelID)
		probe(ctx, llm.NewBedrockClient(bedrockAPI, cfg.BedrockModelID), req)
	} else {
		fmt.Println("\n[bedrock] skipped: BEDROCK_MODEL_ID not set")
	}
}

func probe(ctx context.Context, client llm.Client, req llm.Request) {
	start := time.Now()
	resp, err := client.Complete(ctx, req)
	if err != nil {
		fmt.Printf("    error: %v\n", err)
		return
	}
	fmt.Printf("    ok (%v, %d tokens)\n", time.Since(start).Round(time.Millisecond), resp.Usage.TotalTokens)
	fmt.Printf("    %s\n", strings.TrimSpace(resp.Text))
}
