package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/support-copilot/internal/app/bootstrap"
	appconfig "github.com/wolfman30/support-copilot/internal/config"
	"github.com/wolfman30/support-copilot/internal/inbox"
	"github.com/wolfman30/support-copilot/internal/retrieval"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

type KnowledgeFile struct {
	Documents []Document `json:"documents"`
}

type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Usage: go run scripts/seed-knowledge.go <knowledge-file.json>
//
// Each document replaces the snippets stored under its id. Content is split
// into one snippet per blank-line separated paragraph; embeddings are computed
// when the index is built at startup.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run scripts/seed-knowledge.go <knowledge-file.json>")
		os.Exit(1)
	}
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Printf("Error reading file: %v\n", err)
		os.Exit(1)
	}
	var knowledge KnowledgeFile
	if err := json.Unmarshal(data, &knowledge); err != nil {
		fmt.Printf("Error parsing JSON: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if client == nil {
		fmt.Println("Redis is not reachable; check REDIS_ADDR")
		os.Exit(1)
	}
	defer func() { _ = client.Close() }()
	repo := retrieval.NewRedisKnowledgeRepository(client)

	total := 0
	for _, doc := range knowledge.Documents {
		if strings.TrimSpace(doc.ID) == "" {
			fmt.Printf("Skipping document %q: missing id\n", doc.Title)
			continue
		}
		snippets := splitDocument(doc)
		if err := repo.ReplaceSnippets(ctx, doc.ID, snippets); err != nil {
			fmt.Printf("Error storing %s: %v\n", doc.ID, err)
			os.Exit(1)
		}
		fmt.Printf("  %s: %d snippets\n", doc.ID, len(snippets))
		total += len(snippets)
	}
	fmt.Printf("Seeded %d snippets from %d documents\n", total, len(knowledge.Documents))
}

func splitDocument(doc Document) []inbox.KBSnippet {
	var out []inbox.KBSnippet
	for _, para := range strings.Split(doc.Content, "\n\n") {
		text := strings.TrimSpace(para)
		if text == "" {
			continue
		}
		if doc.Title != "" {
			text = doc.Title + ": " + text
		}
		out = append(out, inbox.KBSnippet{
			ID:          fmt.Sprintf("%s-%d", doc.ID, len(out)+1),
			SourceDocID: doc.ID,
			Text:        text,
		})
	}
	return out
}
