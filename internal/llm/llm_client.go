// Package llm holds the reasoning, vision and embedding backends used by the
// drafting pipeline, together with the retry policy that wraps every call.
package llm

import (
	"context"
	"strings"
)

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ImagePart is an inline image sent alongside a user message.
type ImagePart struct {
	// Format is the image subtype, e.g. "png" or "jpeg".
	Format string
	Data   []byte
}

// ChatMessage is an internal message representation that can include system prompts and images.
type ChatMessage struct {
	Role    string      `json:"role"`
	Content string      `json:"content"`
	Images  []ImagePart `json:"-"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

type Request struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
	// JSON asks the backend to return a JSON document when it supports it.
	JSON bool
}

type Response struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// Client is a reasoning backend. Implementations that accept ImageParts are
// vision-capable.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Embedder turns text into fixed-length vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ImageFormat maps a MIME type or filename to the short format name the
// backends expect, defaulting to png.
func ImageFormat(contentType, filename string) string {
	probe := strings.ToLower(contentType + " " + filename)
	switch {
	case strings.Contains(probe, "jpeg"), strings.Contains(probe, "jpg"):
		return "jpeg"
	case strings.Contains(probe, "gif"):
		return "gif"
	case strings.Contains(probe, "webp"):
		return "webp"
	default:
		return "png"
	}
}
