package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

type bedrockInvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient implements Client with the Bedrock Converse API. Image parts
// are sent as byte-sourced image blocks.
type BedrockClient struct {
	api     bedrockConverseAPI
	modelID string
}

func NewBedrockClient(api bedrockConverseAPI, modelID string) *BedrockClient {
	if api == nil {
		panic("llm: bedrock converse client cannot be nil")
	}
	return &BedrockClient{api: api, modelID: modelID}
}

func (c *BedrockClient) Complete(ctx context.Context, req Request) (Response, error) {
	modelID := c.modelID
	if strings.TrimSpace(req.Model) != "" {
		modelID = req.Model
	}
	if strings.TrimSpace(modelID) == "" {
		return Response{}, errors.New("llm: bedrock model id is required")
	}

	systemBlocks := make([]brtypes.SystemContentBlock, 0, len(req.System))
	for _, block := range req.System {
		if strings.TrimSpace(block) == "" {
			continue
		}
		systemBlocks = append(systemBlocks, &brtypes.SystemContentBlockMemberText{Value: block})
	}

	messages := make([]brtypes.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		content := strings.TrimSpace(msg.Content)
		if msg.Role == ChatRoleSystem {
			if content != "" {
				systemBlocks = append(systemBlocks, &brtypes.SystemContentBlockMemberText{Value: content})
			}
			continue
		}

		blocks, err := bedrockContentBlocks(msg, content)
		if err != nil {
			return Response{}, err
		}
		if len(blocks) == 0 {
			continue
		}

		switch msg.Role {
		case ChatRoleUser:
			messages = append(messages, brtypes.Message{Role: brtypes.ConversationRoleUser, Content: blocks})
		case ChatRoleAssistant:
			messages = append(messages, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: blocks})
		default:
			return Response{}, fmt.Errorf("llm: unsupported role %q", msg.Role)
		}
	}
	if len(messages) == 0 {
		return Response{}, errors.New("llm: bedrock requires at least one message")
	}

	inference := &brtypes.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		inference.MaxTokens = aws.Int32(req.MaxTokens)
	}
	// Allow callers to omit temperature by passing a negative value.
	if req.Temperature >= 0 {
		inference.Temperature = aws.Float32(req.Temperature)
	}
	if req.TopP != 0 {
		inference.TopP = aws.Float32(req.TopP)
	}
	if inference.MaxTokens == nil && inference.Temperature == nil && inference.TopP == nil {
		inference = nil
	}

	out, err := c.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         aws.String(modelID),
		System:          systemBlocks,
		Messages:        messages,
		InferenceConfig: inference,
	})
	if err != nil {
		return Response{}, fmt.Errorf("llm: bedrock converse: %w", err)
	}

	text, err := bedrockExtractOutputText(out)
	if err != nil {
		return Response{}, err
	}

	resp := Response{
		Text: strings.TrimSpace(text),
	}
	if out.StopReason != "" {
		resp.StopReason = string(out.StopReason)
	}
	if out.Usage != nil {
		resp.Usage = TokenUsage{
			InputTokens:  int32OrZero(out.Usage.InputTokens),
			OutputTokens: int32OrZero(out.Usage.OutputTokens),
			TotalTokens:  int32OrZero(out.Usage.TotalTokens),
		}
	}
	return resp, nil
}

func bedrockContentBlocks(msg ChatMessage, content string) ([]brtypes.ContentBlock, error) {
	blocks := make([]brtypes.ContentBlock, 0, len(msg.Images)+1)
	for _, img := range msg.Images {
		if len(img.Data) == 0 {
			continue
		}
		format, err := bedrockImageFormat(img.Format)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, &brtypes.ContentBlockMemberImage{
			Value: brtypes.ImageBlock{
				Format: format,
				Source: &brtypes.ImageSourceMemberBytes{Value: img.Data},
			},
		})
	}
	if content != "" {
		blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: content})
	}
	return blocks, nil
}

func bedrockImageFormat(format string) (brtypes.ImageFormat, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "png", "":
		return brtypes.ImageFormatPng, nil
	case "jpeg", "jpg":
		return brtypes.ImageFormatJpeg, nil
	case "gif":
		return brtypes.ImageFormatGif, nil
	case "webp":
		return brtypes.ImageFormatWebp, nil
	default:
		return "", fmt.Errorf("llm: unsupported image format %q", format)
	}
}

func bedrockExtractOutputText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", errors.New("llm: bedrock response is nil")
	}
	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("llm: bedrock response did not include a message output")
	}
	if len(msgOut.Value.Content) == 0 {
		return "", errors.New("llm: bedrock response message was empty")
	}

	var builder strings.Builder
	for _, block := range msgOut.Value.Content {
		if textBlock, ok := block.(*brtypes.ContentBlockMemberText); ok {
			builder.WriteString(textBlock.Value)
		}
	}
	outText := builder.String()
	if strings.TrimSpace(outText) == "" {
		return "", errors.New("llm: bedrock response contained no text content blocks")
	}
	return outText, nil
}

func int32OrZero(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}

// BedrockEmbeddingClient implements Embedder with a Titan text embedding model.
type BedrockEmbeddingClient struct {
	api        bedrockInvokeModelAPI
	modelID    string
	dimensions int
}

func NewBedrockEmbeddingClient(api bedrockInvokeModelAPI, modelID string, dimensions int) *BedrockEmbeddingClient {
	if api == nil {
		panic("llm: bedrock runtime client cannot be nil")
	}
	return &BedrockEmbeddingClient{api: api, modelID: modelID, dimensions: dimensions}
}

func (c *BedrockEmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if strings.TrimSpace(c.modelID) == "" {
		return nil, errors.New("llm: bedrock embedding model id is required")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, 0, len(texts))
	for _, text := range texts {
		body := map[string]any{
			"inputText": text,
		}
		if c.dimensions > 0 {
			body["dimensions"] = c.dimensions
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("llm: embedding request marshal: %w", err)
		}

		out, err := c.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(c.modelID),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        payload,
		})
		if err != nil {
			return nil, fmt.Errorf("llm: bedrock embedding: %w", err)
		}

		var decoded struct {
			Embedding []float64 `json:"embedding"`
		}
		if err := json.Unmarshal(out.Body, &decoded); err != nil {
			return nil, fmt.Errorf("llm: embedding response parse: %w", err)
		}
		if len(decoded.Embedding) == 0 {
			return nil, errors.New("llm: embedding response was empty")
		}

		vec := make([]float32, len(decoded.Embedding))
		for i, f := range decoded.Embedding {
			vec[i] = float32(f)
		}
		embeddings = append(embeddings, vec)
	}

	return embeddings, nil
}
