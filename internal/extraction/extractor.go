// Package extraction turns attachments into text and a thread's text into
// structured signals.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/support-copilot/internal/inbox"
	"github.com/wolfman30/support-copilot/internal/llm"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

// PageBreak separates the text of consecutive PDF pages.
const PageBreak = "\n\n---- page break ----\n\n"

const (
	visionSystemPrompt = "You are a document transcription engine for a customer support team. " +
		"Return only the text that appears in the image, preserving line breaks. " +
		"Do not describe the image and do not add commentary."
	visionInstruction = "Extract and return all visible text from this image."
)

var errEmptyAttachment = errors.New("extraction: attachment has no data")

// Transcriber converts audio into text using its full duration.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Rasterizer renders each page of a PDF as a PNG image.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte) ([][]byte, error)
}

// Extractor is the modality extractor. Backend failures never escape
// Extract; they are reported through the returned status.
type Extractor struct {
	vision      llm.Client
	transcriber Transcriber
	rasterizer  Rasterizer
	retry       llm.RetryPolicy
	concurrency int
	logger      *logging.Logger
}

type ExtractorOption func(*Extractor)

// WithRetryPolicy sets the policy wrapped around each backend call.
func WithRetryPolicy(p llm.RetryPolicy) ExtractorOption {
	return func(e *Extractor) {
		e.retry = p
	}
}

// WithConcurrency bounds how many attachments of one message are extracted at once.
func WithConcurrency(n int) ExtractorOption {
	return func(e *Extractor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func WithLogger(logger *logging.Logger) ExtractorOption {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func NewExtractor(vision llm.Client, transcriber Transcriber, rasterizer Rasterizer, opts ...ExtractorOption) *Extractor {
	if vision == nil {
		panic("extraction: vision client cannot be nil")
	}
	if transcriber == nil {
		panic("extraction: transcriber cannot be nil")
	}
	if rasterizer == nil {
		panic("extraction: rasterizer cannot be nil")
	}
	e := &Extractor{
		vision:      vision,
		transcriber: transcriber,
		rasterizer:  rasterizer,
		retry:       llm.NoRetry(),
		concurrency: 4,
		logger:      logging.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the text for one attachment. Unsupported modalities make
// no backend call.
func (e *Extractor) Extract(ctx context.Context, att inbox.Attachment) inbox.ExtractedText {
	result := inbox.ExtractedText{
		AttachmentID: att.ID,
		Modality:     att.Modality,
	}
	if !att.Modality.Supported() {
		result.Status = inbox.ExtractionUnsupported
		return result
	}

	text, err := e.extract(ctx, att)
	if err != nil {
		e.logger.Warn("attachment extraction failed",
			"attachment_id", att.ID,
			"modality", string(att.Modality),
			"filename", att.Filename,
			"error", err.Error(),
		)
		result.Status = inbox.ExtractionFailed
		return result
	}

	result.Text = text
	result.Status = inbox.ExtractionOK
	return result
}

// ExtractAll extracts attachments concurrently and returns the results in
// attachment order.
func (e *Extractor) ExtractAll(ctx context.Context, atts []inbox.Attachment) []inbox.ExtractedText {
	results := make([]inbox.ExtractedText, len(atts))
	if len(atts) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, att := range atts {
		g.Go(func() error {
			results[i] = e.Extract(ctx, att)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Extractor) extract(ctx context.Context, att inbox.Attachment) (string, error) {
	if len(att.Data) == 0 {
		return "", errEmptyAttachment
	}
	switch att.Modality {
	case inbox.ModalityImage:
		return e.readImage(ctx, llm.ImageFormat(att.ContentType, att.Filename), att.Data)
	case inbox.ModalityPDF:
		return e.readPDF(ctx, att.Data)
	case inbox.ModalityAudio:
		return e.transcribe(ctx, att)
	default:
		return "", fmt.Errorf("extraction: unsupported modality %q", att.Modality)
	}
}

func (e *Extractor) readImage(ctx context.Context, format string, data []byte) (string, error) {
	var text string
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		resp, err := e.vision.Complete(ctx, llm.Request{
			System: []string{visionSystemPrompt},
			Messages: []llm.ChatMessage{{
				Role:    llm.ChatRoleUser,
				Content: visionInstruction,
				Images:  []llm.ImagePart{{Format: format, Data: data}},
			}},
			Temperature: 0,
		})
		if err != nil {
			return err
		}
		text = strings.TrimSpace(resp.Text)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("extraction: vision: %w", err)
	}
	return text, nil
}

func (e *Extractor) readPDF(ctx context.Context, data []byte) (string, error) {
	pages, err := e.rasterizer.Rasterize(ctx, data)
	if err != nil {
		return "", fmt.Errorf("extraction: rasterize pdf: %w", err)
	}
	if len(pages) == 0 {
		return "", errors.New("extraction: pdf has no pages")
	}

	texts := make([]string, 0, len(pages))
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := e.readImage(ctx, "png", page)
		if err != nil {
			return "", fmt.Errorf("extraction: pdf page %d: %w", i+1, err)
		}
		texts = append(texts, text)
	}
	return strings.Join(texts, PageBreak), nil
}

func (e *Extractor) transcribe(ctx context.Context, att inbox.Attachment) (string, error) {
	filename := att.Filename
	if strings.TrimSpace(filename) == "" {
		filename = att.ID + ".wav"
	}
	var text string
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		out, err := e.transcriber.Transcribe(ctx, att.Data, filename)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(out)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("extraction: transcribe: %w", err)
	}
	return text, nil
}
