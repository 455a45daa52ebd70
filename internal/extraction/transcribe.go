package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/support-copilot/internal/llm"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

// WhisperConfig configures the speech-to-text backend.
type WhisperConfig struct {
	BaseURL  string // e.g. "http://localhost:9000/v1" for a local whisper server
	APIKey   string
	Model    string
	Language string // optional ISO-639-1 code
	Timeout  time.Duration
}

// WhisperTranscriber calls an OpenAI-compatible /audio/transcriptions endpoint.
// The whole file is sent in one request.
type WhisperTranscriber struct {
	baseURL  string
	apiKey   string
	model    string
	language string
	client   *http.Client
	logger   *logging.Logger
}

func NewWhisperTranscriber(cfg WhisperConfig, logger *logging.Logger) *WhisperTranscriber {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:9000/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &WhisperTranscriber{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		language: cfg.Language,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

type transcriptionResult struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("extraction: create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("extraction: copy audio data: %w", err)
	}
	_ = writer.WriteField("model", w.model)
	_ = writer.WriteField("response_format", "json")
	if w.language != "" {
		_ = writer.WriteField("language", w.language)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("extraction: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("extraction: create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("extraction: whisper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("extraction: whisper status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		// Client errors other than rate limiting will not succeed on retry.
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", llm.Permanent(err)
		}
		return "", err
	}

	var result transcriptionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("extraction: decode whisper response: %w", err)
	}

	w.logger.Debug("transcription complete",
		"text_len", len(result.Text),
		"language", result.Language,
		"duration", result.Duration,
	)
	return result.Text, nil
}

// Ping reports whether the speech-to-text server answers. Any response below
// 500 counts as reachable.
func (w *WhisperTranscriber) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("extraction: create request: %w", err)
	}
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("extraction: whisper ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("extraction: whisper ping status %d", resp.StatusCode)
	}
	return nil
}
