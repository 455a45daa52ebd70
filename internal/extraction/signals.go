package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/wolfman30/support-copilot/internal/inbox"
	"github.com/wolfman30/support-copilot/internal/llm"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

const signalSystemPrompt = `You analyse customer support emails.
Respond with a single JSON object and nothing else:
{"sender_name": "<customer's name or empty>", "contact": {"email": "", "phone": ""}, "sentiment": "positive|neutral|negative", "urgency": "low|medium|high"}
Use "high" urgency for outages, payment failures, legal threats or explicit deadlines. Use "negative" sentiment when the customer is upset or dissatisfied.`

// maxSignalChars caps how much thread text is sent to the model.
const maxSignalChars = 8000

// Sender is what the message headers say about the author.
type Sender struct {
	Address string
	Name    string
}

// SignalExtractor is the information extractor. It never fails: anything the
// model cannot decide falls back to the documented defaults.
type SignalExtractor struct {
	client     llm.Client
	retry      llm.RetryPolicy
	vocabulary Vocabulary
	logger     *logging.Logger
}

type SignalOption func(*SignalExtractor)

func WithSignalRetryPolicy(p llm.RetryPolicy) SignalOption {
	return func(s *SignalExtractor) {
		s.retry = p
	}
}

func WithVocabulary(v Vocabulary) SignalOption {
	return func(s *SignalExtractor) {
		s.vocabulary = v
	}
}

func WithSignalLogger(logger *logging.Logger) SignalOption {
	return func(s *SignalExtractor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewSignalExtractor(client llm.Client, opts ...SignalOption) *SignalExtractor {
	if client == nil {
		panic("extraction: reasoning client cannot be nil")
	}
	s := &SignalExtractor{
		client:     client,
		retry:      llm.NoRetry(),
		vocabulary: DefaultVocabulary(),
		logger:     logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type modelSignals struct {
	SenderName string            `json:"sender_name"`
	Contact    map[string]string `json:"contact"`
	Sentiment  string            `json:"sentiment"`
	Urgency    string            `json:"urgency"`
}

// Extract derives signals from threadText. The sender's header name and
// address win; otherwise pattern matches win over the model's guesses.
func (s *SignalExtractor) Extract(ctx context.Context, threadID, threadText string, sender Sender) inbox.ExtractedSignals {
	signals := inbox.NewSignals(threadID)
	signals.Keywords = s.vocabulary.Match(threadText)

	guess, err := s.ask(ctx, threadText)
	if err != nil {
		s.logger.Warn("signal extraction fell back to defaults",
			"thread_id", threadID,
			"error", err.Error(),
		)
	}

	if v, ok := inbox.ParseSentiment(guess.Sentiment); ok {
		signals.Sentiment = v
	}
	if v, ok := inbox.ParseUrgency(guess.Urgency); ok {
		signals.Urgency = v
	}

	signals.SenderName = strings.TrimSpace(sender.Name)
	if signals.SenderName == "" {
		signals.SenderName = strings.TrimSpace(guess.SenderName)
	}

	// Later sources overwrite earlier ones: model, then body patterns, then
	// the From header.
	for _, field := range []string{ContactEmail, ContactPhone} {
		if v := strings.TrimSpace(guess.Contact[field]); v != "" {
			signals.Contact[field] = v
		}
	}
	for field, v := range ContactFromText(threadText) {
		signals.Contact[field] = v
	}
	if addr := strings.ToLower(strings.TrimSpace(sender.Address)); addr != "" {
		signals.Contact[ContactEmail] = addr
	}
	return signals
}

func (s *SignalExtractor) ask(ctx context.Context, threadText string) (modelSignals, error) {
	text := strings.TrimSpace(threadText)
	if text == "" {
		return modelSignals{}, errors.New("extraction: empty thread text")
	}
	if utf8.RuneCountInString(text) > maxSignalChars {
		text = string([]rune(text)[:maxSignalChars])
	}

	var reply string
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		resp, err := s.client.Complete(ctx, llm.Request{
			System:      []string{signalSystemPrompt},
			Messages:    []llm.ChatMessage{{Role: llm.ChatRoleUser, Content: text}},
			MaxTokens:   256,
			Temperature: 0,
			JSON:        true,
		})
		if err != nil {
			return err
		}
		reply = resp.Text
		return nil
	})
	if err != nil {
		return modelSignals{}, fmt.Errorf("extraction: signal model: %w", err)
	}

	raw, ok := llm.ExtractJSONObject(reply)
	if !ok {
		return modelSignals{}, fmt.Errorf("extraction: signal reply is not json: %q", inbox.Excerpt(reply, 80))
	}
	var out modelSignals
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return modelSignals{}, fmt.Errorf("extraction: decode signal reply: %w", err)
	}
	return out, nil
}
