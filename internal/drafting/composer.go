// Package drafting composes reply drafts with the reasoning backend and
// scores how far each draft can be trusted.
package drafting

import (
	"context"

	"github.com/wolfman30/support-copilot/internal/inbox"
	"github.com/wolfman30/support-copilot/internal/llm"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

// Composition is the composer's output before trust scoring.
type Composition struct {
	Reply          string
	Justification  string
	Confidence     float64
	RequestedTone  inbox.Tone
	Tone           inbox.Tone
	ToneOverridden bool
}

// Composer is the draft composer.
type Composer struct {
	client      llm.Client
	retry       llm.RetryPolicy
	defaultTone inbox.Tone
	maxTokens   int32
	temperature float32
	logger      *logging.Logger
}

type ComposerOption func(*Composer)

func WithRetryPolicy(p llm.RetryPolicy) ComposerOption {
	return func(c *Composer) {
		c.retry = p
	}
}

// WithDefaultTone sets the tone used when the caller requests none.
func WithDefaultTone(t inbox.Tone) ComposerOption {
	return func(c *Composer) {
		if t != "" {
			c.defaultTone = t
		}
	}
}

func WithMaxTokens(n int32) ComposerOption {
	return func(c *Composer) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

func WithLogger(logger *logging.Logger) ComposerOption {
	return func(c *Composer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewComposer(client llm.Client, opts ...ComposerOption) *Composer {
	if client == nil {
		panic("drafting: reasoning client cannot be nil")
	}
	c := &Composer{
		client:      client,
		retry:       llm.NoRetry(),
		defaultTone: inbox.ToneFormal,
		maxTokens:   800,
		temperature: 0.3,
		logger:      logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveTone applies the default tone and the negative-sentiment override.
// The second result reports whether the override changed the tone.
func (c *Composer) ResolveTone(requested inbox.Tone, sentiment inbox.Sentiment) (inbox.Tone, bool) {
	if requested == "" {
		requested = c.defaultTone
	}
	if sentiment == inbox.SentimentNegative {
		return inbox.ToneEmpathetic, requested != inbox.ToneEmpathetic
	}
	return requested, false
}

// Compose drafts a reply for the latest message of thread. Backend failures
// return *GenerationError and unusable replies return *ParseError.
func (c *Composer) Compose(ctx context.Context, thread inbox.Thread, signals inbox.ExtractedSignals, retrieval inbox.RetrievalResult, tone inbox.Tone) (Composition, error) {
	requested := tone
	if requested == "" {
		requested = c.defaultTone
	}
	applied, overridden := c.ResolveTone(requested, signals.Sentiment)
	system, user := buildPrompt(thread, signals, retrieval, applied)

	var text string
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		resp, err := c.client.Complete(ctx, llm.Request{
			System:      system,
			Messages:    []llm.ChatMessage{{Role: llm.ChatRoleUser, Content: user}},
			MaxTokens:   c.maxTokens,
			Temperature: c.temperature,
			JSON:        true,
		})
		if err != nil {
			return err
		}
		text = resp.Text
		return nil
	})
	if err != nil {
		return Composition{}, &GenerationError{ThreadID: thread.ID, Err: err}
	}

	parsed, err := parseReply(text)
	if err != nil {
		perr := &ParseError{ThreadID: thread.ID, Reason: err.Error(), Raw: inbox.Excerpt(text, 200)}
		c.logger.Warn("draft reply could not be parsed",
			"thread_id", thread.ID,
			"reason", perr.Reason,
			"excerpt", perr.Raw,
		)
		return Composition{}, perr
	}

	return Composition{
		Reply:          parsed.Reply,
		Justification:  parsed.Justification,
		Confidence:     parsed.Confidence,
		RequestedTone:  requested,
		Tone:           applied,
		ToneOverridden: overridden,
	}, nil
}
