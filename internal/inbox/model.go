// Package inbox defines the records that flow through the drafting pipeline:
// inbound messages and their attachments, extracted signals, knowledge
// snippets, drafts and offline-queue items.
package inbox

import (
	"sort"
	"strings"
	"time"
)

// Modality is the medium of an attachment and selects its extraction backend.
type Modality string

const (
	ModalityImage Modality = "image"
	ModalityPDF   Modality = "pdf"
	ModalityAudio Modality = "audio"
	ModalityOther Modality = "other"
)

// Supported reports whether an extraction backend exists for the modality.
func (m Modality) Supported() bool {
	switch m {
	case ModalityImage, ModalityPDF, ModalityAudio:
		return true
	default:
		return false
	}
}

// Attachment is an immutable binary payload received with a message.
type Attachment struct {
	ID          string   `json:"id"`
	Modality    Modality `json:"modality"`
	Filename    string   `json:"filename"`
	ContentType string   `json:"content_type,omitempty"`
	Data        []byte   `json:"data"`
}

// InboundMessage is a single support email. It is not mutated once built.
type InboundMessage struct {
	ID          string       `json:"id"`
	ThreadID    string       `json:"thread_id"`
	Sender      string       `json:"sender"`
	SenderName  string       `json:"sender_name,omitempty"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReceivedAt  time.Time    `json:"received_at"`
}

// ExtractionStatus records how an attachment extraction ended.
type ExtractionStatus string

const (
	ExtractionOK          ExtractionStatus = "ok"
	ExtractionFailed      ExtractionStatus = "failed"
	ExtractionUnsupported ExtractionStatus = "unsupported"
)

// ExtractedText is the plain-text rendition of one attachment.
type ExtractedText struct {
	AttachmentID string           `json:"attachment_id"`
	Modality     Modality         `json:"modality"`
	Text         string           `json:"text"`
	Status       ExtractionStatus `json:"status"`
}

// ThreadText joins the message body with every successfully extracted
// attachment text, in attachment order.
func ThreadText(body string, extracted []ExtractedText) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(body))
	for _, et := range extracted {
		if et.Status != ExtractionOK {
			continue
		}
		text := strings.TrimSpace(et.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	return b.String()
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// DefaultSentiment applies when the extractor cannot decide.
const DefaultSentiment = SentimentNeutral

// ParseSentiment normalizes free-form model output into a Sentiment.
func ParseSentiment(raw string) (Sentiment, bool) {
	switch Sentiment(normalizeEnum(raw)) {
	case SentimentPositive:
		return SentimentPositive, true
	case SentimentNeutral:
		return SentimentNeutral, true
	case SentimentNegative:
		return SentimentNegative, true
	}
	return DefaultSentiment, false
}

type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// DefaultUrgency applies when the extractor cannot decide.
const DefaultUrgency = UrgencyLow

// ParseUrgency normalizes free-form model output into an Urgency.
func ParseUrgency(raw string) (Urgency, bool) {
	switch Urgency(normalizeEnum(raw)) {
	case UrgencyLow:
		return UrgencyLow, true
	case UrgencyMedium:
		return UrgencyMedium, true
	case UrgencyHigh:
		return UrgencyHigh, true
	}
	return DefaultUrgency, false
}

// ExtractedSignals holds the structured signals for one message.
// Sentiment and Urgency always carry a defined value.
type ExtractedSignals struct {
	ThreadID   string            `json:"thread_id"`
	SenderName string            `json:"sender_name,omitempty"`
	Contact    map[string]string `json:"contact,omitempty"`
	Keywords   []string          `json:"keywords,omitempty"`
	Sentiment  Sentiment         `json:"sentiment"`
	Urgency    Urgency           `json:"urgency"`
}

// NewSignals returns signals initialized to the documented defaults.
func NewSignals(threadID string) ExtractedSignals {
	return ExtractedSignals{
		ThreadID:  threadID,
		Contact:   map[string]string{},
		Sentiment: DefaultSentiment,
		Urgency:   DefaultUrgency,
	}
}

// Tone is the stylistic register requested for a reply.
type Tone string

const (
	ToneEmpathetic Tone = "empathetic"
	ToneFormal     Tone = "formal"
	ToneConcise    Tone = "concise"
	ToneCheerful   Tone = "cheerful"
)

// ParseTone returns the tone for raw, or false when it is not a known tone.
func ParseTone(raw string) (Tone, bool) {
	switch Tone(normalizeEnum(raw)) {
	case ToneEmpathetic:
		return ToneEmpathetic, true
	case ToneFormal:
		return ToneFormal, true
	case ToneConcise:
		return ToneConcise, true
	case ToneCheerful:
		return ToneCheerful, true
	}
	return "", false
}

// KBSnippet is an indexed knowledge-base passage.
type KBSnippet struct {
	ID          string    `json:"id"`
	SourceDocID string    `json:"source_doc_id"`
	Text        string    `json:"text"`
	Embedding   []float32 `json:"embedding,omitempty"`
	Score       float64   `json:"score,omitempty"`
}

// ScoredSnippet pairs a snippet with its similarity to the query.
type ScoredSnippet struct {
	Snippet KBSnippet `json:"snippet"`
	Score   float64   `json:"score"`
}

// RetrievalResult is ordered by descending score. An empty result is valid.
type RetrievalResult struct {
	Snippets []ScoredSnippet `json:"snippets"`
}

func (r RetrievalResult) Empty() bool {
	return len(r.Snippets) == 0
}

// ThreadEntry is one message of a thread's history, already flattened to text.
type ThreadEntry struct {
	MessageID  string    `json:"message_id"`
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// Thread is the conversation a draft replies to.
type Thread struct {
	ID      string        `json:"id"`
	Subject string        `json:"subject"`
	Entries []ThreadEntry `json:"entries"`
}

// Chronological returns the entries ordered oldest first. Entries with equal
// timestamps keep their stored order.
func (t Thread) Chronological() []ThreadEntry {
	out := make([]ThreadEntry, len(t.Entries))
	copy(out, t.Entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out
}

// Draft is the pipeline's final output for a message. Once emitted it is
// treated as read-only.
type Draft struct {
	ID             string    `json:"id"`
	ThreadID       string    `json:"thread_id"`
	MessageID      string    `json:"message_id"`
	RequestedTone  Tone      `json:"requested_tone"`
	Tone           Tone      `json:"tone"`
	ToneOverridden bool      `json:"tone_overridden"`
	Reply          string    `json:"reply"`
	Justification  string    `json:"justification"`
	Confidence     float64   `json:"confidence"`
	TrustScore     float64   `json:"trust_score"`
	Sentiment      Sentiment `json:"sentiment"`
	Urgency        Urgency   `json:"urgency"`
	Keywords       []string  `json:"keywords,omitempty"`
	Priority       int       `json:"priority"`
	CreatedAt      time.Time `json:"created_at"`
}

// QueuedItem is a thread parked in the offline queue. Message is the newest
// queued message; Pending holds earlier ones of the same thread, oldest first.
type QueuedItem struct {
	Message    InboundMessage   `json:"message"`
	Tone       Tone             `json:"tone,omitempty"`
	Pending    []PendingMessage `json:"pending,omitempty"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
	RetryCount int              `json:"retry_count"`
	LastError  string           `json:"last_error,omitempty"`
}

// PendingMessage is a queued message with the tone requested for it.
type PendingMessage struct {
	Message InboundMessage `json:"message"`
	Tone    Tone           `json:"tone,omitempty"`
}

// Messages returns every queued message of the thread, oldest first.
func (q QueuedItem) Messages() []PendingMessage {
	out := make([]PendingMessage, 0, len(q.Pending)+1)
	out = append(out, q.Pending...)
	return append(out, PendingMessage{Message: q.Message, Tone: q.Tone})
}

func normalizeEnum(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.Trim(s, "\"'`.,;:!* \t\n")
}
