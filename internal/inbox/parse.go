package inbox

import (
	"errors"
	"fmt"
	"io"
	"net/mail"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jhillyerd/enmime"
)

// ErrEmptyMessage is returned when a raw email has neither body nor attachments.
var ErrEmptyMessage = errors.New("inbox: message has no body or attachments")

var (
	imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".webp": true}
	audioExtensions = map[string]bool{".wav": true, ".mp3": true, ".m4a": true, ".flac": true, ".ogg": true, ".webm": true}
)

// ModalityFor picks the modality tag from a MIME type, falling back to the
// filename extension.
func ModalityFor(contentType, filename string) Modality {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case strings.HasPrefix(ct, "image/"):
		return ModalityImage
	case ct == "application/pdf":
		return ModalityPDF
	case strings.HasPrefix(ct, "audio/"):
		return ModalityAudio
	}
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case imageExtensions[ext]:
		return ModalityImage
	case ext == ".pdf":
		return ModalityPDF
	case audioExtensions[ext]:
		return ModalityAudio
	}
	return ModalityOther
}

// ParseRFC822 reads a raw email and builds an InboundMessage. Attachments and
// named inline parts are kept in MIME order.
func ParseRFC822(r io.Reader) (InboundMessage, error) {
	env, err := enmime.ReadEnvelope(r)
	if err != nil {
		return InboundMessage{}, fmt.Errorf("inbox: parse email: %w", err)
	}

	msg := InboundMessage{
		ID:         strings.Trim(strings.TrimSpace(env.GetHeader("Message-ID")), "<>"),
		Subject:    strings.TrimSpace(env.GetHeader("Subject")),
		Body:       strings.TrimSpace(env.Text),
		ReceivedAt: time.Now().UTC(),
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if from, err := env.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = strings.ToLower(from[0].Address)
		msg.SenderName = strings.TrimSpace(from[0].Name)
	} else if raw := strings.TrimSpace(env.GetHeader("From")); raw != "" {
		msg.Sender = raw
	}
	if raw := env.GetHeader("Date"); raw != "" {
		if ts, err := mail.ParseDate(raw); err == nil {
			msg.ReceivedAt = ts.UTC()
		}
	}
	msg.ThreadID = threadIdentifier(env, msg.Subject, msg.ID)

	parts := append(append([]*enmime.Part{}, env.Attachments...), env.Inlines...)
	for _, part := range parts {
		if part == nil || strings.TrimSpace(part.FileName) == "" {
			continue
		}
		msg.Attachments = append(msg.Attachments, Attachment{
			ID:          uuid.NewString(),
			Modality:    ModalityFor(part.ContentType, part.FileName),
			Filename:    part.FileName,
			ContentType: part.ContentType,
			Data:        part.Content,
		})
	}

	if msg.Body == "" && len(msg.Attachments) == 0 {
		return InboundMessage{}, ErrEmptyMessage
	}
	return msg, nil
}

func threadIdentifier(env *enmime.Envelope, subject, messageID string) string {
	if v := strings.TrimSpace(env.GetHeader("Thread-Index")); v != "" {
		return v
	}
	if refs := strings.Fields(env.GetHeader("References")); len(refs) > 0 {
		return strings.Trim(refs[0], "<>")
	}
	if v := strings.TrimSpace(env.GetHeader("In-Reply-To")); v != "" {
		return strings.Trim(v, "<>")
	}
	if messageID != "" {
		return messageID
	}
	return NormalizeSubject(subject)
}

// NormalizeSubject strips reply/forward prefixes so replies share a thread key.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		lowered := strings.ToLower(s)
		trimmed := false
		for _, prefix := range []string{"re:", "fw:", "fwd:"} {
			if strings.HasPrefix(lowered, prefix) {
				s = strings.TrimSpace(s[len(prefix):])
				trimmed = true
				break
			}
		}
		if !trimmed {
			return strings.ToLower(s)
		}
	}
}
