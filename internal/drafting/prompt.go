package drafting

import (
	"fmt"
	"strings"

	"github.com/wolfman30/support-copilot/internal/inbox"
)

const systemPrompt = `You are a customer support agent drafting a reply to an email thread.
Write a reply the agent can send after review. Ground factual statements in the knowledge base excerpts when they are provided and never invent policies.

Respond with a single JSON object and nothing else:
{"reply": "<the email reply>", "justification": "<why this reply, citing the excerpts or policies used>", "confidence": <number between 0 and 1>}`

var toneInstructions = map[inbox.Tone]string{
	inbox.ToneEmpathetic: "Use an empathetic tone: acknowledge the customer's frustration, apologise sincerely and explain the next steps.",
	inbox.ToneFormal:     "Use a formal, professional tone.",
	inbox.ToneConcise:    "Be concise: short sentences, no more than four of them.",
	inbox.ToneCheerful:   "Use a warm, cheerful and upbeat tone.",
}

// maxEntryChars caps each thread entry in the prompt.
const maxEntryChars = 4000

// buildPrompt returns the system blocks and the user message for a draft.
// The knowledge base section is omitted when retrieval is empty.
func buildPrompt(thread inbox.Thread, signals inbox.ExtractedSignals, retrieval inbox.RetrievalResult, tone inbox.Tone) ([]string, string) {
	system := []string{systemPrompt}
	if instr, ok := toneInstructions[tone]; ok {
		system = append(system, instr)
	}

	var b strings.Builder
	if subject := strings.TrimSpace(thread.Subject); subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n\n", subject)
	}

	b.WriteString("Thread (oldest first):\n")
	for i, entry := range thread.Chronological() {
		text := strings.TrimSpace(entry.Text)
		if r := []rune(text); len(r) > maxEntryChars {
			text = string(r[:maxEntryChars])
		}
		fmt.Fprintf(&b, "--- message %d", i+1)
		if entry.Sender != "" {
			fmt.Fprintf(&b, " from %s", entry.Sender)
		}
		if !entry.ReceivedAt.IsZero() {
			fmt.Fprintf(&b, " at %s", entry.ReceivedAt.UTC().Format("2006-01-02 15:04 MST"))
		}
		b.WriteString(" ---\n")
		b.WriteString(text)
		b.WriteString("\n")
	}

	b.WriteString("\nCustomer signals:\n")
	if signals.SenderName != "" {
		fmt.Fprintf(&b, "- name: %s\n", signals.SenderName)
	}
	fmt.Fprintf(&b, "- sentiment: %s\n", signals.Sentiment)
	fmt.Fprintf(&b, "- urgency: %s\n", signals.Urgency)
	if len(signals.Keywords) > 0 {
		fmt.Fprintf(&b, "- topics: %s\n", strings.Join(signals.Keywords, ", "))
	}

	if !retrieval.Empty() {
		b.WriteString("\nKnowledge base excerpts:\n")
		for i, s := range retrieval.Snippets {
			fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, s.Snippet.SourceDocID, strings.TrimSpace(s.Snippet.Text))
		}
	}

	fmt.Fprintf(&b, "\nDraft the reply to the latest message in a %s tone.", tone)
	return system, b.String()
}
