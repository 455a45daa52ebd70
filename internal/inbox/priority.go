package inbox

import (
	"strings"
	"time"
)

// supportSubjectKeywords gate which inbound mail enters the pipeline.
var supportSubjectKeywords = []string{"support", "query", "request", "help"}

// AcceptSubject reports whether a subject line looks like a support request.
func AcceptSubject(subject string) bool {
	lowered := strings.ToLower(subject)
	for _, kw := range supportSubjectKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// PriorityScore ranks a thread for agent attention. Urgent, negative and
// older messages score higher; the age bonus is capped at 30.
func PriorityScore(sentiment Sentiment, urgency Urgency, receivedAt, now time.Time) int {
	score := 0
	switch urgency {
	case UrgencyHigh:
		score += 50
	case UrgencyMedium:
		score += 25
	}
	switch sentiment {
	case SentimentNegative:
		score += 20
	case SentimentPositive:
		score -= 10
	}
	if !receivedAt.IsZero() && now.After(receivedAt) {
		ageBonus := int(now.Sub(receivedAt) / (10 * time.Minute))
		if ageBonus > 30 {
			ageBonus = 30
		}
		score += ageBonus
	}
	if score < 0 {
		return 0
	}
	return score
}
