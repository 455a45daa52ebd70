package extraction

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d{0,2}[\s.\-]?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`)
)

const (
	ContactEmail = "email"
	ContactPhone = "phone"
)

// ContactFromText returns the first email address and phone number found in text.
func ContactFromText(text string) map[string]string {
	out := map[string]string{}
	if m := emailPattern.FindString(text); m != "" {
		out[ContactEmail] = strings.ToLower(m)
	}
	if m := phonePattern.FindString(text); m != "" {
		out[ContactPhone] = normalizePhone(m)
	}
	return out
}

func normalizePhone(raw string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		if r >= '0' && r <= '9' || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
