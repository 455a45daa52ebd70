package extraction

import (
	"strings"
	"unicode"
)

type vocabTerm struct {
	tag   string
	stems []string
}

// Vocabulary is the fixed set of keyword tags and the stems that select them.
type Vocabulary struct {
	terms []vocabTerm
}

var defaultTerms = []vocabTerm{
	{tag: "support", stems: []string{"support"}},
	{tag: "query", stems: []string{"query", "queries"}},
	{tag: "request", stems: []string{"request"}},
	{tag: "help", stems: []string{"help"}},
	{tag: "refund", stems: []string{"refund"}},
	{tag: "billing", stems: []string{"billing", "billed", "bill"}},
	{tag: "invoice", stems: []string{"invoic"}},
	{tag: "payment", stems: []string{"payment", "paid", "charge"}},
	{tag: "order", stems: []string{"order"}},
	{tag: "shipping", stems: []string{"ship"}},
	{tag: "delivery", stems: []string{"deliver"}},
	{tag: "return", stems: []string{"return"}},
	{tag: "cancel", stems: []string{"cancel"}},
	{tag: "account", stems: []string{"account"}},
	{tag: "password", stems: []string{"password"}},
	{tag: "login", stems: []string{"login", "logon", "signin"}},
	{tag: "warranty", stems: []string{"warrant"}},
	{tag: "complaint", stems: []string{"complain"}},
	{tag: "bug", stems: []string{"bug"}},
	{tag: "error", stems: []string{"error"}},
	{tag: "outage", stems: []string{"outage"}},
}

// DefaultVocabulary returns the built-in tags plus any extra tags, each of
// which matches on its own stem.
func DefaultVocabulary(extra ...string) Vocabulary {
	terms := make([]vocabTerm, 0, len(defaultTerms)+len(extra))
	seen := make(map[string]struct{}, len(defaultTerms)+len(extra))
	for _, t := range defaultTerms {
		terms = append(terms, t)
		seen[t.tag] = struct{}{}
	}
	for _, raw := range extra {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		terms = append(terms, vocabTerm{tag: tag, stems: []string{tag}})
	}
	return Vocabulary{terms: terms}
}

// Tags returns every tag in vocabulary order.
func (v Vocabulary) Tags() []string {
	out := make([]string, len(v.terms))
	for i, t := range v.terms {
		out[i] = t.tag
	}
	return out
}

// Match returns the tags whose stems prefix any word of text. The result is
// in vocabulary order and has no duplicates.
func (v Vocabulary) Match(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return nil
	}

	var out []string
	for _, term := range v.terms {
		if termMatches(term, words) {
			out = append(out, term.tag)
		}
	}
	return out
}

func termMatches(term vocabTerm, words []string) bool {
	for _, w := range words {
		for _, stem := range term.stems {
			if strings.HasPrefix(w, stem) {
				return true
			}
		}
	}
	return false
}
