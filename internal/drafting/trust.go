package drafting

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/wolfman30/support-copilot/internal/inbox"
)

// Weights are the trust-score coefficients. They must sum to 1.
type Weights struct {
	Confidence float64
	Keywords   float64
	Retrieval  float64
}

// DefaultWeights favour the model's own confidence.
func DefaultWeights() Weights {
	return Weights{Confidence: 0.6, Keywords: 0.2, Retrieval: 0.2}
}

func (w Weights) Validate() error {
	for name, v := range map[string]float64{"confidence": w.Confidence, "keywords": w.Keywords, "retrieval": w.Retrieval} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("drafting: trust weight %s must be a non-negative number, got %v", name, v)
		}
	}
	if sum := w.Confidence + w.Keywords + w.Retrieval; math.Abs(sum-1) > 1e-6 {
		return errors.New("drafting: trust weights must sum to 1.0")
	}
	return nil
}

// TrustScorer combines model confidence with keyword coverage and retrieval
// relevance. It is pure and safe for concurrent use.
type TrustScorer struct {
	weights Weights
}

// NewTrustScorer panics on invalid weights; config.Validate rejects them first.
func NewTrustScorer(w Weights) *TrustScorer {
	if err := w.Validate(); err != nil {
		panic(err.Error())
	}
	return &TrustScorer{weights: w}
}

func (s *TrustScorer) Weights() Weights {
	return s.weights
}

// Score returns a value in [0, 1]. Malformed inputs are clamped.
func (s *TrustScorer) Score(confidence float64, signals inbox.ExtractedSignals, retrieval inbox.RetrievalResult) float64 {
	score := s.weights.Confidence*clamp01(confidence) +
		s.weights.Keywords*KeywordCoverage(signals.Keywords, retrieval) +
		s.weights.Retrieval*RetrievalRelevance(retrieval)
	return clamp01(score)
}

// KeywordCoverage is the fraction of keywords found in the retrieved text.
// It is 0 when there are no keywords.
func KeywordCoverage(keywords []string, retrieval inbox.RetrievalResult) float64 {
	if len(keywords) == 0 || retrieval.Empty() {
		return 0
	}
	var corpus strings.Builder
	for _, s := range retrieval.Snippets {
		corpus.WriteString(strings.ToLower(s.Snippet.Text))
		corpus.WriteByte('\n')
	}
	text := corpus.String()

	seen := make(map[string]struct{}, len(keywords))
	covered := 0
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		if strings.Contains(text, kw) {
			covered++
		}
	}
	if len(seen) == 0 {
		return 0
	}
	return float64(covered) / float64(len(seen))
}

// RetrievalRelevance is the mean of the retrieval scores, each clamped to [0, 1].
func RetrievalRelevance(retrieval inbox.RetrievalResult) float64 {
	if retrieval.Empty() {
		return 0
	}
	var sum float64
	for _, s := range retrieval.Snippets {
		sum += clamp01(s.Score)
	}
	return sum / float64(len(retrieval.Snippets))
}
