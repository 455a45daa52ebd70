// Package retrieval holds the knowledge-base index and the retriever that
// queries it for the drafting prompt.
package retrieval

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/wolfman30/support-copilot/internal/inbox"
)

// ErrDimensionMismatch means a vector does not have the index's dimensionality.
var ErrDimensionMismatch = errors.New("retrieval: embedding dimension mismatch")

// Index is an in-memory cosine-similarity index with a fixed dimensionality.
// Searches take a read lock only.
type Index struct {
	dims int

	mu       sync.RWMutex
	snippets []inbox.KBSnippet
}

func NewIndex(dims int) *Index {
	if dims <= 0 {
		panic("retrieval: index dimensions must be positive")
	}
	return &Index{dims: dims}
}

func (idx *Index) Dimensions() int {
	return idx.dims
}

func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.snippets)
}

// Add appends snippets. Nothing is added when any snippet has the wrong
// dimensionality.
func (idx *Index) Add(snippets ...inbox.KBSnippet) error {
	for _, s := range snippets {
		if len(s.Embedding) != idx.dims {
			return fmt.Errorf("%w: snippet %s has %d dimensions, index expects %d", ErrDimensionMismatch, s.ID, len(s.Embedding), idx.dims)
		}
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.snippets = append(idx.snippets, snippets...)
	return nil
}

// Search returns up to topN snippets ordered by descending cosine similarity.
// Equal scores keep insertion order. Returned snippets carry no embedding.
func (idx *Index) Search(query []float32, topN int) ([]inbox.ScoredSnippet, error) {
	if len(query) != idx.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, index expects %d", ErrDimensionMismatch, len(query), idx.dims)
	}
	if topN <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	results := make([]inbox.ScoredSnippet, 0, len(idx.snippets))
	for _, s := range idx.snippets {
		score := cosineSimilarity(query, s.Embedding)
		snippet := s
		snippet.Embedding = nil
		snippet.Score = score
		results = append(results, inbox.ScoredSnippet{Snippet: snippet, Score: score})
	}
	idx.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	var normA float64
	var normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) {
		return 0
	}
	return sim
}
