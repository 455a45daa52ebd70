package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/wolfman30/support-copilot/internal/inbox"
	"github.com/wolfman30/support-copilot/internal/llm"
	"github.com/wolfman30/support-copilot/pkg/logging"
)

const (
	defaultTopN          = 3
	defaultMaxQueryChars = 2000
	embedBatchSize       = 16
	probeText            = "dimension probe"
)

// Retriever embeds a query and looks it up in the index. The index is
// never mutated through the retriever.
type Retriever struct {
	embedder      llm.Embedder
	index         *Index
	retry         llm.RetryPolicy
	topN          int
	maxQueryChars int
	logger        *logging.Logger
}

type RetrieverOption func(*Retriever)

func WithRetryPolicy(p llm.RetryPolicy) RetrieverOption {
	return func(r *Retriever) {
		r.retry = p
	}
}

// WithDefaultTopN sets N for calls that pass topN <= 0.
func WithDefaultTopN(n int) RetrieverOption {
	return func(r *Retriever) {
		if n > 0 {
			r.topN = n
		}
	}
}

// WithMaxQueryChars truncates long queries before embedding.
func WithMaxQueryChars(n int) RetrieverOption {
	return func(r *Retriever) {
		if n > 0 {
			r.maxQueryChars = n
		}
	}
}

func WithLogger(logger *logging.Logger) RetrieverOption {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRetriever(embedder llm.Embedder, index *Index, opts ...RetrieverOption) *Retriever {
	if embedder == nil {
		panic("retrieval: embedder cannot be nil")
	}
	if index == nil {
		panic("retrieval: index cannot be nil")
	}
	r := &Retriever{
		embedder:      embedder,
		index:         index,
		retry:         llm.NoRetry(),
		topN:          defaultTopN,
		maxQueryChars: defaultMaxQueryChars,
		logger:        logging.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns the topN most similar snippets for query. A blank query or
// an empty index yields an empty result.
func (r *Retriever) Retrieve(ctx context.Context, query string, topN int) (inbox.RetrievalResult, error) {
	if topN <= 0 {
		topN = r.topN
	}
	query = strings.TrimSpace(query)
	if query == "" || r.index.Len() == 0 {
		return inbox.RetrievalResult{}, nil
	}
	if utf8.RuneCountInString(query) > r.maxQueryChars {
		query = string([]rune(query)[:r.maxQueryChars])
	}

	vec, err := r.embedOne(ctx, query)
	if err != nil {
		return inbox.RetrievalResult{}, fmt.Errorf("retrieval: embed query: %w", err)
	}
	snippets, err := r.index.Search(vec, topN)
	if err != nil {
		return inbox.RetrievalResult{}, err
	}
	return inbox.RetrievalResult{Snippets: snippets}, nil
}

// Validate checks that the embedder produces vectors of the index's
// dimensionality. A mismatch is a configuration error.
func (r *Retriever) Validate(ctx context.Context) error {
	vec, err := r.embedOne(ctx, probeText)
	if err != nil {
		return fmt.Errorf("retrieval: probe embedder: %w", err)
	}
	if len(vec) != r.index.Dimensions() {
		return fmt.Errorf("%w: embedder returns %d dimensions, index expects %d", ErrDimensionMismatch, len(vec), r.index.Dimensions())
	}
	return nil
}

func (r *Retriever) embedOne(ctx context.Context, text string) ([]float32, error) {
	var vecs [][]float32
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		vecs, err = r.embedder.Embed(ctx, []string{text})
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("retrieval: expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// SnippetSource supplies the raw knowledge base.
type SnippetSource interface {
	LoadAll(ctx context.Context) (map[string][]inbox.KBSnippet, error)
}

// BuildIndex loads every snippet from source, embeds the ones without a
// stored embedding and returns a populated index. Documents are added in
// source id order so rankings are reproducible.
func BuildIndex(ctx context.Context, source SnippetSource, embedder llm.Embedder, dims int, logger *logging.Logger) (*Index, error) {
	if source == nil {
		return nil, errors.New("retrieval: snippet source is required")
	}
	if embedder == nil {
		return nil, errors.New("retrieval: embedder is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	docs, err := source.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	index := NewIndex(dims)
	embedded := 0
	for _, id := range ids {
		snippets := docs[id]
		var pending []int
		for i, s := range snippets {
			if len(s.Embedding) == 0 {
				pending = append(pending, i)
			}
		}
		for start := 0; start < len(pending); start += embedBatchSize {
			end := min(start+embedBatchSize, len(pending))
			texts := make([]string, 0, end-start)
			for _, i := range pending[start:end] {
				texts = append(texts, snippets[i].Text)
			}
			vecs, err := embedder.Embed(ctx, texts)
			if err != nil {
				return nil, fmt.Errorf("retrieval: embed %s: %w", id, err)
			}
			if len(vecs) != len(texts) {
				return nil, fmt.Errorf("retrieval: embed %s: got %d vectors for %d snippets", id, len(vecs), len(texts))
			}
			for k, i := range pending[start:end] {
				snippets[i].Embedding = vecs[k]
			}
			embedded += len(texts)
		}
		if err := index.Add(snippets...); err != nil {
			return nil, err
		}
	}

	logger.Info("knowledge index built",
		"documents", len(ids),
		"snippets", index.Len(),
		"embedded", embedded,
		"dimensions", dims,
	)
	return index, nil
}
