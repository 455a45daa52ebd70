package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/support-copilot/internal/inbox"
)

const knowledgeKeyPrefix = "kb:docs:"

// KnowledgeRepository persists knowledge-base snippets grouped by source document.
type KnowledgeRepository interface {
	AppendSnippets(ctx context.Context, sourceDocID string, snippets []inbox.KBSnippet) error
	ReplaceSnippets(ctx context.Context, sourceDocID string, snippets []inbox.KBSnippet) error
	GetSnippets(ctx context.Context, sourceDocID string) ([]inbox.KBSnippet, error)
	LoadAll(ctx context.Context) (map[string][]inbox.KBSnippet, error)
}

// RedisKnowledgeRepository stores JSON-encoded snippets in one Redis list per
// source document.
type RedisKnowledgeRepository struct {
	client *redis.Client
}

func NewRedisKnowledgeRepository(client *redis.Client) *RedisKnowledgeRepository {
	if client == nil {
		panic("retrieval: redis client cannot be nil")
	}
	return &RedisKnowledgeRepository{client: client}
}

// AppendSnippets pushes new snippets onto the document's list.
func (r *RedisKnowledgeRepository) AppendSnippets(ctx context.Context, sourceDocID string, snippets []inbox.KBSnippet) error {
	if len(snippets) == 0 {
		return nil
	}
	args, err := encodeSnippets(sourceDocID, snippets)
	if err != nil {
		return err
	}
	if err := r.client.RPush(ctx, knowledgeKey(sourceDocID), args...).Err(); err != nil {
		return fmt.Errorf("retrieval: failed to push knowledge: %w", err)
	}
	return nil
}

// ReplaceSnippets overwrites every snippet of the document atomically.
func (r *RedisKnowledgeRepository) ReplaceSnippets(ctx context.Context, sourceDocID string, snippets []inbox.KBSnippet) error {
	args, err := encodeSnippets(sourceDocID, snippets)
	if err != nil {
		return err
	}
	key := knowledgeKey(sourceDocID)
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(args) > 0 {
		pipe.RPush(ctx, key, args...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("retrieval: failed to replace knowledge: %w", err)
	}
	return nil
}

func (r *RedisKnowledgeRepository) GetSnippets(ctx context.Context, sourceDocID string) ([]inbox.KBSnippet, error) {
	raw, err := r.client.LRange(ctx, knowledgeKey(sourceDocID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("retrieval: fetch knowledge %s failed: %w", sourceDocID, err)
	}
	return decodeSnippets(sourceDocID, raw)
}

// LoadAll returns every snippet keyed by source document id.
func (r *RedisKnowledgeRepository) LoadAll(ctx context.Context) (map[string][]inbox.KBSnippet, error) {
	var cursor uint64
	result := make(map[string][]inbox.KBSnippet)

	for {
		keys, next, err := r.client.Scan(ctx, cursor, knowledgeKeyPrefix+"*", 50).Result()
		if err != nil {
			return nil, fmt.Errorf("retrieval: scan knowledge keys failed: %w", err)
		}
		for _, key := range keys {
			docID := strings.TrimPrefix(key, knowledgeKeyPrefix)
			snippets, err := r.GetSnippets(ctx, docID)
			if err != nil {
				return nil, err
			}
			result[docID] = snippets
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return result, nil
}

func encodeSnippets(sourceDocID string, snippets []inbox.KBSnippet) ([]interface{}, error) {
	args := make([]interface{}, len(snippets))
	for i, s := range snippets {
		s.SourceDocID = sourceDocID
		s.Score = 0
		payload, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("retrieval: encode snippet %s: %w", s.ID, err)
		}
		args[i] = string(payload)
	}
	return args, nil
}

func decodeSnippets(sourceDocID string, raw []string) ([]inbox.KBSnippet, error) {
	out := make([]inbox.KBSnippet, 0, len(raw))
	for i, item := range raw {
		var s inbox.KBSnippet
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			return nil, fmt.Errorf("retrieval: decode snippet %d of %s: %w", i, sourceDocID, err)
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("%s#%d", sourceDocID, i)
		}
		s.SourceDocID = sourceDocID
		out = append(out, s)
	}
	return out, nil
}

func knowledgeKey(sourceDocID string) string {
	return knowledgeKeyPrefix + sourceDocID
}
