// Package storage supplies a concrete, optional implementation of
// fusion.StorageBackend over Redis, adapted from core/redis_client.go's
// DB-isolation and key-namespacing conventions. Nothing in fusion or runtime
// imports this package directly — it is wired in by the process entrypoint
// when precedent lookup is enabled.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/conclave-ai/conclave/core"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// candidateWindow bounds how many recently-stored precedents are pulled from
// the recency index before ranking by cosine similarity. This is the
// "approximation" in the sorted-set approach: it trades recall on very old
// precedents for an O(window) search instead of O(n).
const candidateWindow = 200

type precedentRecord struct {
	ID        string                 `json:"id"`
	Vector    []float64              `json:"vector"`
	Summary   string                 `json:"summary"`
	DecidedAt time.Time              `json:"decided_at"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// RedisPrecedentStore implements fusion.StorageBackend. Records are stored
// as JSON blobs under "<namespace>:precedent:<id>", with a ZSET at
// "<namespace>:precedent:index" ordering ids by insertion time for recency
// windowing.
type RedisPrecedentStore struct {
	client    *redis.Client
	namespace string
	db        int
	logger    core.Logger
}

// RedisPrecedentStoreOptions configures the store, mirroring
// core.RedisClientOptions' RedisURL/DB/Namespace shape.
type RedisPrecedentStoreOptions struct {
	RedisURL  string
	DB        int
	Namespace string
	Logger    core.Logger
}

// NewRedisPrecedentStore connects to Redis and returns a store ready for use
// as a fusion.StorageBackend.
func NewRedisPrecedentStore(opts RedisPrecedentStoreOptions) (*RedisPrecedentStore, error) {
	if opts.RedisURL == "" {
		return nil, fmt.Errorf("storage: redis URL is required")
	}
	if opts.Namespace == "" {
		opts.Namespace = "conclave:precedent"
	}

	redisOpts, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("storage: invalid redis URL: %w", err)
	}
	redisOpts.DB = opts.DB

	client := redis.NewClient(redisOpts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("storage: redis ping failed: %w", err)
	}

	return &RedisPrecedentStore{client: client, namespace: opts.Namespace, db: opts.DB, logger: opts.Logger}, nil
}

func (s *RedisPrecedentStore) key(id string) string {
	return fmt.Sprintf("%s:precedent:%s", s.namespace, id)
}

func (s *RedisPrecedentStore) indexKey() string {
	return fmt.Sprintf("%s:precedent:index", s.namespace)
}

// Store persists record and indexes it by insertion time. record is expected
// to optionally carry "vector" ([]float64 or []interface{}) and "summary"
// (string); all other keys are preserved verbatim in Extra.
func (s *RedisPrecedentStore) Store(ctx context.Context, record map[string]interface{}) (string, error) {
	id := uuid.New().String()

	rec := precedentRecord{ID: id, DecidedAt: time.Now(), Extra: map[string]interface{}{}}
	for k, v := range record {
		switch k {
		case "vector":
			rec.Vector = toFloat64Slice(v)
		case "summary":
			if str, ok := v.(string); ok {
				rec.Summary = str
			}
		default:
			rec.Extra[k] = v
		}
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("storage: marshal record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(id), payload, 0)
	pipe.ZAdd(ctx, s.indexKey(), &redis.Z{Score: float64(rec.DecidedAt.UnixNano()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("storage: write record: %w", err)
	}

	return id, nil
}

// SearchEmbeddings ranks the most recent candidateWindow precedents by
// cosine similarity to vector and returns the topK closest.
func (s *RedisPrecedentStore) SearchEmbeddings(ctx context.Context, vector []float64, topK int) ([]core.PrecedentRef, error) {
	if len(vector) == 0 || topK <= 0 {
		return nil, nil
	}

	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, candidateWindow-1).Result()
	if err != nil {
		return nil, fmt.Errorf("storage: read recency index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("storage: fetch records: %w", err)
	}

	type scored struct {
		ref        core.PrecedentRef
		similarity float64
	}
	candidates := make([]scored, 0, len(values))
	for _, raw := range values {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var rec precedentRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			if s.logger != nil {
				s.logger.Warn("storage: skipping malformed precedent record", map[string]interface{}{"error": err.Error()})
			}
			continue
		}
		if len(rec.Vector) == 0 {
			continue
		}
		candidates = append(candidates, scored{
			ref: core.PrecedentRef{
				ID:        rec.ID,
				Summary:   rec.Summary,
				DecidedAt: rec.DecidedAt,
			},
			similarity: cosineSimilarity(vector, rec.Vector),
		})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].similarity > candidates[j].similarity })

	if topK > len(candidates) {
		topK = len(candidates)
	}
	out := make([]core.PrecedentRef, topK)
	for i := 0; i < topK; i++ {
		ref := candidates[i].ref
		ref.Score = candidates[i].similarity
		out[i] = ref
	}
	return out, nil
}

// Close releases the underlying Redis connection.
func (s *RedisPrecedentStore) Close() error {
	return s.client.Close()
}

func cosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func toFloat64Slice(v interface{}) []float64 {
	switch vec := v.(type) {
	case []float64:
		return vec
	case []interface{}:
		out := make([]float64, 0, len(vec))
		for _, item := range vec {
			if f, ok := item.(float64); ok {
				out = append(out, f)
			}
		}
		return out
	default:
		return nil
	}
}
