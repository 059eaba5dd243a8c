package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/ragway/internal/model"
	cacheopts "github.com/kart-io/ragway/pkg/options/cache"
)

// Tier 标识缓存层。
type Tier string

const (
	// TierEmbedding 查询向量层。
	TierEmbedding Tier = "embedding"
	// TierInference 完整回答层。
	TierInference Tier = "inference"
	// TierMetadata 检索候选层。
	TierMetadata Tier = "metadata"
)

// TierStats 单层缓存的命中统计。
type TierStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`
}

type tierCounters struct {
	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// TieredCache 分层缓存。每层有独立的 TTL 与统计，
// 后端故障时所有读操作降级为未命中。
type TieredCache struct {
	backend Backend
	opts    *cacheopts.Options

	embedding tierCounters
	inference tierCounters
	metadata  tierCounters

	// 降级日志在窗口内去重，避免后端故障时刷屏。
	degradedMu      sync.Mutex
	lastDegradedLog time.Time
}

// NewTieredCache 创建分层缓存实例。
func NewTieredCache(backend Backend, opts *cacheopts.Options) *TieredCache {
	if opts == nil {
		opts = cacheopts.NewOptions()
	}
	return &TieredCache{
		backend: backend,
		opts:    opts,
	}
}

// enabled 缓存是否可用。
func (c *TieredCache) enabled() bool {
	return c.opts.Enabled && c.backend != nil
}

// key 构建层级化缓存键。指纹已是十六进制摘要时直接使用，
// 其余输入先做 SHA256。
func (c *TieredCache) key(tier Tier, raw string) string {
	digest := raw
	if len(raw) != sha256.Size*2 {
		h := sha256.Sum256([]byte(raw))
		digest = hex.EncodeToString(h[:])
	}
	return c.opts.KeyPrefix + string(tier) + ":" + digest
}

func (c *TieredCache) counters(tier Tier) *tierCounters {
	switch tier {
	case TierEmbedding:
		return &c.embedding
	case TierInference:
		return &c.inference
	default:
		return &c.metadata
	}
}

func (c *TieredCache) ttl(tier Tier) time.Duration {
	switch tier {
	case TierEmbedding:
		return c.opts.EmbeddingTTL
	case TierInference:
		return c.opts.InferenceTTL
	default:
		return c.opts.MetadataTTL
	}
}

// get 读取某层的缓存值。后端故障计入 errors 并按未命中处理。
func (c *TieredCache) get(ctx context.Context, tier Tier, rawKey string, out any) bool {
	if !c.enabled() {
		return false
	}

	counters := c.counters(tier)
	data, err := c.backend.Get(ctx, c.key(tier, rawKey))
	if err != nil {
		if errors.Is(err, ErrMiss) {
			counters.misses.Add(1)
			return false
		}
		counters.errors.Add(1)
		c.logDegraded(tier, "get", err)
		return false
	}

	if err := json.Unmarshal(data, out); err != nil {
		// 损坏的条目按未命中处理并删除。
		counters.misses.Add(1)
		_ = c.backend.Delete(ctx, c.key(tier, rawKey))
		logger.Warnw("dropping corrupted cache entry", "tier", string(tier), "error", err.Error())
		return false
	}

	counters.hits.Add(1)
	return true
}

// set 写入某层的缓存值。写失败只记录降级日志，不影响请求。
func (c *TieredCache) set(ctx context.Context, tier Tier, rawKey string, value any) {
	if !c.enabled() {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		logger.Warnw("failed to marshal cache value", "tier", string(tier), "error", err.Error())
		return
	}

	if err := c.backend.Set(ctx, c.key(tier, rawKey), data, c.ttl(tier)); err != nil {
		c.counters(tier).errors.Add(1)
		c.logDegraded(tier, "set", err)
	}
}

// logDegraded 在去重窗口内最多输出一条降级日志。
func (c *TieredCache) logDegraded(tier Tier, op string, err error) {
	c.degradedMu.Lock()
	defer c.degradedMu.Unlock()

	now := time.Now()
	if now.Sub(c.lastDegradedLog) < c.opts.DegradedLogWindow {
		return
	}
	c.lastDegradedLog = now

	logger.Warnw("cache backend degraded, serving misses",
		"tier", string(tier),
		"op", op,
		"error", err.Error(),
	)
}

// GetEmbedding 读取查询向量。
func (c *TieredCache) GetEmbedding(ctx context.Context, normalized string) ([]float32, bool) {
	var vec []float32
	if !c.get(ctx, TierEmbedding, normalized, &vec) {
		return nil, false
	}
	return vec, true
}

// SetEmbedding 写入查询向量。
func (c *TieredCache) SetEmbedding(ctx context.Context, normalized string, vec []float32) {
	c.set(ctx, TierEmbedding, normalized, vec)
}

// GetResult 按指纹读取完整回答。
func (c *TieredCache) GetResult(ctx context.Context, fingerprint string) (*model.QueryResult, bool) {
	var result model.QueryResult
	if !c.get(ctx, TierInference, fingerprint, &result) {
		return nil, false
	}
	return &result, true
}

// SetResult 按指纹写入完整回答。
func (c *TieredCache) SetResult(ctx context.Context, fingerprint string, result *model.QueryResult) {
	c.set(ctx, TierInference, fingerprint, result)
}

// GetCandidates 按指纹读取检索候选。
func (c *TieredCache) GetCandidates(ctx context.Context, fingerprint string) ([]*model.RetrievalCandidate, bool) {
	var candidates []*model.RetrievalCandidate
	if !c.get(ctx, TierMetadata, fingerprint, &candidates) {
		return nil, false
	}
	return candidates, true
}

// SetCandidates 按指纹写入检索候选。
func (c *TieredCache) SetCandidates(ctx context.Context, fingerprint string, candidates []*model.RetrievalCandidate) {
	c.set(ctx, TierMetadata, fingerprint, candidates)
}

// ChunkKey 构建块元数据的缓存键：document_id + ":" + chunk_id。
func ChunkKey(documentID, chunkID string) string {
	return documentID + ":" + chunkID
}

// GetChunkMetadata 按 (document_id, chunk_id) 读取块元数据。
func (c *TieredCache) GetChunkMetadata(ctx context.Context, documentID, chunkID string) (*model.ChunkSource, bool) {
	var src model.ChunkSource
	if !c.get(ctx, TierMetadata, ChunkKey(documentID, chunkID), &src) {
		return nil, false
	}
	return &src, true
}

// SetChunkMetadata 按 (document_id, chunk_id) 写入块元数据。
// 分数与查询相关，不随元数据存储。
func (c *TieredCache) SetChunkMetadata(ctx context.Context, src *model.ChunkSource) {
	if src == nil || src.DocumentID == "" || src.ChunkID == "" {
		return
	}
	stored := *src
	stored.Score = 0
	c.set(ctx, TierMetadata, ChunkKey(src.DocumentID, src.ChunkID), &stored)
}

// Invalidate 删除某个指纹在回答层与候选层的缓存。
func (c *TieredCache) Invalidate(ctx context.Context, fingerprint string) {
	if !c.enabled() {
		return
	}
	for _, tier := range []Tier{TierInference, TierMetadata} {
		if err := c.backend.Delete(ctx, c.key(tier, fingerprint)); err != nil {
			c.logDegraded(tier, "delete", err)
		}
	}
}

// Healthy 探测后端可用性。
func (c *TieredCache) Healthy(ctx context.Context) bool {
	if !c.enabled() {
		return false
	}
	return c.backend.Ping(ctx) == nil
}

// Stats 返回各层命中统计。
func (c *TieredCache) Stats() map[string]TierStats {
	read := func(t *tierCounters) TierStats {
		return TierStats{
			Hits:   t.hits.Load(),
			Misses: t.misses.Load(),
			Errors: t.errors.Load(),
		}
	}
	return map[string]TierStats{
		string(TierEmbedding): read(&c.embedding),
		string(TierInference): read(&c.inference),
		string(TierMetadata):  read(&c.metadata),
	}
}

// Close 关闭后端。
func (c *TieredCache) Close() error {
	if c.backend == nil {
		return nil
	}
	return c.backend.Close()
}
