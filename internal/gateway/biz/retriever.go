package biz

import (
	"context"
	"time"

	"github.com/kart-io/logger"
	"golang.org/x/sync/errgroup"

	"github.com/kart-io/ragway/internal/gateway/cache"
	"github.com/kart-io/ragway/internal/gateway/metrics"
	"github.com/kart-io/ragway/internal/gateway/store"
	"github.com/kart-io/ragway/internal/model"
	"github.com/kart-io/ragway/pkg/errors"
	"github.com/kart-io/ragway/pkg/llm"
	retrievalopts "github.com/kart-io/ragway/pkg/options/retrieval"
)

// RetrievalOutcome 一次混合检索的结果。
type RetrievalOutcome struct {
	// Candidates 融合排序后的候选块。
	Candidates []*model.RetrievalCandidate
	// Degraded 是否在单索引可用的降级状态下产生。
	Degraded bool
}

// HybridRetriever 并发查询语义索引与关键词索引，
// 归一化后加权融合两路分数。
type HybridRetriever struct {
	vector   store.VectorIndex
	lexical  store.LexicalIndex
	reranker store.Reranker
	embedder llm.EmbeddingProvider
	cache    *cache.TieredCache
	opts     *retrievalopts.Options
}

// NewHybridRetriever 创建混合检索器。reranker 可为 nil。
func NewHybridRetriever(
	vector store.VectorIndex,
	lexical store.LexicalIndex,
	reranker store.Reranker,
	embedder llm.EmbeddingProvider,
	tiered *cache.TieredCache,
	opts *retrievalopts.Options,
) *HybridRetriever {
	if opts == nil {
		opts = retrievalopts.NewOptions()
	}
	return &HybridRetriever{
		vector:   vector,
		lexical:  lexical,
		reranker: reranker,
		embedder: embedder,
		cache:    tiered,
		opts:     opts,
	}
}

// Retrieve 执行一次子查询的混合检索。topK 为 0 时使用配置默认值。
// 两路索引都失败才算检索失败；单路失败降级为单索引结果。
func (r *HybridRetriever) Retrieve(ctx context.Context, sub *model.SubQuery, topK int) (*RetrievalOutcome, error) {
	start := time.Now()
	outcome, err := r.retrieve(ctx, sub, topK)

	degraded := outcome != nil && outcome.Degraded
	metrics.Get().RecordRetrieval(time.Since(start), degraded, err)
	return outcome, err
}

func (r *HybridRetriever) retrieve(ctx context.Context, sub *model.SubQuery, topK int) (*RetrievalOutcome, error) {
	if topK <= 0 {
		topK = r.opts.TopK
	}
	// 候选缓存按默认条数存储，请求级覆盖不读写共享缓存。
	cacheable := topK == r.opts.TopK

	if cacheable {
		if cached, ok := r.cache.GetCandidates(ctx, sub.Fingerprint); ok {
			return &RetrievalOutcome{Candidates: cached}, nil
		}
	}

	overfetch := topK * r.opts.OverfetchFactor

	var (
		vecCands []*model.RetrievalCandidate
		lexCands []*model.RetrievalCandidate
		vecErr   error
		lexErr   error
	)

	// 两路检索并发执行，各自失败独立记录。
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecCands, vecErr = r.searchVector(gctx, sub, overfetch)
		return nil
	})
	g.Go(func() error {
		lexCands, lexErr = r.lexical.Search(gctx, sub.Text, overfetch)
		return nil
	})
	_ = g.Wait()

	if vecErr != nil && lexErr != nil {
		return nil, errors.ErrRetrievalFailure.
			WithCause(vecErr).
			WithMessagef("both indexes failed: vector=%v, lexical=%v", vecErr, lexErr)
	}

	degraded := false
	if vecErr != nil {
		logger.Warnw("向量检索失败，降级为关键词检索", "fingerprint", sub.Fingerprint, "error", vecErr.Error())
		degraded = true
	}
	if lexErr != nil {
		logger.Warnw("关键词检索失败，降级为向量检索", "fingerprint", sub.Fingerprint, "error", lexErr.Error())
		degraded = true
	}

	candidates := fuseCandidates(vecCands, lexCands, r.opts.Alpha, topK)
	candidates = r.rerank(ctx, sub.Text, candidates, topK)
	r.syncChunkMetadata(ctx, candidates)

	// 降级结果不回写缓存，恢复后以完整结果为准。
	if cacheable && !degraded {
		r.cache.SetCandidates(ctx, sub.Fingerprint, candidates)
	}

	return &RetrievalOutcome{Candidates: candidates, Degraded: degraded}, nil
}

// searchVector 嵌入查询文本后执行向量检索。
// 嵌入向量按规范化文本缓存，拼写差异不影响命中。
func (r *HybridRetriever) searchVector(ctx context.Context, sub *model.SubQuery, topK int) ([]*model.RetrievalCandidate, error) {
	embedding, ok := r.cache.GetEmbedding(ctx, sub.Normalized)
	if !ok {
		var err error
		embedding, err = r.embedder.EmbedSingle(ctx, sub.Text)
		if err != nil {
			return nil, errors.ErrEmbeddingFailure.WithCause(err)
		}
		r.cache.SetEmbedding(ctx, sub.Normalized, embedding)
	}
	return r.vector.Search(ctx, r.opts.Collection, embedding, topK)
}

// syncChunkMetadata 维护按 (document_id, chunk_id) 键的块元数据层：
// 元数据不全的候选从缓存回填，完整的候选回写供后续回填使用。
// 元数据只与块本身相关，降级检索产生的候选同样回写。
func (r *HybridRetriever) syncChunkMetadata(ctx context.Context, candidates []*model.RetrievalCandidate) {
	for _, c := range candidates {
		if c.DocumentID == "" || c.ChunkID == "" {
			continue
		}
		if c.Content == "" || c.DocumentName == "" {
			if src, ok := r.cache.GetChunkMetadata(ctx, c.DocumentID, c.ChunkID); ok {
				if c.Content == "" {
					c.Content = src.Content
				}
				if c.DocumentName == "" {
					c.DocumentName = src.DocumentName
				}
				if c.Section == "" {
					c.Section = src.Section
				}
				continue
			}
		}
		if c.Content != "" {
			r.cache.SetChunkMetadata(ctx, &model.ChunkSource{
				ChunkID:      c.ChunkID,
				DocumentID:   c.DocumentID,
				DocumentName: c.DocumentName,
				Section:      c.Section,
				Content:      c.Content,
			})
		}
	}
}

// rerank 对融合结果重排序，失败时回退到融合排序。
func (r *HybridRetriever) rerank(ctx context.Context, query string, candidates []*model.RetrievalCandidate, topK int) []*model.RetrievalCandidate {
	if !r.opts.EnableRerank || r.reranker == nil || len(candidates) == 0 {
		return candidates
	}
	limit := r.opts.RerankTopK
	if topK < limit {
		limit = topK
	}
	reranked, err := r.reranker.Rerank(ctx, query, candidates, limit)
	if err != nil {
		logger.Warnw("重排序失败，使用融合排序", "error", err.Error())
		return candidates
	}
	return reranked
}
