package biz

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/ragway/internal/gateway/store"
	"github.com/kart-io/ragway/internal/model"
	"github.com/kart-io/ragway/pkg/errors"
	"github.com/kart-io/ragway/pkg/llm"
)

// maxRerankDocLen 送入评分提示词的文档截断长度（字符）。
const maxRerankDocLen = 2000

// rerankPrompt 相关性评分提示词。
const rerankPrompt = `评估以下文档与查询的相关性。

查询：%s

文档：%s

请只返回一个 0 到 1 之间的数字，表示相关性分数：
- 1.0：完全相关，直接回答了查询
- 0.7-0.9：高度相关，包含大部分所需信息
- 0.4-0.6：部分相关，包含一些相关信息
- 0.1-0.3：低相关，只有少量相关内容
- 0.0：完全不相关

相关性分数：`

// LLMReranker 使用 LLM 对融合后的候选做精细重排序。
//
// 最终分数为融合分数与 LLM 相关性评分的加权组合
// (0.3*fused + 0.7*llm)。单个候选评分失败时保留其融合分数;
// 供应商全部失败时返回错误,调用端回退到融合排序。
type LLMReranker struct {
	provider llm.ChatProvider
}

// NewLLMReranker creates a reranker backed by the given chat provider.
func NewLLMReranker(provider llm.ChatProvider) *LLMReranker {
	return &LLMReranker{provider: provider}
}

var _ store.Reranker = (*LLMReranker)(nil)

// Rerank 实现 store.Reranker。
func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []*model.RetrievalCandidate, topK int) ([]*model.RetrievalCandidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	reranked := make([]*model.RetrievalCandidate, len(candidates))
	failures := 0
	for i, cand := range candidates {
		clone := *cand
		score, err := r.scoreRelevance(ctx, query, cand.Content)
		if err != nil {
			failures++
			logger.Warnw("相关性评分失败", "chunk_id", cand.ChunkID, "error", err.Error())
		} else {
			clone.FusedScore = 0.3*cand.FusedScore + 0.7*score
		}
		reranked[i] = &clone
	}
	if failures == len(candidates) {
		return nil, errors.ErrRetrievalFailure.WithMessage("reranker scored no candidates")
	}

	sort.SliceStable(reranked, func(i, j int) bool {
		if reranked[i].FusedScore != reranked[j].FusedScore {
			return reranked[i].FusedScore > reranked[j].FusedScore
		}
		return reranked[i].ChunkID < reranked[j].ChunkID
	})
	if topK > 0 && len(reranked) > topK {
		reranked = reranked[:topK]
	}
	return reranked, nil
}

// scoreRelevance 用 LLM 评估文档与查询的相关性。
func (r *LLMReranker) scoreRelevance(ctx context.Context, query, document string) (float64, error) {
	doc := document
	if len(doc) > maxRerankDocLen {
		doc = doc[:maxRerankDocLen]
	}

	response, err := r.provider.Generate(ctx, fmt.Sprintf(rerankPrompt, query, doc), "")
	if err != nil {
		return 0, err
	}
	return parseScore(response), nil
}

// parseScore 从 LLM 响应中解析 [0,1] 区间的分数,
// 解析失败时返回中等分数。
func parseScore(response string) float64 {
	response = strings.TrimSpace(response)

	var score float64
	if _, err := fmt.Sscanf(response, "%f", &score); err == nil && score >= 0 && score <= 1 {
		return score
	}
	for _, part := range strings.Fields(response) {
		if _, err := fmt.Sscanf(part, "%f", &score); err == nil && score >= 0 && score <= 1 {
			return score
		}
	}
	return 0.5
}
