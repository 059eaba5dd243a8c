package biz

import (
	"sort"

	"github.com/kart-io/ragway/internal/model"
)

// minMaxNormalize 对一组分数做 min-max 归一化，落在 [0, 1] 区间。
// 两路索引的分数量纲不同，必须各自独立归一化后才能加权融合。
// 所有分数相同时统一归一化为 1，非空结果本身就是相关性信号。
func minMaxNormalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}

	min, max := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}

	out := make([]float64, len(scores))
	if max == min {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	for i, s := range scores {
		out[i] = (s - min) / (max - min)
	}
	return out
}

// fusedScore 融合公式，纯函数。
// 单路命中的候选缺失侧分数为 0，保留加权后的单路分数。
func fusedScore(vectorScore, lexicalScore, alpha float64) float64 {
	return alpha*vectorScore + (1-alpha)*lexicalScore
}

// fuseCandidates 合并两路检索结果：各自归一化、按块去重、加权融合、
// 按融合分数降序截断到 topK。两路都命中的块标记为 both 来源。
// 相同融合分数按 ChunkID 升序排列，保证结果确定。
func fuseCandidates(vector, lexical []*model.RetrievalCandidate, alpha float64, topK int) []*model.RetrievalCandidate {
	normalizeInPlace(vector, func(c *model.RetrievalCandidate) *float64 { return &c.VectorScore })
	normalizeInPlace(lexical, func(c *model.RetrievalCandidate) *float64 { return &c.LexicalScore })

	merged := make(map[string]*model.RetrievalCandidate, len(vector)+len(lexical))
	var order []string

	for _, c := range vector {
		if prev, ok := merged[c.ChunkID]; ok {
			// 同一路内重复块保留较高分数。
			if c.VectorScore > prev.VectorScore {
				prev.VectorScore = c.VectorScore
			}
			continue
		}
		clone := *c
		clone.Source = model.SourceVector
		merged[c.ChunkID] = &clone
		order = append(order, c.ChunkID)
	}
	for _, c := range lexical {
		if prev, ok := merged[c.ChunkID]; ok {
			if c.LexicalScore > prev.LexicalScore {
				prev.LexicalScore = c.LexicalScore
			}
			if prev.Source == model.SourceVector {
				prev.Source = model.SourceBoth
				// 关键词路独有的元数据补全向量路缺失字段。
				if prev.Content == "" {
					prev.Content = c.Content
				}
			}
			continue
		}
		clone := *c
		clone.Source = model.SourceLexical
		merged[c.ChunkID] = &clone
		order = append(order, c.ChunkID)
	}

	fused := make([]*model.RetrievalCandidate, 0, len(order))
	for _, id := range order {
		c := merged[id]
		c.FusedScore = fusedScore(c.VectorScore, c.LexicalScore, alpha)
		fused = append(fused, c)
	}

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].FusedScore != fused[j].FusedScore {
			return fused[i].FusedScore > fused[j].FusedScore
		}
		return fused[i].ChunkID < fused[j].ChunkID
	})

	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}
	return fused
}

// normalizeInPlace 对候选列表的指定分数字段做原地归一化。
func normalizeInPlace(cands []*model.RetrievalCandidate, field func(*model.RetrievalCandidate) *float64) {
	if len(cands) == 0 {
		return
	}
	scores := make([]float64, len(cands))
	for i, c := range cands {
		scores[i] = *field(c)
	}
	for i, s := range minMaxNormalize(scores) {
		*field(cands[i]) = s
	}
}
