package model

// CandidateSource 标记候选块来自哪个索引。
type CandidateSource string

const (
	// SourceVector 仅语义索引返回。
	SourceVector CandidateSource = "vector"
	// SourceLexical 仅关键词索引返回。
	SourceLexical CandidateSource = "lexical"
	// SourceBoth 两个索引均返回。
	SourceBoth CandidateSource = "both"
)

// RetrievalCandidate 表示一次检索中短暂存在的候选文档块。
// 仅在单次检索调用的生命周期内有效。
type RetrievalCandidate struct {
	// ChunkID 文档块 ID。
	ChunkID string `json:"chunk_id"`
	// DocumentID 所属文档 ID。
	DocumentID string `json:"document_id"`
	// DocumentName 文档名称。
	DocumentName string `json:"document_name,omitempty"`
	// Section 所属章节。
	Section string `json:"section,omitempty"`
	// Content 文档内容。
	Content string `json:"content"`
	// VectorScore 归一化后的向量相似度分数。
	VectorScore float64 `json:"vector_score"`
	// LexicalScore 归一化后的关键词匹配分数。
	LexicalScore float64 `json:"lexical_score"`
	// FusedScore 融合分数，由 (vector, lexical, alpha) 纯函数计算。
	FusedScore float64 `json:"fused_score"`
	// Source 候选来源索引。
	Source CandidateSource `json:"source"`
}

// ChunkSource represents source information returned to the caller.
type ChunkSource struct {
	ChunkID      string  `json:"chunk_id"`
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name,omitempty"`
	Section      string  `json:"section,omitempty"`
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
}

// SubAnswer 单个子查询的生成结果。
type SubAnswer struct {
	// Text 子查询文本。
	Text string `json:"text"`
	// Tier 子查询复杂度。
	Tier ComplexityTier `json:"tier"`
	// Answer 生成的答案。
	Answer string `json:"answer"`
	// WorkerUsed 处理该子查询的工作节点 ID。
	WorkerUsed string `json:"worker_used"`
	// CacheHit 是否命中推理结果缓存。
	CacheHit bool `json:"cache_hit"`
}

// QueryResult represents the final response for one query.
type QueryResult struct {
	// Answer 最终答案（拆分查询时为合成结果）。
	Answer string `json:"answer"`
	// Sources 支撑答案的文档块。
	Sources []ChunkSource `json:"sources"`
	// FusedScores 返回给调用方的融合分数（与 Sources 对齐）。
	FusedScores []float64 `json:"fused_scores,omitempty"`
	// CacheHit 父查询是否整体命中缓存。
	CacheHit bool `json:"cache_hit"`
	// Degraded 响应是否在部分失败下产生（单索引检索、缓存不可用等）。
	Degraded bool `json:"degraded"`
	// WorkerUsed 处理请求的工作节点 ID（拆分查询时为合成节点）。
	WorkerUsed string `json:"worker_used,omitempty"`
	// Tier 父查询复杂度。
	Tier ComplexityTier `json:"tier,omitempty"`
	// SubAnswers 拆分查询的各子查询结果。
	SubAnswers []SubAnswer `json:"sub_answers,omitempty"`
}
