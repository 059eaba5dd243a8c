package store

import (
	"context"

	"github.com/kart-io/ragway/internal/model"
)

// Chunk 表示被索引的文档块。
type Chunk struct {
	// ID 文档块 ID。
	ID string
	// DocumentID 所属文档 ID。
	DocumentID string
	// DocumentName 文档名称。
	DocumentName string
	// Section 所属章节。
	Section string
	// Content 文档内容。
	Content string
	// Embedding 嵌入向量，仅向量索引使用。
	Embedding []float32
}

// CollectionConfig 向量集合配置。
type CollectionConfig struct {
	// Name 集合名称。
	Name string
	// Description 集合描述。
	Description string
	// Dimension 向量维度。
	Dimension int
}

// VectorIndex 定义语义索引接口。
//
// Search 返回的候选分数为原始相似度（越大越相似），
// 归一化由检索端统一处理。
type VectorIndex interface {
	// EnsureCollection 创建集合，已存在时为空操作。
	EnsureCollection(ctx context.Context, config *CollectionConfig) error

	// Index 批量写入文档块。
	Index(ctx context.Context, collection string, chunks []*Chunk) ([]string, error)

	// Search 向量相似度搜索。
	Search(ctx context.Context, collection string, embedding []float32, topK int) ([]*model.RetrievalCandidate, error)

	// Stats 获取集合内实体数量。
	Stats(ctx context.Context, collection string) (int64, error)

	// Close 关闭连接。
	Close(ctx context.Context) error
}

// LexicalIndex 定义关键词索引接口。
type LexicalIndex interface {
	// Index 批量写入文档块。
	Index(ctx context.Context, chunks []*Chunk) error

	// Search 关键词匹配搜索。
	Search(ctx context.Context, query string, topK int) ([]*model.RetrievalCandidate, error)

	// Count 获取索引内文档数量。
	Count() (uint64, error)

	// Close 关闭索引。
	Close() error
}

// Reranker 定义融合后的重排序扩展点。
//
// 实现方失败时调用端回退到融合排序，不视为检索失败。
type Reranker interface {
	// Rerank 对候选重新排序并截断到 topK。
	Rerank(ctx context.Context, query string, candidates []*model.RetrievalCandidate, topK int) ([]*model.RetrievalCandidate, error)
}
