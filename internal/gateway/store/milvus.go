package store

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/kart-io/ragway/internal/model"
	"github.com/kart-io/ragway/pkg/component/milvus"
)

// MilvusIndex 实现基于 Milvus 的语义索引。
type MilvusIndex struct {
	client *milvus.Client
}

// NewMilvusIndex 创建 Milvus 语义索引实例。
func NewMilvusIndex(client *milvus.Client) *MilvusIndex {
	return &MilvusIndex{client: client}
}

// EnsureCollection 创建 Milvus 集合，已存在时为空操作。
func (s *MilvusIndex) EnsureCollection(ctx context.Context, config *CollectionConfig) error {
	schema := &milvus.CollectionSchema{
		Name:        config.Name,
		Description: config.Description,
		Dimension:   config.Dimension,
		MetaFields: []milvus.MetaField{
			{Name: "chunk_id", DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: "document_id", DataType: entity.FieldTypeVarChar, MaxLen: 64},
			{Name: "document_name", DataType: entity.FieldTypeVarChar, MaxLen: 255},
			{Name: "section", DataType: entity.FieldTypeVarChar, MaxLen: 255},
			{Name: "content", DataType: entity.FieldTypeVarChar, MaxLen: 65535},
		},
	}
	return s.client.CreateCollection(ctx, schema)
}

// Index 批量写入文档块到 Milvus。
func (s *MilvusIndex) Index(ctx context.Context, collection string, chunks []*Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, len(chunks))
	metadata := map[string][]any{
		"chunk_id":      make([]any, len(chunks)),
		"document_id":   make([]any, len(chunks)),
		"document_name": make([]any, len(chunks)),
		"section":       make([]any, len(chunks)),
		"content":       make([]any, len(chunks)),
	}

	for i, chunk := range chunks {
		embeddings[i] = chunk.Embedding
		metadata["chunk_id"][i] = chunk.ID
		metadata["document_id"][i] = chunk.DocumentID
		metadata["document_name"][i] = chunk.DocumentName
		metadata["section"][i] = chunk.Section
		metadata["content"][i] = chunk.Content
	}

	data := &milvus.InsertData{
		Embeddings: embeddings,
		Metadata:   metadata,
	}

	ids, err := s.client.Insert(ctx, collection, data)
	if err != nil {
		return nil, fmt.Errorf("failed to insert into milvus: %w", err)
	}

	stringIDs := make([]string, len(ids))
	for i, id := range ids {
		stringIDs[i] = fmt.Sprintf("%d", id)
	}

	return stringIDs, nil
}

// Search 执行向量相似度搜索。
func (s *MilvusIndex) Search(ctx context.Context, collection string, embedding []float32, topK int) ([]*model.RetrievalCandidate, error) {
	outputFields := []string{"chunk_id", "document_id", "document_name", "section", "content"}
	results, err := s.client.Search(ctx, collection, embedding, topK, outputFields)
	if err != nil {
		return nil, fmt.Errorf("failed to search milvus: %w", err)
	}

	candidates := make([]*model.RetrievalCandidate, 0, len(results))
	for _, r := range results {
		c := &model.RetrievalCandidate{
			// L2 距离越小越相似，转为越大越好的分数。
			VectorScore: 1.0 / (1.0 + float64(r.Score)),
			Source:      model.SourceVector,
		}
		if v, ok := r.Metadata["chunk_id"].(string); ok {
			c.ChunkID = v
		}
		if v, ok := r.Metadata["document_id"].(string); ok {
			c.DocumentID = v
		}
		if v, ok := r.Metadata["document_name"].(string); ok {
			c.DocumentName = v
		}
		if v, ok := r.Metadata["section"].(string); ok {
			c.Section = v
		}
		if v, ok := r.Metadata["content"].(string); ok {
			c.Content = v
		}
		if c.ChunkID == "" {
			c.ChunkID = fmt.Sprintf("%d", r.ID)
		}
		candidates = append(candidates, c)
	}

	return candidates, nil
}

// Stats 获取集合统计信息。
func (s *MilvusIndex) Stats(ctx context.Context, collection string) (int64, error) {
	return s.client.GetCollectionStats(ctx, collection)
}

// Close 关闭 Milvus 连接。
func (s *MilvusIndex) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// 确保 MilvusIndex 实现了 VectorIndex 接口。
var _ VectorIndex = (*MilvusIndex)(nil)
