package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/kart-io/ragway/internal/model"
	lexicalopts "github.com/kart-io/ragway/pkg/options/lexical"
)

// BleveIndex 实现基于 Bleve 的关键词索引。
type BleveIndex struct {
	index     bleve.Index
	batchSize int
}

// NewBleveIndex 创建关键词索引实例。
// Path 为空时使用纯内存索引，否则打开或创建磁盘索引。
func NewBleveIndex(opts *lexicalopts.Options) (*BleveIndex, error) {
	if opts == nil {
		opts = lexicalopts.NewOptions()
	}

	m := buildIndexMapping()

	var (
		idx bleve.Index
		err error
	)
	if opts.Path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		idx, err = bleve.Open(opts.Path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			idx, err = bleve.New(opts.Path, m)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open lexical index: %w", err)
	}

	return &BleveIndex{
		index:     idx,
		batchSize: opts.BatchSize,
	}, nil
}

// buildIndexMapping 构建索引映射，仅 content 参与全文检索，
// 其余字段按原样存储用于结果回填。
func buildIndexMapping() mapping.IndexMapping {
	textField := bleve.NewTextFieldMapping()
	textField.Store = true
	textField.IncludeTermVectors = false

	storedField := bleve.NewKeywordFieldMapping()
	storedField.Store = true
	storedField.Index = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("content", textField)
	docMapping.AddFieldMappingsAt("document_id", storedField)
	docMapping.AddFieldMappingsAt("document_name", storedField)
	docMapping.AddFieldMappingsAt("section", storedField)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = docMapping
	return m
}

// Index 批量写入文档块，按 batchSize 分批提交。
func (s *BleveIndex) Index(_ context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := s.index.NewBatch()
	for i, chunk := range chunks {
		doc := map[string]interface{}{
			"document_id":   chunk.DocumentID,
			"document_name": chunk.DocumentName,
			"section":       chunk.Section,
			"content":       chunk.Content,
		}
		if err := batch.Index(chunk.ID, doc); err != nil {
			return fmt.Errorf("failed to batch chunk %s: %w", chunk.ID, err)
		}

		if batch.Size() >= s.batchSize || i == len(chunks)-1 {
			if err := s.index.Batch(batch); err != nil {
				return fmt.Errorf("failed to commit lexical batch: %w", err)
			}
			batch = s.index.NewBatch()
		}
	}

	return nil
}

// Search 执行关键词匹配搜索。
func (s *BleveIndex) Search(ctx context.Context, query string, topK int) ([]*model.RetrievalCandidate, error) {
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(q, topK, 0, false)
	req.Fields = []string{"document_id", "document_name", "section", "content"}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search lexical index: %w", err)
	}

	candidates := make([]*model.RetrievalCandidate, 0, len(res.Hits))
	for _, hit := range res.Hits {
		c := &model.RetrievalCandidate{
			ChunkID:      hit.ID,
			LexicalScore: hit.Score,
			Source:       model.SourceLexical,
		}
		if v, ok := hit.Fields["document_id"].(string); ok {
			c.DocumentID = v
		}
		if v, ok := hit.Fields["document_name"].(string); ok {
			c.DocumentName = v
		}
		if v, ok := hit.Fields["section"].(string); ok {
			c.Section = v
		}
		if v, ok := hit.Fields["content"].(string); ok {
			c.Content = v
		}
		candidates = append(candidates, c)
	}

	return candidates, nil
}

// Count 获取索引内文档数量。
func (s *BleveIndex) Count() (uint64, error) {
	return s.index.DocCount()
}

// Close 关闭索引。
func (s *BleveIndex) Close() error {
	return s.index.Close()
}

// 确保 BleveIndex 实现了 LexicalIndex 接口。
var _ LexicalIndex = (*BleveIndex)(nil)
