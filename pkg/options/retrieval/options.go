// Package retrieval provides hybrid retrieval configuration options.
package retrieval

import (
	"fmt"

	"github.com/kart-io/ragway/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// Options 混合检索配置。
type Options struct {
	// Alpha 向量得分在融合中的权重,融合公式为
	// fused = alpha*vector + (1-alpha)*lexical。
	Alpha float64 `json:"alpha" mapstructure:"alpha"`

	// TopK 最终返回的候选数量。
	TopK int `json:"top-k" mapstructure:"top-k"`

	// OverfetchFactor 每路检索超量拉取的倍数。
	OverfetchFactor int `json:"overfetch-factor" mapstructure:"overfetch-factor"`

	// Collection 向量索引集合名。
	Collection string `json:"collection" mapstructure:"collection"`

	// EmbeddingDim 向量维度。
	EmbeddingDim int `json:"embedding-dim" mapstructure:"embedding-dim"`

	// EnableRerank 是否启用重排序。
	EnableRerank bool `json:"enable-rerank" mapstructure:"enable-rerank"`

	// RerankTopK 重排序后保留的候选数量。
	RerankTopK int `json:"rerank-top-k" mapstructure:"rerank-top-k"`
}

// NewOptions 创建默认混合检索配置。
func NewOptions() *Options {
	return &Options{
		Alpha:           0.7,
		TopK:            5,
		OverfetchFactor: 3,
		Collection:      "ragway_chunks",
		EmbeddingDim:    768, // nomic-embed-text dimension
		EnableRerank:    true,
		RerankTopK:      5,
	}
}

// AddFlags adds flags for retrieval options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.Float64Var(&o.Alpha, options.Join(prefixes...)+"retrieval.alpha", o.Alpha, "Vector score weight in hybrid fusion (0..1).")
	fs.IntVar(&o.TopK, options.Join(prefixes...)+"retrieval.top-k", o.TopK, "Number of candidates to return.")
	fs.IntVar(&o.OverfetchFactor, options.Join(prefixes...)+"retrieval.overfetch-factor", o.OverfetchFactor, "Per-index overfetch multiplier.")
	fs.StringVar(&o.Collection, options.Join(prefixes...)+"retrieval.collection", o.Collection, "Vector index collection name.")
	fs.IntVar(&o.EmbeddingDim, options.Join(prefixes...)+"retrieval.embedding-dim", o.EmbeddingDim, "Embedding vector dimension.")
	fs.BoolVar(&o.EnableRerank, options.Join(prefixes...)+"retrieval.enable-rerank", o.EnableRerank, "Enable result reranking.")
	fs.IntVar(&o.RerankTopK, options.Join(prefixes...)+"retrieval.rerank-top-k", o.RerankTopK, "Number of candidates to keep after reranking.")
}

// Validate validates the retrieval options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Alpha < 0 || o.Alpha > 1 {
		errs = append(errs, fmt.Errorf("alpha must be in [0, 1]"))
	}
	if o.TopK <= 0 {
		errs = append(errs, fmt.Errorf("top-k must be positive"))
	}
	if o.OverfetchFactor <= 0 {
		errs = append(errs, fmt.Errorf("overfetch-factor must be positive"))
	}
	if o.Collection == "" {
		errs = append(errs, fmt.Errorf("collection is required"))
	}
	if o.EmbeddingDim <= 0 {
		errs = append(errs, fmt.Errorf("embedding-dim must be positive"))
	}
	if o.EnableRerank && o.RerankTopK <= 0 {
		errs = append(errs, fmt.Errorf("rerank-top-k must be positive when rerank is enabled"))
	}
	return errs
}
