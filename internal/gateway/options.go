package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	cacheopts "github.com/kart-io/ragway/pkg/options/cache"
	classifieropts "github.com/kart-io/ragway/pkg/options/classifier"
	generationopts "github.com/kart-io/ragway/pkg/options/generation"
	lexicalopts "github.com/kart-io/ragway/pkg/options/lexical"
	llmopts "github.com/kart-io/ragway/pkg/options/llm"
	logopts "github.com/kart-io/ragway/pkg/options/logger"
	milvusopts "github.com/kart-io/ragway/pkg/options/milvus"
	retrievalopts "github.com/kart-io/ragway/pkg/options/retrieval"
	httpopts "github.com/kart-io/ragway/pkg/options/server/http"
	workersopts "github.com/kart-io/ragway/pkg/options/workers"
)

// Options contains all gateway options.
type Options struct {
	// HTTP contains HTTP server configuration.
	HTTP *httpopts.Options `json:"http" mapstructure:"http"`

	// Log contains logger configuration.
	Log *logopts.Options `json:"log" mapstructure:"log"`

	// Milvus contains Milvus database configuration.
	Milvus *milvusopts.Options `json:"milvus" mapstructure:"milvus"`

	// Cache contains tiered cache configuration.
	Cache *cacheopts.Options `json:"cache" mapstructure:"cache"`

	// Lexical contains keyword index configuration.
	Lexical *lexicalopts.Options `json:"lexical" mapstructure:"lexical"`

	// Retrieval contains hybrid retrieval configuration.
	Retrieval *retrievalopts.Options `json:"retrieval" mapstructure:"retrieval"`

	// Classifier contains query classification configuration.
	Classifier *classifieropts.Options `json:"classifier" mapstructure:"classifier"`

	// Workers contains inference worker fleet configuration.
	Workers *workersopts.Options `json:"workers" mapstructure:"workers"`

	// Generation contains answer generation configuration.
	Generation *generationopts.Options `json:"generation" mapstructure:"generation"`

	// Embedding contains embedding provider configuration.
	Embedding *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`

	// Rerank contains the rerank chat provider configuration.
	Rerank *llmopts.ProviderOptions `json:"rerank" mapstructure:"rerank"`

	// ShutdownTimeout 优雅停机等待时长。
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		HTTP:            httpopts.NewOptions(),
		Log:             logopts.NewOptions(),
		Milvus:          milvusopts.NewOptions(),
		Cache:           cacheopts.NewOptions(),
		Lexical:         lexicalopts.NewOptions(),
		Retrieval:       retrievalopts.NewOptions(),
		Classifier:      classifieropts.NewOptions(),
		Workers:         workersopts.NewOptions(),
		Generation:      generationopts.NewOptions(),
		Embedding:       llmopts.NewEmbeddingOptions(),
		Rerank:          llmopts.NewChatOptions(),
		ShutdownTimeout: 15 * time.Second,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	o.HTTP.AddFlags(fs)
	o.Log.AddFlags(fs)
	o.Milvus.AddFlags(fs)
	o.Cache.AddFlags(fs)
	o.Lexical.AddFlags(fs)
	o.Retrieval.AddFlags(fs)
	o.Classifier.AddFlags(fs)
	o.Workers.AddFlags(fs)
	o.Generation.AddFlags(fs)
	o.Embedding.AddFlags(fs, "embedding")
	o.Rerank.AddFlags(fs, "rerank")
	fs.DurationVar(&o.ShutdownTimeout, "shutdown-timeout", o.ShutdownTimeout, "Graceful shutdown timeout.")
}

// Validate validates the options.
func (o *Options) Validate() error {
	var errs []error
	if err := o.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, o.HTTP.Validate()...)
	errs = append(errs, o.Milvus.Validate()...)
	errs = append(errs, o.Cache.Validate()...)
	errs = append(errs, o.Lexical.Validate()...)
	errs = append(errs, o.Retrieval.Validate()...)
	errs = append(errs, o.Classifier.Validate()...)
	errs = append(errs, o.Workers.Validate()...)
	errs = append(errs, o.Generation.Validate()...)
	errs = append(errs, o.Embedding.Validate()...)
	errs = append(errs, o.Rerank.Validate()...)
	if o.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown-timeout must be positive"))
	}

	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// Complete completes the options.
func (o *Options) Complete() error {
	if err := o.HTTP.Complete(); err != nil {
		return err
	}
	if err := o.Cache.Complete(); err != nil {
		return err
	}
	if err := o.Embedding.Complete(); err != nil {
		return err
	}
	return o.Rerank.Complete()
}

// Config converts the options into a server Config.
func (o *Options) Config() *Config {
	return &Config{
		HTTPOptions:       o.HTTP,
		LogOptions:        o.Log,
		MilvusOptions:     o.Milvus,
		CacheOptions:      o.Cache,
		LexicalOptions:    o.Lexical,
		RetrievalOptions:  o.Retrieval,
		ClassifierOptions: o.Classifier,
		WorkersOptions:    o.Workers,
		GenerationOptions: o.Generation,
		EmbeddingOptions:  o.Embedding,
		RerankOptions:     o.Rerank,
		ShutdownTimeout:   o.ShutdownTimeout,
	}
}
