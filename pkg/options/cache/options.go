// Package cache provides tiered cache configuration options.
package cache

import (
	"fmt"
	"time"

	"github.com/kart-io/ragway/pkg/options"
	redisopts "github.com/kart-io/ragway/pkg/options/redis"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// Options 分层缓存配置。
// 三层分别缓存查询向量、完整回答与检索候选。
type Options struct {
	// Enabled 是否启用缓存。
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// KeyPrefix 缓存键前缀。
	KeyPrefix string `json:"key-prefix" mapstructure:"key-prefix"`

	// EmbeddingTTL 查询向量层的过期时间。
	EmbeddingTTL time.Duration `json:"embedding-ttl" mapstructure:"embedding-ttl"`

	// InferenceTTL 完整回答层的过期时间。
	InferenceTTL time.Duration `json:"inference-ttl" mapstructure:"inference-ttl"`

	// MetadataTTL 检索候选层的过期时间。
	MetadataTTL time.Duration `json:"metadata-ttl" mapstructure:"metadata-ttl"`

	// DegradedLogWindow 后端故障降级日志的去重窗口。
	DegradedLogWindow time.Duration `json:"degraded-log-window" mapstructure:"degraded-log-window"`

	// Redis Redis 连接配置。
	Redis *redisopts.Options `json:"redis" mapstructure:"redis"`
}

// NewOptions 创建默认分层缓存配置。
func NewOptions() *Options {
	return &Options{
		Enabled:           true,
		KeyPrefix:         "ragway:",
		EmbeddingTTL:      24 * time.Hour,
		InferenceTTL:      1 * time.Hour,
		MetadataTTL:       10 * time.Minute,
		DegradedLogWindow: 30 * time.Second,
		Redis:             redisopts.NewOptions(),
	}
}

// AddFlags adds flags for cache options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, options.Join(prefixes...)+"cache.enabled", o.Enabled, "Enable the tiered cache.")
	fs.StringVar(&o.KeyPrefix, options.Join(prefixes...)+"cache.key-prefix", o.KeyPrefix, "Cache key prefix.")
	fs.DurationVar(&o.EmbeddingTTL, options.Join(prefixes...)+"cache.embedding-ttl", o.EmbeddingTTL, "TTL for the query embedding tier.")
	fs.DurationVar(&o.InferenceTTL, options.Join(prefixes...)+"cache.inference-ttl", o.InferenceTTL, "TTL for the full-answer tier.")
	fs.DurationVar(&o.MetadataTTL, options.Join(prefixes...)+"cache.metadata-ttl", o.MetadataTTL, "TTL for the retrieval candidate tier.")
	fs.DurationVar(&o.DegradedLogWindow, options.Join(prefixes...)+"cache.degraded-log-window", o.DegradedLogWindow, "Dedup window for backend degradation logs.")

	if o.Redis == nil {
		o.Redis = redisopts.NewOptions()
	}
	o.Redis.AddFlags(fs, prefixes...)
}

// Validate validates the cache options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Enabled {
		if o.EmbeddingTTL <= 0 || o.InferenceTTL <= 0 || o.MetadataTTL <= 0 {
			errs = append(errs, fmt.Errorf("cache tier TTLs must be positive"))
		}
		if o.DegradedLogWindow <= 0 {
			errs = append(errs, fmt.Errorf("degraded-log-window must be positive"))
		}
		if o.Redis != nil {
			if err := o.Redis.Validate(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}

// Complete completes the cache options with defaults.
func (o *Options) Complete() error {
	if o.Redis == nil {
		o.Redis = redisopts.NewOptions()
	}
	return o.Redis.Complete()
}
