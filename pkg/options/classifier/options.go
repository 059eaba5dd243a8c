// Package classifier provides query classification and decomposition options.
package classifier

import (
	"fmt"

	"github.com/kart-io/ragway/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// Options 查询分类与分解配置。
// 分类信号全部由配置驱动,便于按语料调整而无需改代码。
type Options struct {
	// SimpleMaxTokens 词元数低于该值倾向判为 simple。
	SimpleMaxTokens int `json:"simple-max-tokens" mapstructure:"simple-max-tokens"`

	// ModerateMaxTokens 词元数不超过该值且无复杂信号时判为 moderate。
	ModerateMaxTokens int `json:"moderate-max-tokens" mapstructure:"moderate-max-tokens"`

	// ComplexKeywords 出现即判为 complex 的关键词。
	ComplexKeywords []string `json:"complex-keywords" mapstructure:"complex-keywords"`

	// Connectives 连接词,同时作为分解切分点。
	Connectives []string `json:"connectives" mapstructure:"connectives"`

	// ClassMap 复杂度到工作节点类别的静态映射表。
	ClassMap map[string]string `json:"class-map" mapstructure:"class-map"`

	// MaxSubQueries 分解产生的子查询上限。
	MaxSubQueries int `json:"max-sub-queries" mapstructure:"max-sub-queries"`

	// FanOut 子查询并发执行的上限。
	FanOut int `json:"fan-out" mapstructure:"fan-out"`
}

// NewOptions 创建默认分类配置。
func NewOptions() *Options {
	return &Options{
		SimpleMaxTokens:   10,
		ModerateMaxTokens: 30,
		ComplexKeywords: []string{
			"compare", "contrast", "difference", "versus", "explain why",
			"step by step", "trade-off", "pros and cons",
		},
		Connectives: []string{"and", "also", "as well as", "then", "furthermore"},
		ClassMap: map[string]string{
			"simple":   "simple",
			"moderate": "moderate",
			"complex":  "complex",
		},
		MaxSubQueries: 5,
		FanOut:        3,
	}
}

// AddFlags adds flags for classifier options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.IntVar(&o.SimpleMaxTokens, options.Join(prefixes...)+"classifier.simple-max-tokens", o.SimpleMaxTokens, "Token count below which a query leans simple.")
	fs.IntVar(&o.ModerateMaxTokens, options.Join(prefixes...)+"classifier.moderate-max-tokens", o.ModerateMaxTokens, "Token count at or below which a query without complex signals is moderate.")
	fs.StringSliceVar(&o.ComplexKeywords, options.Join(prefixes...)+"classifier.complex-keywords", o.ComplexKeywords, "Keywords that mark a query as complex.")
	fs.StringSliceVar(&o.Connectives, options.Join(prefixes...)+"classifier.connectives", o.Connectives, "Connectives used as classification signals and decomposition split points.")
	fs.StringToStringVar(&o.ClassMap, options.Join(prefixes...)+"classifier.class-map", o.ClassMap, "Static complexity-tier to worker-class mapping.")
	fs.IntVar(&o.MaxSubQueries, options.Join(prefixes...)+"classifier.max-sub-queries", o.MaxSubQueries, "Maximum sub-queries produced by decomposition.")
	fs.IntVar(&o.FanOut, options.Join(prefixes...)+"classifier.fan-out", o.FanOut, "Concurrency limit for sub-query execution.")
}

// Validate validates the classifier options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.SimpleMaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("simple-max-tokens must be positive"))
	}
	if o.ModerateMaxTokens <= o.SimpleMaxTokens {
		errs = append(errs, fmt.Errorf("moderate-max-tokens must be greater than simple-max-tokens"))
	}
	for _, tier := range []string{"simple", "moderate", "complex"} {
		if o.ClassMap[tier] == "" {
			errs = append(errs, fmt.Errorf("class-map must define a worker class for tier %q", tier))
		}
	}
	if o.MaxSubQueries <= 0 {
		errs = append(errs, fmt.Errorf("max-sub-queries must be positive"))
	}
	if o.FanOut <= 0 {
		errs = append(errs, fmt.Errorf("fan-out must be positive"))
	}
	return errs
}
