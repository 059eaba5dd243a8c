// Package generation provides answer generation configuration options.
package generation

import (
	"fmt"
	"strings"
	"time"

	"github.com/kart-io/ragway/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// DefaultSystemPrompt 默认生成提示词模板。
const DefaultSystemPrompt = `You are a helpful assistant answering questions based on the provided context.

Context:
{{context}}

Question: {{question}}

Answer based only on the context above. If the context does not contain the answer, say so.`

// Options 答案生成配置。
type Options struct {
	// SystemPrompt 提示词模板，{{context}} 与 {{question}} 为占位符。
	SystemPrompt string `json:"system-prompt" mapstructure:"system-prompt"`

	// Timeout 单次生成的超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxAttempts 单个子查询的最大派发次数（首次 + 换节点重试）。
	MaxAttempts int `json:"max-attempts" mapstructure:"max-attempts"`

	// RequestTimeout 入站请求的整体预算。
	RequestTimeout time.Duration `json:"request-timeout" mapstructure:"request-timeout"`
}

// NewOptions 创建默认答案生成配置。
func NewOptions() *Options {
	return &Options{
		SystemPrompt:   DefaultSystemPrompt,
		Timeout:        60 * time.Second,
		MaxAttempts:    3,
		RequestTimeout: 60 * time.Second,
	}
}

// AddFlags adds flags for generation options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.SystemPrompt, options.Join(prefixes...)+"generation.system-prompt", o.SystemPrompt, "Prompt template with {{context}} and {{question}} placeholders.")
	fs.DurationVar(&o.Timeout, options.Join(prefixes...)+"generation.timeout", o.Timeout, "Per-generation timeout.")
	fs.IntVar(&o.MaxAttempts, options.Join(prefixes...)+"generation.max-attempts", o.MaxAttempts, "Maximum dispatch attempts per sub-query.")
	fs.DurationVar(&o.RequestTimeout, options.Join(prefixes...)+"generation.request-timeout", o.RequestTimeout, "Overall deadline for one inbound request.")
}

// Validate validates the generation options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if !strings.Contains(o.SystemPrompt, "{{question}}") {
		errs = append(errs, fmt.Errorf("system-prompt must contain the {{question}} placeholder"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive"))
	}
	if o.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("max-attempts must be positive"))
	}
	if o.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request-timeout must be positive"))
	}
	return errs
}
