// Package workers provides inference worker pool configuration options.
package workers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kart-io/ragway/pkg/options"
	"github.com/spf13/pflag"
)

var _ options.IOptions = (*Options)(nil)

// WorkerSpec 描述一个静态配置的推理节点。
type WorkerSpec struct {
	// ID 节点唯一标识。
	ID string `json:"id" mapstructure:"id"`

	// Address 节点服务地址（http://host:port）。
	Address string `json:"address" mapstructure:"address"`

	// ModelTag 节点加载的模型标签。
	ModelTag string `json:"model-tag" mapstructure:"model-tag"`

	// Class 节点能力等级（simple/moderate/complex）。
	Class string `json:"class" mapstructure:"class"`

	// Weight 调度权重，用于同分节点间的轮询倾斜。
	Weight int `json:"weight" mapstructure:"weight"`
}

// Options 推理节点池配置。
type Options struct {
	// Endpoints 节点定义列表,每项格式:
	// "id=w1;address=http://host:11434;model=llama3:8b;class=complex;weight=2"
	Endpoints []string `json:"endpoints" mapstructure:"endpoints"`

	// ProbeInterval 健康探测间隔。
	ProbeInterval time.Duration `json:"probe-interval" mapstructure:"probe-interval"`

	// ProbeTimeout 单次探测超时。
	ProbeTimeout time.Duration `json:"probe-timeout" mapstructure:"probe-timeout"`

	// FailThreshold 连续探测失败多少次后标记为不健康。
	FailThreshold int `json:"fail-threshold" mapstructure:"fail-threshold"`

	// FailurePenalty 失败率在负载评分中的惩罚系数。
	FailurePenalty float64 `json:"failure-penalty" mapstructure:"failure-penalty"`

	// LatencyWindow 延迟滑动窗口的样本数。
	LatencyWindow int `json:"latency-window" mapstructure:"latency-window"`
}

// NewOptions 创建默认推理节点池配置。
func NewOptions() *Options {
	return &Options{
		ProbeInterval:  30 * time.Second,
		ProbeTimeout:   5 * time.Second,
		FailThreshold:  3,
		FailurePenalty: 1000,
		LatencyWindow:  64,
	}
}

// AddFlags adds flags for worker pool options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringSliceVar(&o.Endpoints, options.Join(prefixes...)+"workers.endpoints", o.Endpoints,
		"Worker definitions, each 'id=w1;address=http://host:port;model=tag;class=complex;weight=1'.")
	fs.DurationVar(&o.ProbeInterval, options.Join(prefixes...)+"workers.probe-interval", o.ProbeInterval, "Health probe interval.")
	fs.DurationVar(&o.ProbeTimeout, options.Join(prefixes...)+"workers.probe-timeout", o.ProbeTimeout, "Per-probe timeout.")
	fs.IntVar(&o.FailThreshold, options.Join(prefixes...)+"workers.fail-threshold", o.FailThreshold, "Consecutive probe failures before a worker is marked unhealthy.")
	fs.Float64Var(&o.FailurePenalty, options.Join(prefixes...)+"workers.failure-penalty", o.FailurePenalty, "Failure rate penalty factor in the load score.")
	fs.IntVar(&o.LatencyWindow, options.Join(prefixes...)+"workers.latency-window", o.LatencyWindow, "Sample count of the sliding latency window.")
}

// Validate validates the worker pool options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if len(o.Endpoints) == 0 {
		errs = append(errs, fmt.Errorf("at least one worker endpoint is required"))
	}
	if _, err := o.Specs(); err != nil {
		errs = append(errs, err)
	}
	if o.ProbeInterval <= 0 {
		errs = append(errs, fmt.Errorf("probe-interval must be positive"))
	}
	if o.FailThreshold <= 0 {
		errs = append(errs, fmt.Errorf("fail-threshold must be positive"))
	}
	if o.FailurePenalty < 0 {
		errs = append(errs, fmt.Errorf("failure-penalty must be non-negative"))
	}
	if o.LatencyWindow <= 0 {
		errs = append(errs, fmt.Errorf("latency-window must be positive"))
	}
	return errs
}

// Specs 解析 Endpoints 为 WorkerSpec 列表。
func (o *Options) Specs() ([]WorkerSpec, error) {
	specs := make([]WorkerSpec, 0, len(o.Endpoints))
	seen := make(map[string]struct{}, len(o.Endpoints))

	for _, raw := range o.Endpoints {
		spec := WorkerSpec{Weight: 1}
		for _, kv := range strings.Split(raw, ";") {
			kv = strings.TrimSpace(kv)
			if kv == "" {
				continue
			}
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				return nil, fmt.Errorf("invalid worker endpoint field %q in %q", kv, raw)
			}
			switch key {
			case "id":
				spec.ID = value
			case "address":
				spec.Address = value
			case "model":
				spec.ModelTag = value
			case "class":
				spec.Class = value
			case "weight":
				w, err := strconv.Atoi(value)
				if err != nil || w <= 0 {
					return nil, fmt.Errorf("invalid worker weight %q in %q", value, raw)
				}
				spec.Weight = w
			default:
				return nil, fmt.Errorf("unknown worker endpoint field %q in %q", key, raw)
			}
		}
		if spec.ID == "" || spec.Address == "" {
			return nil, fmt.Errorf("worker endpoint %q must define id and address", raw)
		}
		if _, dup := seen[spec.ID]; dup {
			return nil, fmt.Errorf("duplicate worker id %q", spec.ID)
		}
		seen[spec.ID] = struct{}{}
		specs = append(specs, spec)
	}
	return specs, nil
}
