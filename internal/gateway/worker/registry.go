package worker

import (
	"sort"
	"sync"
	"time"

	"github.com/kart-io/ragway/pkg/errors"
	workersopts "github.com/kart-io/ragway/pkg/options/workers"
)

// Registry 推理节点注册表。节点集合在启动时由配置确定，
// 运行期只更新健康状态与统计。
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*Worker
	order   []string

	penalty       float64
	failThreshold int
}

// NewRegistry 从配置构建注册表。
func NewRegistry(opts *workersopts.Options) (*Registry, error) {
	specs, err := opts.Specs()
	if err != nil {
		return nil, errors.ErrConfigInvalid.WithCause(err)
	}

	r := &Registry{
		workers:       make(map[string]*Worker, len(specs)),
		order:         make([]string, 0, len(specs)),
		penalty:       opts.FailurePenalty,
		failThreshold: opts.FailThreshold,
	}
	for _, spec := range specs {
		r.workers[spec.ID] = newWorker(spec, opts.LatencyWindow)
		r.order = append(r.order, spec.ID)
	}
	return r, nil
}

// Get 按 ID 查找节点。
func (r *Registry) Get(id string) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	return w, ok
}

// All 返回全部节点，顺序与配置一致。
func (r *Registry) All() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Worker, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.workers[id])
	}
	return out
}

// Healthy 返回健康节点。class 非空时只返回该等级的节点。
func (r *Registry) Healthy(class string) []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Worker, 0, len(r.order))
	for _, id := range r.order {
		w := r.workers[id]
		if !w.Healthy() {
			continue
		}
		if class != "" && w.Class != class {
			continue
		}
		out = append(out, w)
	}
	return out
}

// Len 注册节点数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// ReportOutcome 记录某节点一次请求结果。未知节点忽略。
func (r *Registry) ReportOutcome(id string, latency time.Duration, success bool) {
	if w, ok := r.Get(id); ok {
		w.recordOutcome(latency, success)
	}
}

// ReportProbe 记录某节点一次探测结果，返回健康状态是否翻转。
func (r *Registry) ReportProbe(id string, err error) bool {
	w, ok := r.Get(id)
	if !ok {
		return false
	}
	return w.recordProbe(err, r.failThreshold)
}

// Penalty 负载评分中的失败率惩罚系数。
func (r *Registry) Penalty() float64 {
	return r.penalty
}

// Snapshot 导出全部节点的状态快照，按 ID 排序。
func (r *Registry) Snapshot() []Info {
	workers := r.All()

	infos := make([]Info, 0, len(workers))
	for _, w := range workers {
		infos = append(infos, w.Snapshot(r.penalty))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
