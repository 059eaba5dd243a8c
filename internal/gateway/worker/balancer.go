package worker

import (
	"sync/atomic"

	"github.com/kart-io/ragway/pkg/errors"
)

// Strategy 定义节点选择策略。
type Strategy interface {
	// Name 策略名称。
	Name() string
	// Pick 从候选中选择一个节点，候选为空时返回 nil。
	Pick(candidates []*Worker) *Worker
}

// scoreEpsilon 浮点评分的同分判定容差。
const scoreEpsilon = 1e-9

// LeastLoad 最小负载策略。同分节点间按权重轮询，
// 避免冷启动时所有请求压向同一节点。
type LeastLoad struct {
	penalty float64
	rr      atomic.Uint64
}

// NewLeastLoad 创建最小负载策略。
func NewLeastLoad(penalty float64) *LeastLoad {
	return &LeastLoad{penalty: penalty}
}

// Name 策略名称。
func (s *LeastLoad) Name() string { return "least-load" }

// Pick 选择负载评分最低的节点。
func (s *LeastLoad) Pick(candidates []*Worker) *Worker {
	if len(candidates) == 0 {
		return nil
	}

	best := candidates[0].LoadScore(s.penalty)
	ties := []*Worker{candidates[0]}
	for _, w := range candidates[1:] {
		score := w.LoadScore(s.penalty)
		switch {
		case score < best-scoreEpsilon:
			best = score
			ties = ties[:0]
			ties = append(ties, w)
		case score <= best+scoreEpsilon:
			ties = append(ties, w)
		}
	}

	if len(ties) == 1 {
		return ties[0]
	}
	return pickWeighted(ties, s.rr.Add(1)-1)
}

// pickWeighted 按权重轮询从同分节点中选择。
func pickWeighted(workers []*Worker, tick uint64) *Worker {
	total := 0
	for _, w := range workers {
		weight := w.Weight
		if weight <= 0 {
			weight = 1
		}
		total += weight
	}

	slot := int(tick % uint64(total))
	for _, w := range workers {
		weight := w.Weight
		if weight <= 0 {
			weight = 1
		}
		if slot < weight {
			return w
		}
		slot -= weight
	}
	return workers[len(workers)-1]
}

// Balancer 在注册表之上做节点选择。
type Balancer struct {
	registry *Registry
	strategy Strategy

	// degradedRR 全部节点不健康时的全集轮询游标。
	degradedRR atomic.Uint64
}

// NewBalancer 创建均衡器。strategy 为 nil 时使用最小负载策略。
func NewBalancer(registry *Registry, strategy Strategy) *Balancer {
	if strategy == nil {
		strategy = NewLeastLoad(registry.Penalty())
	}
	return &Balancer{
		registry: registry,
		strategy: strategy,
	}
}

// Strategy 当前策略名称。
func (b *Balancer) Strategy() string {
	return b.strategy.Name()
}

// Pick 为指定能力等级选择节点。exclude 中的节点被跳过，
// 用于失败重试时换节点。
//
// 选择顺序：该等级的健康节点、任意健康节点、
// 最后退化为全集轮询（degraded 为 true）。
func (b *Balancer) Pick(class string, exclude ...string) (w *Worker, degraded bool, err error) {
	if b.registry.Len() == 0 {
		return nil, false, errors.ErrWorkerUnavailable
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	candidates := filterExcluded(b.registry.Healthy(class), excluded)
	if len(candidates) == 0 && class != "" {
		candidates = filterExcluded(b.registry.Healthy(""), excluded)
	}
	if picked := b.strategy.Pick(candidates); picked != nil {
		return picked, false, nil
	}

	// 无健康节点时全集轮询，让探测恢复前的请求仍有机会成功。
	all := filterExcluded(b.registry.All(), excluded)
	if len(all) == 0 {
		return nil, false, errors.ErrWorkerUnavailable
	}
	idx := (b.degradedRR.Add(1) - 1) % uint64(len(all))
	return all[idx], true, nil
}

func filterExcluded(workers []*Worker, excluded map[string]struct{}) []*Worker {
	if len(excluded) == 0 {
		return workers
	}
	out := workers[:0:0]
	for _, w := range workers {
		if _, skip := excluded[w.ID]; !skip {
			out = append(out, w)
		}
	}
	return out
}
