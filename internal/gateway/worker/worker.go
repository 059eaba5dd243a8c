package worker

import (
	"sync"
	"time"

	workersopts "github.com/kart-io/ragway/pkg/options/workers"
)

// sample 一次请求的结果样本。
type sample struct {
	latencyMs float64
	success   bool
}

// Worker 表示一个推理节点及其运行时统计。
type Worker struct {
	// ID 节点唯一标识。
	ID string
	// Address 节点服务地址。
	Address string
	// ModelTag 节点加载的模型标签。
	ModelTag string
	// Class 节点能力等级。
	Class string
	// Weight 调度权重。
	Weight int

	mu      sync.Mutex
	healthy bool

	// samples 固定容量的环形样本窗口。
	samples []sample
	next    int
	filled  int

	consecutiveProbeFailures int
	lastProbeErr             string
	lastProbeAt              time.Time

	totalSuccess int64
	totalFailure int64
}

// newWorker 从静态配置构建节点。新节点默认健康，
// 由监控器的首轮探测修正。
func newWorker(spec workersopts.WorkerSpec, window int) *Worker {
	return &Worker{
		ID:       spec.ID,
		Address:  spec.Address,
		ModelTag: spec.ModelTag,
		Class:    spec.Class,
		Weight:   spec.Weight,
		healthy:  true,
		samples:  make([]sample, window),
	}
}

// Healthy 节点当前是否健康。
func (w *Worker) Healthy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.healthy
}

// recordOutcome 记录一次请求结果到滑动窗口。
func (w *Worker) recordOutcome(latency time.Duration, success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = sample{
		latencyMs: float64(latency.Milliseconds()),
		success:   success,
	}
	w.next = (w.next + 1) % len(w.samples)
	if w.filled < len(w.samples) {
		w.filled++
	}

	if success {
		w.totalSuccess++
	} else {
		w.totalFailure++
	}
}

// recordProbe 记录一次健康探测结果。
// 连续失败达到阈值转为不健康，单次成功立即恢复。
func (w *Worker) recordProbe(err error, failThreshold int) (changed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastProbeAt = time.Now()
	if err == nil {
		w.consecutiveProbeFailures = 0
		w.lastProbeErr = ""
		if !w.healthy {
			w.healthy = true
			return true
		}
		return false
	}

	w.consecutiveProbeFailures++
	w.lastProbeErr = err.Error()
	if w.healthy && w.consecutiveProbeFailures >= failThreshold {
		w.healthy = false
		return true
	}
	return false
}

// loadScoreLocked 计算负载评分。窗口为空时返回中性评分 0，
// 新节点不会因缺少样本被排挤或偏爱。
func (w *Worker) loadScoreLocked(penalty float64) float64 {
	if w.filled == 0 {
		return 0
	}

	var latencySum float64
	var failures int
	for i := 0; i < w.filled; i++ {
		s := w.samples[i]
		latencySum += s.latencyMs
		if !s.success {
			failures++
		}
	}

	avgLatency := latencySum / float64(w.filled)
	failRate := float64(failures) / float64(w.filled)
	return avgLatency + failRate*penalty
}

// LoadScore 计算当前负载评分。
func (w *Worker) LoadScore(penalty float64) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loadScoreLocked(penalty)
}

// Info 节点状态快照，用于对外暴露。
type Info struct {
	ID           string  `json:"id"`
	Address      string  `json:"address"`
	ModelTag     string  `json:"model_tag,omitempty"`
	Class        string  `json:"class,omitempty"`
	Weight       int     `json:"weight"`
	Healthy      bool    `json:"healthy"`
	LoadScore    float64 `json:"load_score"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	FailRate     float64 `json:"fail_rate"`
	Samples      int     `json:"samples"`
	TotalSuccess int64   `json:"total_success"`
	TotalFailure int64   `json:"total_failure"`

	ProbeFailures int    `json:"probe_failures"`
	LastProbeErr  string `json:"last_probe_error,omitempty"`
	LastProbeAt   string `json:"last_probe_at,omitempty"`
}

// Snapshot 导出节点状态快照。
func (w *Worker) Snapshot(penalty float64) Info {
	w.mu.Lock()
	defer w.mu.Unlock()

	var latencySum float64
	var failures int
	for i := 0; i < w.filled; i++ {
		latencySum += w.samples[i].latencyMs
		if !w.samples[i].success {
			failures++
		}
	}

	info := Info{
		ID:            w.ID,
		Address:       w.Address,
		ModelTag:      w.ModelTag,
		Class:         w.Class,
		Weight:        w.Weight,
		Healthy:       w.healthy,
		LoadScore:     w.loadScoreLocked(penalty),
		Samples:       w.filled,
		TotalSuccess:  w.totalSuccess,
		TotalFailure:  w.totalFailure,
		ProbeFailures: w.consecutiveProbeFailures,
		LastProbeErr:  w.lastProbeErr,
	}
	if w.filled > 0 {
		info.AvgLatencyMs = latencySum / float64(w.filled)
		info.FailRate = float64(failures) / float64(w.filled)
	}
	if !w.lastProbeAt.IsZero() {
		info.LastProbeAt = w.lastProbeAt.Format(time.RFC3339)
	}
	return info
}
