package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/ragway/pkg/infra/pool"
	workersopts "github.com/kart-io/ragway/pkg/options/workers"
)

// Prober 探测单个节点的可用性。
type Prober interface {
	Probe(ctx context.Context, w *Worker) error
}

// HTTPProber 通过 HTTP GET 探测节点。推理节点暴露
// Ollama 兼容接口，/api/tags 可作为轻量健康端点。
type HTTPProber struct {
	client *http.Client
	path   string
}

// NewHTTPProber 创建 HTTP 探测器。
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{Timeout: timeout},
		path:   "/api/tags",
	}
}

// Probe 执行一次探测。
func (p *HTTPProber) Probe(ctx context.Context, w *Worker) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.Address+p.path, nil)
	if err != nil {
		return fmt.Errorf("创建探测请求失败: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("探测失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("节点不可用，状态码 %d", resp.StatusCode)
	}
	return nil
}

// Monitor 周期性探测注册表内的节点。
type Monitor struct {
	registry *Registry
	prober   Prober
	opts     *workersopts.Options

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewMonitor 创建健康监控器。prober 为 nil 时使用 HTTP 探测器。
func NewMonitor(registry *Registry, prober Prober, opts *workersopts.Options) *Monitor {
	if prober == nil {
		prober = NewHTTPProber(opts.ProbeTimeout)
	}
	return &Monitor{
		registry: registry,
		prober:   prober,
		opts:     opts,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start 启动监控循环。立即执行首轮探测，之后按间隔触发。
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		defer close(m.doneCh)

		ticker := time.NewTicker(m.opts.ProbeInterval)
		defer ticker.Stop()

		m.probeAll(ctx)
		for {
			select {
			case <-ticker.C:
				m.probeAll(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop 停止监控循环并等待退出。
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
}

// probeAll 并发探测全部节点，探测任务提交到健康检查协程池。
func (m *Monitor) probeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range m.registry.All() {
		w := w
		wg.Add(1)
		task := func() {
			defer wg.Done()
			m.probeOne(ctx, w)
		}
		if err := pool.SubmitToType(pool.HealthCheckPool, task); err != nil {
			// 协程池不可用时降级为同步探测。
			task()
		}
	}
	wg.Wait()
}

func (m *Monitor) probeOne(ctx context.Context, w *Worker) {
	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()

	err := m.prober.Probe(probeCtx, w)
	if m.registry.ReportProbe(w.ID, err) {
		if err != nil {
			logger.Warnw("worker marked unhealthy",
				"worker", w.ID,
				"address", w.Address,
				"error", err.Error(),
			)
		} else {
			logger.Infow("worker recovered", "worker", w.ID, "address", w.Address)
		}
	}
}
