// Package metrics 提供查询网关的业务指标收集。
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// GatewayMetrics 查询网关业务指标。
type GatewayMetrics struct {
	// 查询指标
	queriesTotal       uint64 // 总查询次数
	queriesCacheHits   uint64 // 回答缓存命中次数
	queriesCacheMisses uint64 // 回答缓存未命中次数
	queriesErrors      uint64 // 查询错误次数
	queriesTimeouts    uint64 // 查询超时次数
	queriesDegraded    uint64 // 降级响应次数

	// 分类指标
	tierSimple   uint64 // simple 级查询数
	tierModerate uint64 // moderate 级查询数
	tierComplex  uint64 // complex 级查询数

	// 拆分指标
	decompositions  uint64 // 被拆分的查询数
	subQueriesTotal uint64 // 产生的子查询总数

	// 检索指标
	retrievalTotal    uint64  // 总检索次数
	retrievalDuration float64 // 检索总耗时（秒）
	retrievalErrors   uint64  // 检索错误次数
	retrievalDegraded uint64  // 单索引降级检索次数

	// 生成指标
	generationTotal    uint64  // 推理调用总次数
	generationDuration float64 // 推理总耗时（秒）
	generationErrors   uint64  // 推理错误次数
	generationRetries  uint64  // 换节点重试次数

	// 流式指标
	streamsTotal  uint64 // 流式会话总数
	streamsActive int64  // 当前活跃流式会话数

	startTime  time.Time
	durationMu sync.Mutex
}

var (
	globalMetrics *GatewayMetrics
	metricsOnce   sync.Once
)

// Get 获取全局网关指标实例。
func Get() *GatewayMetrics {
	metricsOnce.Do(func() {
		globalMetrics = &GatewayMetrics{startTime: time.Now()}
	})
	return globalMetrics
}

// RecordQuery 记录一次查询结果。
func (m *GatewayMetrics) RecordQuery(cacheHit, degraded bool, err error) {
	atomic.AddUint64(&m.queriesTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.queriesErrors, 1)
		return
	}
	if cacheHit {
		atomic.AddUint64(&m.queriesCacheHits, 1)
	} else {
		atomic.AddUint64(&m.queriesCacheMisses, 1)
	}
	if degraded {
		atomic.AddUint64(&m.queriesDegraded, 1)
	}
}

// RecordTimeout 记录一次查询超时。
func (m *GatewayMetrics) RecordTimeout() {
	atomic.AddUint64(&m.queriesTimeouts, 1)
}

// RecordTier 记录查询复杂度分级。
func (m *GatewayMetrics) RecordTier(tier string) {
	switch tier {
	case "simple":
		atomic.AddUint64(&m.tierSimple, 1)
	case "moderate":
		atomic.AddUint64(&m.tierModerate, 1)
	case "complex":
		atomic.AddUint64(&m.tierComplex, 1)
	}
}

// RecordDecomposition 记录一次查询拆分。
func (m *GatewayMetrics) RecordDecomposition(subQueries int) {
	atomic.AddUint64(&m.decompositions, 1)
	atomic.AddUint64(&m.subQueriesTotal, uint64(subQueries))
}

// RecordRetrieval 记录一次检索。degraded 表示只有单索引可用。
func (m *GatewayMetrics) RecordRetrieval(duration time.Duration, degraded bool, err error) {
	atomic.AddUint64(&m.retrievalTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.retrievalErrors, 1)
		return
	}
	if degraded {
		atomic.AddUint64(&m.retrievalDegraded, 1)
	}

	m.durationMu.Lock()
	m.retrievalDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordGeneration 记录一次推理调用。
func (m *GatewayMetrics) RecordGeneration(duration time.Duration, err error) {
	atomic.AddUint64(&m.generationTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.generationErrors, 1)
		return
	}

	m.durationMu.Lock()
	m.generationDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordGenerationRetry 记录一次换节点重试。
func (m *GatewayMetrics) RecordGenerationRetry() {
	atomic.AddUint64(&m.generationRetries, 1)
}

// StreamStarted 记录流式会话开始。
func (m *GatewayMetrics) StreamStarted() {
	atomic.AddUint64(&m.streamsTotal, 1)
	atomic.AddInt64(&m.streamsActive, 1)
}

// StreamFinished 记录流式会话结束。
func (m *GatewayMetrics) StreamFinished() {
	atomic.AddInt64(&m.streamsActive, -1)
}

// counterLine 输出一条 Prometheus counter。
func counterLine(sb *strings.Builder, prefix, name, help string, value uint64) {
	fmt.Fprintf(sb, "# HELP %s_%s %s\n", prefix, name, help)
	fmt.Fprintf(sb, "# TYPE %s_%s counter\n", prefix, name)
	fmt.Fprintf(sb, "%s_%s %d\n\n", prefix, name, value)
}

// gaugeLine 输出一条 Prometheus gauge。
func gaugeLine(sb *strings.Builder, prefix, name, help string, value float64) {
	fmt.Fprintf(sb, "# HELP %s_%s %s\n", prefix, name, help)
	fmt.Fprintf(sb, "# TYPE %s_%s gauge\n", prefix, name)
	fmt.Fprintf(sb, "%s_%s %.6f\n\n", prefix, name, value)
}

// Export 导出 Prometheus 文本格式指标。
func (m *GatewayMetrics) Export(namespace, subsystem string) string {
	var sb strings.Builder
	prefix := namespace
	if subsystem != "" {
		prefix = prefix + "_" + subsystem
	}

	counterLine(&sb, prefix, "queries_total", "Total number of queries.", atomic.LoadUint64(&m.queriesTotal))
	counterLine(&sb, prefix, "queries_cache_hits_total", "Number of answer cache hits.", atomic.LoadUint64(&m.queriesCacheHits))
	counterLine(&sb, prefix, "queries_cache_misses_total", "Number of answer cache misses.", atomic.LoadUint64(&m.queriesCacheMisses))
	counterLine(&sb, prefix, "queries_errors_total", "Number of query errors.", atomic.LoadUint64(&m.queriesErrors))
	counterLine(&sb, prefix, "queries_timeouts_total", "Number of query timeouts.", atomic.LoadUint64(&m.queriesTimeouts))
	counterLine(&sb, prefix, "queries_degraded_total", "Number of degraded responses.", atomic.LoadUint64(&m.queriesDegraded))

	hits := atomic.LoadUint64(&m.queriesCacheHits)
	misses := atomic.LoadUint64(&m.queriesCacheMisses)
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}
	gaugeLine(&sb, prefix, "cache_hit_rate", "Answer cache hit rate (0-1).", hitRate)

	counterLine(&sb, prefix, "queries_tier_simple_total", "Queries classified as simple.", atomic.LoadUint64(&m.tierSimple))
	counterLine(&sb, prefix, "queries_tier_moderate_total", "Queries classified as moderate.", atomic.LoadUint64(&m.tierModerate))
	counterLine(&sb, prefix, "queries_tier_complex_total", "Queries classified as complex.", atomic.LoadUint64(&m.tierComplex))
	counterLine(&sb, prefix, "decompositions_total", "Queries decomposed into sub-queries.", atomic.LoadUint64(&m.decompositions))
	counterLine(&sb, prefix, "sub_queries_total", "Sub-queries produced by decomposition.", atomic.LoadUint64(&m.subQueriesTotal))

	m.durationMu.Lock()
	retrievalDuration := m.retrievalDuration
	generationDuration := m.generationDuration
	m.durationMu.Unlock()

	counterLine(&sb, prefix, "retrieval_total", "Total number of retrievals.", atomic.LoadUint64(&m.retrievalTotal))
	gaugeLine(&sb, prefix, "retrieval_duration_seconds_total", "Total retrieval duration.", retrievalDuration)
	counterLine(&sb, prefix, "retrieval_errors_total", "Number of retrieval errors.", atomic.LoadUint64(&m.retrievalErrors))
	counterLine(&sb, prefix, "retrieval_degraded_total", "Retrievals served by a single index.", atomic.LoadUint64(&m.retrievalDegraded))

	counterLine(&sb, prefix, "generation_total", "Total number of inference calls.", atomic.LoadUint64(&m.generationTotal))
	gaugeLine(&sb, prefix, "generation_duration_seconds_total", "Total inference duration.", generationDuration)
	counterLine(&sb, prefix, "generation_errors_total", "Number of inference errors.", atomic.LoadUint64(&m.generationErrors))
	counterLine(&sb, prefix, "generation_retries_total", "Inference retries on a different worker.", atomic.LoadUint64(&m.generationRetries))

	counterLine(&sb, prefix, "streams_total", "Total streaming sessions.", atomic.LoadUint64(&m.streamsTotal))
	gaugeLine(&sb, prefix, "streams_active", "Active streaming sessions.", float64(atomic.LoadInt64(&m.streamsActive)))

	gaugeLine(&sb, prefix, "uptime_seconds", "Service uptime in seconds.", time.Since(m.startTime).Seconds())

	return sb.String()
}

// Stats 返回当前统计信息（用于 API）。
func (m *GatewayMetrics) Stats() map[string]interface{} {
	m.durationMu.Lock()
	retrievalDuration := m.retrievalDuration
	generationDuration := m.generationDuration
	m.durationMu.Unlock()

	hits := atomic.LoadUint64(&m.queriesCacheHits)
	misses := atomic.LoadUint64(&m.queriesCacheMisses)
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	retrievalTotal := atomic.LoadUint64(&m.retrievalTotal)
	avgRetrieval := 0.0
	if retrievalTotal > 0 {
		avgRetrieval = retrievalDuration / float64(retrievalTotal)
	}

	generationTotal := atomic.LoadUint64(&m.generationTotal)
	avgGeneration := 0.0
	if generationTotal > 0 {
		avgGeneration = generationDuration / float64(generationTotal)
	}

	return map[string]interface{}{
		"queries": map[string]interface{}{
			"total":          atomic.LoadUint64(&m.queriesTotal),
			"cache_hits":     hits,
			"cache_misses":   misses,
			"cache_hit_rate": hitRate,
			"errors":         atomic.LoadUint64(&m.queriesErrors),
			"timeouts":       atomic.LoadUint64(&m.queriesTimeouts),
			"degraded":       atomic.LoadUint64(&m.queriesDegraded),
		},
		"tiers": map[string]interface{}{
			"simple":   atomic.LoadUint64(&m.tierSimple),
			"moderate": atomic.LoadUint64(&m.tierModerate),
			"complex":  atomic.LoadUint64(&m.tierComplex),
		},
		"decomposition": map[string]interface{}{
			"decomposed_queries": atomic.LoadUint64(&m.decompositions),
			"sub_queries":        atomic.LoadUint64(&m.subQueriesTotal),
		},
		"retrieval": map[string]interface{}{
			"total":               retrievalTotal,
			"total_duration_secs": retrievalDuration,
			"avg_duration_secs":   avgRetrieval,
			"errors":              atomic.LoadUint64(&m.retrievalErrors),
			"degraded":            atomic.LoadUint64(&m.retrievalDegraded),
		},
		"generation": map[string]interface{}{
			"total":               generationTotal,
			"total_duration_secs": generationDuration,
			"avg_duration_secs":   avgGeneration,
			"errors":              atomic.LoadUint64(&m.generationErrors),
			"retries":             atomic.LoadUint64(&m.generationRetries),
		},
		"streaming": map[string]interface{}{
			"total":  atomic.LoadUint64(&m.streamsTotal),
			"active": atomic.LoadInt64(&m.streamsActive),
		},
		"uptime_seconds": time.Since(m.startTime).Seconds(),
	}
}

// Reset 重置所有指标（仅用于测试）。
func (m *GatewayMetrics) Reset() {
	atomic.StoreUint64(&m.queriesTotal, 0)
	atomic.StoreUint64(&m.queriesCacheHits, 0)
	atomic.StoreUint64(&m.queriesCacheMisses, 0)
	atomic.StoreUint64(&m.queriesErrors, 0)
	atomic.StoreUint64(&m.queriesTimeouts, 0)
	atomic.StoreUint64(&m.queriesDegraded, 0)
	atomic.StoreUint64(&m.tierSimple, 0)
	atomic.StoreUint64(&m.tierModerate, 0)
	atomic.StoreUint64(&m.tierComplex, 0)
	atomic.StoreUint64(&m.decompositions, 0)
	atomic.StoreUint64(&m.subQueriesTotal, 0)
	atomic.StoreUint64(&m.retrievalTotal, 0)
	atomic.StoreUint64(&m.retrievalErrors, 0)
	atomic.StoreUint64(&m.retrievalDegraded, 0)
	atomic.StoreUint64(&m.generationTotal, 0)
	atomic.StoreUint64(&m.generationErrors, 0)
	atomic.StoreUint64(&m.generationRetries, 0)
	atomic.StoreUint64(&m.streamsTotal, 0)
	atomic.StoreInt64(&m.streamsActive, 0)

	m.durationMu.Lock()
	m.retrievalDuration = 0
	m.generationDuration = 0
	m.startTime = time.Now()
	m.durationMu.Unlock()
}
