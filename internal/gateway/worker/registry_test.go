package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	workersopts "github.com/kart-io/ragway/pkg/options/workers"
)

// testOptions 构建含三个节点的测试配置。
func testOptions() *workersopts.Options {
	opts := workersopts.NewOptions()
	opts.Endpoints = []string{
		"id=w1;address=http://10.0.0.1:11434;model=llama3:8b;class=simple;weight=1",
		"id=w2;address=http://10.0.0.2:11434;model=llama3:70b;class=complex;weight=2",
		"id=w3;address=http://10.0.0.3:11434;model=llama3:70b;class=complex;weight=1",
	}
	return opts
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(testOptions())
	require.NoError(t, err)
	return r
}

func TestNewRegistry(t *testing.T) {
	r := newTestRegistry(t)
	assert.Equal(t, 3, r.Len())

	w, ok := r.Get("w2")
	require.True(t, ok)
	assert.Equal(t, "http://10.0.0.2:11434", w.Address)
	assert.Equal(t, "complex", w.Class)
	assert.Equal(t, 2, w.Weight)
	// 新节点默认健康。
	assert.True(t, w.Healthy())
}

func TestNewRegistryInvalidEndpoint(t *testing.T) {
	opts := workersopts.NewOptions()
	opts.Endpoints = []string{"id=w1"} // 缺少 address

	_, err := NewRegistry(opts)
	assert.Error(t, err)
}

func TestLoadScoreColdStart(t *testing.T) {
	r := newTestRegistry(t)
	w, _ := r.Get("w1")

	// 无样本时为中性评分 0。
	assert.Equal(t, 0.0, w.LoadScore(r.Penalty()))
}

func TestLoadScoreFormula(t *testing.T) {
	opts := testOptions()
	opts.FailurePenalty = 1000
	r, err := NewRegistry(opts)
	require.NoError(t, err)

	// 3 次成功 100ms，1 次失败 300ms：
	// avg = (100*3+300)/4 = 150, failRate = 0.25。
	r.ReportOutcome("w1", 100*time.Millisecond, true)
	r.ReportOutcome("w1", 100*time.Millisecond, true)
	r.ReportOutcome("w1", 100*time.Millisecond, true)
	r.ReportOutcome("w1", 300*time.Millisecond, false)

	w, _ := r.Get("w1")
	assert.InDelta(t, 150.0+0.25*1000, w.LoadScore(r.Penalty()), 1e-9)
}

func TestLoadScoreSlidingWindow(t *testing.T) {
	opts := testOptions()
	opts.LatencyWindow = 4
	r, err := NewRegistry(opts)
	require.NoError(t, err)

	// 先写满 4 次失败，再写 4 次成功把窗口完全覆盖。
	for i := 0; i < 4; i++ {
		r.ReportOutcome("w1", 500*time.Millisecond, false)
	}
	for i := 0; i < 4; i++ {
		r.ReportOutcome("w1", 100*time.Millisecond, true)
	}

	w, _ := r.Get("w1")
	// 窗口内只剩成功样本，失败率归零。
	assert.InDelta(t, 100.0, w.LoadScore(r.Penalty()), 1e-9)
}

func TestReportOutcomeUnknownWorker(t *testing.T) {
	r := newTestRegistry(t)

	// 未知节点静默忽略。
	r.ReportOutcome("missing", time.Second, true)
}

func TestRegistrySnapshot(t *testing.T) {
	r := newTestRegistry(t)
	r.ReportOutcome("w2", 200*time.Millisecond, true)
	r.ReportOutcome("w2", 200*time.Millisecond, false)

	infos := r.Snapshot()
	require.Len(t, infos, 3)
	// 快照按 ID 排序。
	assert.Equal(t, "w1", infos[0].ID)
	assert.Equal(t, "w2", infos[1].ID)
	assert.Equal(t, "w3", infos[2].ID)

	w2 := infos[1]
	assert.Equal(t, 2, w2.Samples)
	assert.InDelta(t, 200.0, w2.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 0.5, w2.FailRate, 1e-9)
	assert.Equal(t, int64(1), w2.TotalSuccess)
	assert.Equal(t, int64(1), w2.TotalFailure)
}

func TestProbeThreshold(t *testing.T) {
	opts := testOptions()
	opts.FailThreshold = 3
	r, err := NewRegistry(opts)
	require.NoError(t, err)

	probeErr := assert.AnError

	// 前两次失败不翻转。
	assert.False(t, r.ReportProbe("w1", probeErr))
	assert.False(t, r.ReportProbe("w1", probeErr))
	w, _ := r.Get("w1")
	assert.True(t, w.Healthy())

	// 第三次连续失败转为不健康。
	assert.True(t, r.ReportProbe("w1", probeErr))
	assert.False(t, w.Healthy())

	// 单次成功立即恢复。
	assert.True(t, r.ReportProbe("w1", nil))
	assert.True(t, w.Healthy())
}

func TestProbeSuccessResetsCounter(t *testing.T) {
	opts := testOptions()
	opts.FailThreshold = 3
	r, err := NewRegistry(opts)
	require.NoError(t, err)

	// 失败、失败、成功、失败、失败：计数被成功打断，不应翻转。
	r.ReportProbe("w1", assert.AnError)
	r.ReportProbe("w1", assert.AnError)
	r.ReportProbe("w1", nil)
	r.ReportProbe("w1", assert.AnError)
	assert.False(t, r.ReportProbe("w1", assert.AnError))

	w, _ := r.Get("w1")
	assert.True(t, w.Healthy())
}
