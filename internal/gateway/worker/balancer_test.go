package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/ragway/pkg/errors"
)

func TestLeastLoadPicksLowestScore(t *testing.T) {
	r := newTestRegistry(t)

	// w2 明显更慢。
	r.ReportOutcome("w2", 800*time.Millisecond, true)
	r.ReportOutcome("w3", 100*time.Millisecond, true)

	s := NewLeastLoad(r.Penalty())
	picked := s.Pick(r.Healthy("complex"))
	require.NotNil(t, picked)
	assert.Equal(t, "w3", picked.ID)
}

func TestLeastLoadFailurePenalty(t *testing.T) {
	r := newTestRegistry(t)

	// w3 延迟低但持续失败，惩罚后评分应高于 w2。
	r.ReportOutcome("w2", 400*time.Millisecond, true)
	r.ReportOutcome("w3", 50*time.Millisecond, false)

	s := NewLeastLoad(r.Penalty())
	picked := s.Pick(r.Healthy("complex"))
	require.NotNil(t, picked)
	assert.Equal(t, "w2", picked.ID)
}

func TestLeastLoadWeightedTieBreak(t *testing.T) {
	r := newTestRegistry(t)
	s := NewLeastLoad(r.Penalty())

	// 冷启动同分，w2 权重 2、w3 权重 1，按 2:1 轮询。
	counts := map[string]int{}
	for i := 0; i < 6; i++ {
		picked := s.Pick(r.Healthy("complex"))
		require.NotNil(t, picked)
		counts[picked.ID]++
	}
	assert.Equal(t, 4, counts["w2"])
	assert.Equal(t, 2, counts["w3"])
}

func TestLeastLoadEmptyCandidates(t *testing.T) {
	s := NewLeastLoad(1000)
	assert.Nil(t, s.Pick(nil))
}

func TestBalancerPickByClass(t *testing.T) {
	r := newTestRegistry(t)
	b := NewBalancer(r, nil)

	picked, degraded, err := b.Pick("simple")
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.Equal(t, "w1", picked.ID)
}

func TestBalancerClassFallback(t *testing.T) {
	r := newTestRegistry(t)
	b := NewBalancer(r, nil)

	// 不存在 moderate 等级的节点，回退到任意健康节点。
	picked, degraded, err := b.Pick("moderate")
	require.NoError(t, err)
	assert.False(t, degraded)
	assert.NotNil(t, picked)
}

func TestBalancerExclude(t *testing.T) {
	r := newTestRegistry(t)
	b := NewBalancer(r, nil)

	// 重试时换节点：排除 w2 后不应再选中它。
	for i := 0; i < 4; i++ {
		picked, _, err := b.Pick("complex", "w2")
		require.NoError(t, err)
		assert.NotEqual(t, "w2", picked.ID)
	}
}

func TestBalancerDegradedFullSetRoundRobin(t *testing.T) {
	opts := testOptions()
	opts.FailThreshold = 1
	r, err := NewRegistry(opts)
	require.NoError(t, err)

	// 全部节点标记为不健康。
	for _, id := range []string{"w1", "w2", "w3"} {
		r.ReportProbe(id, assert.AnError)
	}

	b := NewBalancer(r, nil)

	// 退化为全集轮询，三次选择覆盖全部节点。
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		picked, degraded, err := b.Pick("complex")
		require.NoError(t, err)
		assert.True(t, degraded)
		seen[picked.ID] = true
	}
	assert.Len(t, seen, 3)
}

func TestBalancerEmptyRegistry(t *testing.T) {
	opts := testOptions()
	opts.Endpoints = nil
	r, err := NewRegistry(opts)
	require.NoError(t, err)

	b := NewBalancer(r, nil)
	_, _, err = b.Pick("simple")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrWorkerUnavailable.Code))
}
