package biz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/ragway/internal/model"
	"github.com/kart-io/ragway/pkg/errors"
	classifieropts "github.com/kart-io/ragway/pkg/options/classifier"
)

func newTestDecomposer(opts *classifieropts.Options) (*Classifier, *Decomposer) {
	if opts == nil {
		opts = classifieropts.NewOptions()
	}
	c := NewClassifier(opts)
	return c, NewDecomposer(opts, c)
}

func TestDecomposeSingleQuestion(t *testing.T) {
	c, d := newTestDecomposer(nil)

	q := model.NewQuery("What is etcd?", "")
	c.Annotate(q)

	subs, err := d.Decompose(q)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	assert.Equal(t, q.Raw, subs[0].Text)
	assert.Equal(t, q.Fingerprint, subs[0].ParentFingerprint)
	assert.Equal(t, model.TierSimple, subs[0].Tier)
}

func TestDecomposeConnectiveJoinedQuestions(t *testing.T) {
	c, d := newTestDecomposer(nil)

	q := model.NewQuery("What is a service mesh and how do sidecars intercept traffic?", "")
	c.Annotate(q)
	require.True(t, q.NeedsDecomposition)

	subs, err := d.Decompose(q)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	assert.Equal(t, "What is a service mesh", subs[0].Text)
	assert.Equal(t, "how do sidecars intercept traffic", subs[1].Text)
	assert.NotEqual(t, subs[0].Fingerprint, subs[1].Fingerprint)
	for _, sub := range subs {
		assert.Equal(t, q.Fingerprint, sub.ParentFingerprint)
		assert.True(t, sub.Tier.Valid())
		assert.NotEmpty(t, sub.WorkerClass)
	}
}

func TestDecomposeSubQueriesClassifiedIndependently(t *testing.T) {
	c, d := newTestDecomposer(nil)

	q := model.NewQuery("What is a pod? Compare containerd with CRI-O runtimes in depth?", "")
	c.Annotate(q)

	subs, err := d.Decompose(q)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	assert.Equal(t, model.TierSimple, subs[0].Tier)
	assert.Equal(t, model.TierComplex, subs[1].Tier)
}

func TestDecomposeRespectsMaxSubQueries(t *testing.T) {
	opts := classifieropts.NewOptions()
	opts.MaxSubQueries = 2
	c, d := newTestDecomposer(opts)

	q := model.NewQuery("What is A? What is B? What is C? What is D?", "")
	c.Annotate(q)

	subs, err := d.Decompose(q)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	// 超出上限的片段并入末尾子查询，内容不丢失。
	assert.Equal(t, "What is A", subs[0].Text)
	assert.Contains(t, subs[1].Normalized, "what is d")
}

func TestDecomposeWithoutFlagKeepsWhole(t *testing.T) {
	_, d := newTestDecomposer(nil)

	q := model.NewQuery("What is a pod and how does scheduling work?", "")
	// 未标记拆分时整体作为单个子查询执行。
	subs, err := d.Decompose(q)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, q.Raw, subs[0].Text)
}

func TestDecomposeEmptyInput(t *testing.T) {
	_, d := newTestDecomposer(nil)

	_, err := d.Decompose(&model.Query{Raw: "   "})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrDecompositionFailure.Code))
}

func TestDecomposeScopedFingerprints(t *testing.T) {
	c, d := newTestDecomposer(nil)

	q1 := model.NewQuery("What is etcd?", "tenant-a")
	c.Annotate(q1)
	q2 := model.NewQuery("What is etcd?", "tenant-b")
	c.Annotate(q2)

	subs1, err := d.Decompose(q1)
	require.NoError(t, err)
	subs2, err := d.Decompose(q2)
	require.NoError(t, err)

	assert.NotEqual(t, subs1[0].Fingerprint, subs2[0].Fingerprint)
}

func TestSplitSegments(t *testing.T) {
	connectives := classifieropts.NewOptions().Connectives

	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "single question",
			raw:  "What is Kubernetes?",
			want: []string{"What is Kubernetes"},
		},
		{
			name: "two sentences",
			raw:  "Explain ingress. Explain egress.",
			want: []string{"Explain ingress", "Explain egress"},
		},
		{
			name: "question marks split",
			raw:  "What is a pod? What is a node?",
			want: []string{"What is a pod", "What is a node"},
		},
		{
			name: "connective split",
			raw:  "What is a pod and how does scheduling work",
			want: []string{"What is a pod", "how does scheduling work"},
		},
		{
			name: "short side stays joined",
			raw:  "List the pros and cons",
			want: []string{"List the pros and cons"},
		},
		{
			name: "multi word connective",
			raw:  "Describe the control plane as well as explain the data plane",
			want: []string{"Describe the control plane", "explain the data plane"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitSegments(tt.raw, connectives))
		})
	}
}
