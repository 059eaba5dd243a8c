package biz

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwcache "github.com/kart-io/ragway/internal/gateway/cache"
	"github.com/kart-io/ragway/internal/gateway/worker"
	"github.com/kart-io/ragway/internal/model"
	"github.com/kart-io/ragway/pkg/errors"
	"github.com/kart-io/ragway/pkg/llm"
	cacheopts "github.com/kart-io/ragway/pkg/options/cache"
	classifieropts "github.com/kart-io/ragway/pkg/options/classifier"
	retrievalopts "github.com/kart-io/ragway/pkg/options/retrieval"
	workersopts "github.com/kart-io/ragway/pkg/options/workers"
)

// chatHarness 记录各节点的生成调用并按节点注入失败。
type chatHarness struct {
	mu      sync.Mutex
	calls   []string
	failing map[string]error
}

func newChatHarness() *chatHarness {
	return &chatHarness{failing: make(map[string]error)}
}

func (h *chatHarness) generate(workerID string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, workerID)
	if err := h.failing[workerID]; err != nil {
		return "", err
	}
	return "answer from " + workerID, nil
}

func (h *chatHarness) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func (h *chatHarness) callsTo(workerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, id := range h.calls {
		if id == workerID {
			n++
		}
	}
	return n
}

type harnessChatProvider struct {
	workerID string
	harness  *chatHarness
}

func (p *harnessChatProvider) Chat(_ context.Context, _ []llm.Message) (string, error) {
	return p.harness.generate(p.workerID)
}

func (p *harnessChatProvider) Generate(_ context.Context, _ string, _ string) (string, error) {
	return p.harness.generate(p.workerID)
}

func (p *harnessChatProvider) Name() string { return "harness" }

type serviceFixture struct {
	vector   *stubVectorIndex
	lexical  *stubLexicalIndex
	chat     *chatHarness
	registry *worker.Registry
	svc      *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	workerOpts := workersopts.NewOptions()
	workerOpts.Endpoints = []string{
		"id=w1;address=http://h1:11434;model=llama3:8b;class=simple",
		"id=w2;address=http://h2:11434;model=qwen2:14b;class=moderate",
		"id=w3;address=http://h3:11434;model=qwen2:72b;class=complex",
	}
	registry, err := worker.NewRegistry(workerOpts)
	require.NoError(t, err)
	balancer := worker.NewBalancer(registry, nil)

	vector := &stubVectorIndex{
		cands: []*model.RetrievalCandidate{vecCand("a", 0.9), vecCand("b", 0.5)},
	}
	lexical := &stubLexicalIndex{
		cands: []*model.RetrievalCandidate{lexCand("b", 2.0), lexCand("c", 1.0)},
	}
	tiered := gwcache.NewTieredCache(gwcache.NewMemoryBackend(256), cacheopts.NewOptions())

	retrievalOpts := retrievalopts.NewOptions()
	retrievalOpts.EnableRerank = false
	retriever := NewHybridRetriever(vector, lexical, nil, &stubEmbedder{}, tiered, retrievalOpts)

	chat := newChatHarness()
	generator := NewGenerator(DefaultGeneratorConfig(), func(w *worker.Worker) llm.ChatProvider {
		return &harnessChatProvider{workerID: w.ID, harness: chat}
	})

	classifierOpts := classifieropts.NewOptions()
	classifier := NewClassifier(classifierOpts)
	decomposer := NewDecomposer(classifierOpts, classifier)

	svc := NewService(classifier, decomposer, retriever, generator, registry, balancer, tiered, nil)
	return &serviceFixture{
		vector:   vector,
		lexical:  lexical,
		chat:     chat,
		registry: registry,
		svc:      svc,
	}
}

func TestServiceSimpleQueryFlow(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.svc.Query(context.Background(), "What is etcd?", "", nil)
	require.NoError(t, err)

	assert.Equal(t, model.TierSimple, result.Tier)
	assert.Equal(t, "answer from w1", result.Answer)
	assert.Equal(t, "w1", result.WorkerUsed)
	assert.False(t, result.CacheHit)
	assert.False(t, result.Degraded)
	assert.Empty(t, result.SubAnswers)
	require.NotEmpty(t, result.Sources)
	assert.Len(t, result.FusedScores, len(result.Sources))
}

func TestServiceFullResultCacheHit(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Query(context.Background(), "What is etcd?", "", nil)
	require.NoError(t, err)
	firstCalls := f.chat.callCount()

	result, err := f.svc.Query(context.Background(), "what is  ETCD?", "", nil)
	require.NoError(t, err)

	// 规范化后指纹相同,直接命中完整回答缓存。
	assert.True(t, result.CacheHit)
	assert.Equal(t, "answer from w1", result.Answer)
	assert.Equal(t, firstCalls, f.chat.callCount())
}

func TestServiceDecomposedQuery(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.svc.Query(context.Background(), "What is a service mesh and how do sidecars intercept traffic?", "", nil)
	require.NoError(t, err)

	require.Len(t, result.SubAnswers, 2)
	for _, sub := range result.SubAnswers {
		assert.NotEmpty(t, sub.Answer)
		assert.NotEmpty(t, sub.WorkerUsed)
	}
	// 合成由父查询分级对应的节点完成。
	assert.Equal(t, "w2", result.WorkerUsed)
	assert.Equal(t, "answer from w2", result.Answer)
}

func TestServiceRetryOnDifferentWorker(t *testing.T) {
	f := newServiceFixture(t)
	f.chat.failing["w1"] = fmt.Errorf("connection reset")

	result, err := f.svc.Query(context.Background(), "What is etcd?", "", nil)
	require.NoError(t, err)

	assert.NotEqual(t, "w1", result.WorkerUsed)
	// 失败节点只尝试一次,重试换到其他节点。
	assert.Equal(t, 1, f.chat.callsTo("w1"))
}

func TestServiceAllWorkersFail(t *testing.T) {
	f := newServiceFixture(t)
	f.chat.failing["w1"] = fmt.Errorf("down")
	f.chat.failing["w2"] = fmt.Errorf("down")
	f.chat.failing["w3"] = fmt.Errorf("down")

	_, err := f.svc.Query(context.Background(), "What is etcd?", "", nil)
	require.Error(t, err)
	// 兜底耗尽后错误携带可重试标记,由调用方决定是否重新提交。
	assert.True(t, errors.Retryable(err))
}

func TestServiceRetrievalFailureFatal(t *testing.T) {
	f := newServiceFixture(t)
	f.vector.err = fmt.Errorf("milvus unreachable")
	f.lexical.err = fmt.Errorf("index corrupted")

	_, err := f.svc.Query(context.Background(), "What is etcd?", "", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrRetrievalFailure.Code))
	assert.Equal(t, 0, f.chat.callCount())
}

func TestServiceEmptyQuery(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.svc.Query(context.Background(), "   ", "", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrDecompositionFailure.Code))
}

func TestServiceSingleIndexDegraded(t *testing.T) {
	f := newServiceFixture(t)
	f.vector.err = fmt.Errorf("milvus unreachable")

	result, err := f.svc.Query(context.Background(), "What is etcd?", "", nil)
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.NotEmpty(t, result.Answer)

	// 降级结果不回写缓存。
	second, err := f.svc.Query(context.Background(), "What is etcd?", "", nil)
	require.NoError(t, err)
	assert.False(t, second.CacheHit)
}

func TestSubAnswerFingerprintSharedAcrossParents(t *testing.T) {
	sub := func(parent string) *model.SubQuery {
		return &model.SubQuery{
			ParentFingerprint: parent,
			Text:              "What is etcd?",
			Normalized:        "what is etcd?",
			Fingerprint:       model.Fingerprint("what is etcd?", "s1"),
		}
	}

	// 相同 (模型, 规范化文本, 会话域) 的子查询跨父查询共享。
	assert.Equal(t,
		subAnswerFingerprint("llama3:8b", sub("parent-1")),
		subAnswerFingerprint("llama3:8b", sub("parent-2")),
	)

	// 不同模型不共享。
	assert.NotEqual(t,
		subAnswerFingerprint("llama3:8b", sub("parent-1")),
		subAnswerFingerprint("qwen2:14b", sub("parent-1")),
	)

	// 不同会话域不共享。
	other := sub("parent-1")
	other.Fingerprint = model.Fingerprint("what is etcd?", "s2")
	assert.NotEqual(t,
		subAnswerFingerprint("llama3:8b", sub("parent-1")),
		subAnswerFingerprint("llama3:8b", other),
	)
}

func TestServiceNoCacheBypassesCachedResult(t *testing.T) {
	f := newServiceFixture(t)

	first, err := f.svc.Query(context.Background(), "What is etcd?", "", nil)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	callsAfterFirst := f.chat.callCount()

	// no_cache 跳过缓存读取，重新生成回答。
	second, err := f.svc.Query(context.Background(), "What is etcd?", "", &QueryOptions{NoCache: true})
	require.NoError(t, err)
	assert.False(t, second.CacheHit)
	assert.Greater(t, f.chat.callCount(), callsAfterFirst)

	// 回写仍然生效，后续普通请求命中缓存。
	third, err := f.svc.Query(context.Background(), "What is etcd?", "", nil)
	require.NoError(t, err)
	assert.True(t, third.CacheHit)
}

func TestServiceTopKOverride(t *testing.T) {
	f := newServiceFixture(t)

	result, err := f.svc.Query(context.Background(), "What is etcd?", "", &QueryOptions{TopK: 1})
	require.NoError(t, err)
	assert.Len(t, result.Sources, 1)
	assert.Len(t, result.FusedScores, 1)
}

func TestServiceAllWorkersUnhealthyDegradedRoundRobin(t *testing.T) {
	f := newServiceFixture(t)
	probeErr := fmt.Errorf("probe refused")
	for _, id := range []string{"w1", "w2", "w3"} {
		for i := 0; i < 3; i++ {
			f.registry.ReportProbe(id, probeErr)
		}
	}
	require.Empty(t, f.registry.Healthy(""))

	result, err := f.svc.Query(context.Background(), "What is etcd?", "", nil)
	require.NoError(t, err)
	// 全部节点不健康时退化为全集轮询并打降级标记。
	assert.True(t, result.Degraded)
	assert.NotEmpty(t, result.Answer)
}

func TestServiceQueryStream(t *testing.T) {
	f := newServiceFixture(t)

	var chunks []llm.StreamChunk
	result, err := f.svc.QueryStream(context.Background(), "What is etcd?", "", nil, func(chunk llm.StreamChunk) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	var streamed string
	for _, c := range chunks {
		streamed += c.Content
	}
	assert.Equal(t, result.Answer, streamed)
	assert.True(t, chunks[len(chunks)-1].Done)

	// 流式成功后回答进入缓存,后续同步查询直接命中。
	second, err := f.svc.Query(context.Background(), "What is etcd?", "", nil)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
}

func TestServiceQueryStreamDecomposed(t *testing.T) {
	f := newServiceFixture(t)

	var chunks []llm.StreamChunk
	result, err := f.svc.QueryStream(context.Background(), "What is a service mesh and how do sidecars intercept traffic?", "", nil, func(chunk llm.StreamChunk) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, result.SubAnswers, 2)
	// 拆分查询合成后整体发送。
	require.Len(t, chunks, 1)
	assert.Equal(t, result.Answer, chunks[0].Content)
	assert.True(t, chunks[0].Done)
}
