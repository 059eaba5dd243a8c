package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/ragway/internal/gateway/biz"
	gwcache "github.com/kart-io/ragway/internal/gateway/cache"
	"github.com/kart-io/ragway/internal/gateway/worker"
	"github.com/kart-io/ragway/internal/model"
	"github.com/kart-io/ragway/pkg/errors"
	"github.com/kart-io/ragway/pkg/llm"
	cacheopts "github.com/kart-io/ragway/pkg/options/cache"
	workersopts "github.com/kart-io/ragway/pkg/options/workers"
)

type fakeQueryService struct {
	result *model.QueryResult
	err    error
	chunks []string
	// lastRaw 记录最近一次收到的查询文本。
	lastRaw   string
	lastScope string
	lastOpts  *biz.QueryOptions
}

func (f *fakeQueryService) Query(_ context.Context, raw, scope string, opts *biz.QueryOptions) (*model.QueryResult, error) {
	f.lastRaw, f.lastScope, f.lastOpts = raw, scope, opts
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeQueryService) QueryStream(_ context.Context, raw, scope string, opts *biz.QueryOptions, fn llm.StreamFunc) (*model.QueryResult, error) {
	f.lastRaw, f.lastScope, f.lastOpts = raw, scope, opts
	if f.err != nil {
		return nil, f.err
	}
	for _, c := range f.chunks {
		if err := fn(llm.StreamChunk{Content: c}); err != nil {
			return nil, err
		}
	}
	if err := fn(llm.StreamChunk{Done: true}); err != nil {
		return nil, err
	}
	return f.result, nil
}

func newHandlerFixture(t *testing.T, svc *fakeQueryService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	workerOpts := workersopts.NewOptions()
	workerOpts.Endpoints = []string{
		"id=w1;address=http://h1:11434;model=llama3:8b;class=simple",
	}
	registry, err := worker.NewRegistry(workerOpts)
	require.NoError(t, err)

	tiered := gwcache.NewTieredCache(gwcache.NewMemoryBackend(64), cacheopts.NewOptions())
	h := NewGatewayHandler(svc, registry, tiered, 5*time.Second)

	engine := gin.New()
	engine.POST("/query", h.Query)
	engine.POST("/query/stream", h.QueryStream)
	engine.GET("/stats", h.Stats)
	engine.GET("/workers", h.Workers)
	engine.GET("/workers/:id", h.Worker)
	engine.DELETE("/cache/:fingerprint", h.InvalidateCache)
	engine.GET("/healthz", h.Healthz)
	engine.GET("/metrics", h.Metrics)
	return engine
}

func postJSON(engine *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestQuerySuccess(t *testing.T) {
	svc := &fakeQueryService{
		result: &model.QueryResult{
			Answer:     "etcd is a distributed key-value store",
			Tier:       model.TierSimple,
			WorkerUsed: "w1",
		},
	}
	engine := newHandlerFixture(t, svc)

	w := postJSON(engine, "/query", `{"query_text":"what is etcd?","session_id":"s1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "what is etcd?", svc.lastRaw)
	assert.Equal(t, "s1", svc.lastScope)

	var resp struct {
		Code    int                `json:"code"`
		Message string             `json:"message"`
		Data    *model.QueryResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Code)
	assert.Equal(t, "etcd is a distributed key-value store", resp.Data.Answer)
	assert.Equal(t, "w1", resp.Data.WorkerUsed)
}

func TestQueryForwardsOptions(t *testing.T) {
	svc := &fakeQueryService{result: &model.QueryResult{Answer: "a"}}
	engine := newHandlerFixture(t, svc)

	w := postJSON(engine, "/query", `{"query_text":"what is etcd?","options":{"top_k":3,"no_cache":true}}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.lastOpts)
	assert.Equal(t, 3, svc.lastOpts.TopK)
	assert.True(t, svc.lastOpts.NoCache)
}

func TestQueryOmittedOptionsAreNil(t *testing.T) {
	svc := &fakeQueryService{result: &model.QueryResult{Answer: "a"}}
	engine := newHandlerFixture(t, svc)

	w := postJSON(engine, "/query", `{"query_text":"what is etcd?"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, svc.lastOpts)
}

func TestQueryMissingBody(t *testing.T) {
	engine := newHandlerFixture(t, &fakeQueryService{})

	w := postJSON(engine, "/query", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct {
		Code int `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, errors.ErrEmptyQuery.Code, resp.Code)
}

func TestQueryTooLong(t *testing.T) {
	engine := newHandlerFixture(t, &fakeQueryService{})

	long := strings.Repeat("a", maxQueryLen+1)
	w := postJSON(engine, "/query", `{"query_text":"`+long+`"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct {
		Code int `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, errors.ErrQueryTooLong.Code, resp.Code)
}

func TestQueryServiceError(t *testing.T) {
	svc := &fakeQueryService{err: errors.ErrRetrievalFailure.WithMessage("both indexes failed")}
	engine := newHandlerFixture(t, svc)

	w := postJSON(engine, "/query", `{"query_text":"what is etcd?"}`)
	require.Equal(t, errors.ErrRetrievalFailure.HTTPStatus(), w.Code)

	var resp struct {
		Code      int   `json:"code"`
		Retryable *bool `json:"retryable"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, errors.ErrRetrievalFailure.Code, resp.Code)
	require.NotNil(t, resp.Retryable)
	assert.False(t, *resp.Retryable)
}

func TestQueryStreamEventSequence(t *testing.T) {
	svc := &fakeQueryService{
		result: &model.QueryResult{
			Answer:     "etcd uses raft",
			Tier:       model.TierSimple,
			WorkerUsed: "w1",
		},
		chunks: []string{"etcd ", "uses ", "raft"},
	}
	engine := newHandlerFixture(t, svc)

	w := postJSON(engine, "/query/stream", `{"query_text":"how does etcd replicate?"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	msgCount := strings.Count(body, "event:message")
	assert.Equal(t, 3, msgCount)
	assert.Contains(t, body, `"content":"etcd "`)

	resultIdx := strings.Index(body, "event:result")
	doneIdx := strings.Index(body, "event:done")
	require.Greater(t, resultIdx, -1)
	require.Greater(t, doneIdx, resultIdx)
	assert.Contains(t, body, `"worker_used":"w1"`)
	assert.NotContains(t, body, "event:error")
}

func TestQueryStreamError(t *testing.T) {
	svc := &fakeQueryService{err: errors.ErrWorkerUnavailable}
	engine := newHandlerFixture(t, svc)

	w := postJSON(engine, "/query/stream", `{"query_text":"how does etcd replicate?"}`)
	body := w.Body.String()
	assert.Contains(t, body, "event:error")
	assert.Contains(t, body, `"retryable":true`)
	assert.NotContains(t, body, "event:result")
}

func TestHealthz(t *testing.T) {
	engine := newHandlerFixture(t, &fakeQueryService{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status         string `json:"status"`
		HealthyWorkers int    `json:"healthy_workers"`
		TotalWorkers   int    `json:"total_workers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.TotalWorkers)
	assert.Equal(t, 1, resp.HealthyWorkers)
}

func TestWorkersSnapshot(t *testing.T) {
	engine := newHandlerFixture(t, &fakeQueryService{})

	req := httptest.NewRequest(http.MethodGet, "/workers", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "w1")
}

func TestWorkerByID(t *testing.T) {
	engine := newHandlerFixture(t, &fakeQueryService{})

	req := httptest.NewRequest(http.MethodGet, "/workers/w1", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"w1"`)

	// 未注册的节点返回资源不存在错误码。
	req = httptest.NewRequest(http.MethodGet, "/workers/nope", nil)
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp struct {
		Code int `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, errors.ErrWorkerNotFound.Code, resp.Code)
}

func TestInvalidateCacheEvictsFingerprint(t *testing.T) {
	gin.SetMode(gin.TestMode)

	workerOpts := workersopts.NewOptions()
	workerOpts.Endpoints = []string{
		"id=w1;address=http://h1:11434;model=llama3:8b;class=simple",
	}
	registry, err := worker.NewRegistry(workerOpts)
	require.NoError(t, err)

	tiered := gwcache.NewTieredCache(gwcache.NewMemoryBackend(64), cacheopts.NewOptions())
	h := NewGatewayHandler(&fakeQueryService{}, registry, tiered, 5*time.Second)

	engine := gin.New()
	engine.DELETE("/cache/:fingerprint", h.InvalidateCache)

	ctx := context.Background()
	fp := model.Fingerprint("what is etcd?", "")
	tiered.SetResult(ctx, fp, &model.QueryResult{Answer: "cached"})

	req := httptest.NewRequest(http.MethodDelete, "/cache/"+fp, nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	_, ok := tiered.GetResult(ctx, fp)
	assert.False(t, ok)
}

func TestMetricsContentType(t *testing.T) {
	engine := newHandlerFixture(t, &fakeQueryService{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; version=0.0.4; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "ragway_gateway_")
}

func TestStats(t *testing.T) {
	engine := newHandlerFixture(t, &fakeQueryService{})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Code int                        `json:"code"`
		Data map[string]json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Data, "metrics")
	assert.Contains(t, resp.Data, "cache")
	assert.Contains(t, resp.Data, "workers")
}
