package biz

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kart-io/logger"
	"golang.org/x/sync/errgroup"

	"github.com/kart-io/ragway/internal/gateway/cache"
	"github.com/kart-io/ragway/internal/gateway/metrics"
	"github.com/kart-io/ragway/internal/gateway/worker"
	"github.com/kart-io/ragway/internal/model"
	"github.com/kart-io/ragway/pkg/errors"
	"github.com/kart-io/ragway/pkg/llm"
)

// synthesisPrompt 多子查询合成提示词模板。
const synthesisPrompt = `You are given several question-answer pairs that together address one compound question.

{{context}}

Compound question: {{question}}

Write one coherent answer that covers all parts. Do not repeat the questions.`

// ServiceConfig 编排器配置。
type ServiceConfig struct {
	// FanOut 子查询并发上限。
	FanOut int
	// MaxAttempts 单个子查询的最大派发次数（首次 + 换节点重试）。
	MaxAttempts int
}

// DefaultServiceConfig 创建默认编排器配置。
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		FanOut:      3,
		MaxAttempts: 3,
	}
}

// Service 按固定状态流编排一次查询：
// 分类 → 分解 → 缓存检查 → 检索 → 路由 → 生成 → 缓存写入 → 合成。
type Service struct {
	classifier *Classifier
	decomposer *Decomposer
	retriever  *HybridRetriever
	generator  *Generator
	registry   *worker.Registry
	balancer   *worker.Balancer
	cache      *cache.TieredCache
	config     *ServiceConfig
}

// NewService 创建编排服务实例。
func NewService(
	classifier *Classifier,
	decomposer *Decomposer,
	retriever *HybridRetriever,
	generator *Generator,
	registry *worker.Registry,
	balancer *worker.Balancer,
	tiered *cache.TieredCache,
	config *ServiceConfig,
) *Service {
	if config == nil {
		config = DefaultServiceConfig()
	}
	return &Service{
		classifier: classifier,
		decomposer: decomposer,
		retriever:  retriever,
		generator:  generator,
		registry:   registry,
		balancer:   balancer,
		cache:      tiered,
		config:     config,
	}
}

// QueryOptions 单次请求级别的可选参数。
type QueryOptions struct {
	// TopK 覆盖本次检索返回的候选块数量，0 表示使用配置默认值。
	TopK int
	// NoCache 跳过结果缓存与推理缓存的读取，结果仍会正常回写。
	NoCache bool
}

func (o *QueryOptions) topK() int {
	if o == nil {
		return 0
	}
	return o.TopK
}

func (o *QueryOptions) noCache() bool {
	return o != nil && o.NoCache
}

// subOutcome 单个子查询的执行结果。
type subOutcome struct {
	answer     model.SubAnswer
	candidates []*model.RetrievalCandidate
	degraded   bool
}

// Query 同步处理一次查询。opts 可为 nil。
// 降级响应正常返回并打标,只有所有兜底耗尽才返回错误。
func (s *Service) Query(ctx context.Context, raw, scope string, opts *QueryOptions) (result *model.QueryResult, err error) {
	defer func() {
		cacheHit := result != nil && result.CacheHit
		degraded := result != nil && result.Degraded
		metrics.Get().RecordQuery(cacheHit, degraded, err)
	}()
	return s.query(ctx, raw, scope, opts)
}

func (s *Service) query(ctx context.Context, raw, scope string, opts *QueryOptions) (*model.QueryResult, error) {
	q := model.NewQuery(raw, scope)
	s.classifier.Annotate(q)
	metrics.Get().RecordTier(string(q.Tier))

	subs, err := s.decomposer.Decompose(q)
	if err != nil {
		return nil, err
	}
	if len(subs) > 1 {
		metrics.Get().RecordDecomposition(len(subs))
	}

	if !opts.noCache() {
		if cached, ok := s.cache.GetResult(ctx, q.Fingerprint); ok {
			cached.CacheHit = true
			return cached, nil
		}
	}

	outcomes, err := s.runSubQueries(ctx, subs, opts)
	if err != nil {
		return nil, err
	}

	result := s.assemble(ctx, q, subs, outcomes)

	// 降级结果不回写，恢复后以完整结果为准。
	if !result.Degraded {
		s.cache.SetResult(ctx, q.Fingerprint, result)
	}
	return result, nil
}

// runSubQueries 并发执行子查询，受扇出上限约束。
func (s *Service) runSubQueries(ctx context.Context, subs []*model.SubQuery, opts *QueryOptions) ([]*subOutcome, error) {
	outcomes := make([]*subOutcome, len(subs))

	if len(subs) == 1 {
		outcome, err := s.runSubQuery(ctx, subs[0], opts)
		if err != nil {
			return nil, err
		}
		outcomes[0] = outcome
		return outcomes, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.FanOut)
	for i, sub := range subs {
		g.Go(func() error {
			outcome, err := s.runSubQuery(gctx, sub, opts)
			if err != nil {
				return err
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// runSubQuery 执行单个子查询：检索、路由、生成。
// 可重试错误换节点重试，同一失败节点不会连续使用两次。
func (s *Service) runSubQuery(ctx context.Context, sub *model.SubQuery, opts *QueryOptions) (*subOutcome, error) {
	retrieval, err := s.retriever.Retrieve(ctx, sub, opts.topK())
	if err != nil {
		return nil, err
	}

	outcome := &subOutcome{
		candidates: retrieval.Candidates,
		degraded:   retrieval.Degraded,
	}

	var exclude []string
	var lastErr error
	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		w, degradedPick, pickErr := s.balancer.Pick(sub.WorkerClass, exclude...)
		if pickErr != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, pickErr
		}
		outcome.degraded = outcome.degraded || degradedPick

		// 回答按节点模型缓存,不同模型的回答不可互换。
		if !opts.noCache() {
			if cached, ok := s.getSubAnswer(ctx, w.ModelTag, sub); ok {
				outcome.answer = model.SubAnswer{
					Text:       sub.Text,
					Tier:       sub.Tier,
					Answer:     cached,
					WorkerUsed: w.ID,
					CacheHit:   true,
				}
				return outcome, nil
			}
		}

		start := time.Now()
		answer, genErr := s.generator.Generate(ctx, w, sub.Text, retrieval.Candidates)
		s.registry.ReportOutcome(w.ID, time.Since(start), genErr == nil)

		if genErr == nil {
			outcome.answer = model.SubAnswer{
				Text:       sub.Text,
				Tier:       sub.Tier,
				Answer:     answer,
				WorkerUsed: w.ID,
			}
			if !outcome.degraded {
				s.setSubAnswer(ctx, w.ModelTag, sub, answer)
			}
			return outcome, nil
		}

		if !errors.Retryable(genErr) {
			return nil, genErr
		}
		lastErr = genErr
		exclude = append(exclude, w.ID)
		metrics.Get().RecordGenerationRetry()
		logger.Warnw("retrying generation on a different worker",
			"failed_worker", w.ID,
			"attempt", attempt+1,
			"error", genErr.Error(),
		)
	}
	return nil, lastErr
}

// subAnswerFingerprint 推理层缓存键：节点模型标签 + 子查询指纹
// （规范化文本 + 会话域）。不含父查询指纹，相同模型下等价的
// 子查询跨父查询共享缓存回答。
func subAnswerFingerprint(modelTag string, sub *model.SubQuery) string {
	return model.Fingerprint(modelTag+"\x00"+sub.Fingerprint, "")
}

func (s *Service) getSubAnswer(ctx context.Context, modelTag string, sub *model.SubQuery) (string, bool) {
	cached, ok := s.cache.GetResult(ctx, subAnswerFingerprint(modelTag, sub))
	if !ok {
		return "", false
	}
	return cached.Answer, true
}

func (s *Service) setSubAnswer(ctx context.Context, modelTag string, sub *model.SubQuery, answer string) {
	s.cache.SetResult(ctx, subAnswerFingerprint(modelTag, sub), &model.QueryResult{
		Answer: answer,
		Tier:   sub.Tier,
	})
}

// assemble 汇总子查询结果为最终响应，多子查询时先合成。
func (s *Service) assemble(ctx context.Context, q *model.Query, subs []*model.SubQuery, outcomes []*subOutcome) *model.QueryResult {
	result := &model.QueryResult{
		Tier: q.Tier,
	}

	var all []*model.RetrievalCandidate
	for _, o := range outcomes {
		result.Degraded = result.Degraded || o.degraded
		all = append(all, o.candidates...)
	}
	result.Sources, result.FusedScores = collectSources(all)

	if len(outcomes) == 1 {
		result.Answer = outcomes[0].answer.Answer
		result.WorkerUsed = outcomes[0].answer.WorkerUsed
		result.CacheHit = outcomes[0].answer.CacheHit
		return result
	}

	for _, o := range outcomes {
		result.SubAnswers = append(result.SubAnswers, o.answer)
	}
	result.Answer, result.WorkerUsed = s.synthesize(ctx, q, result.SubAnswers)
	return result
}

// synthesize 把子回答合成为单一回答。
// 合成生成失败时回退为拼接，不让整个请求失败。
func (s *Service) synthesize(ctx context.Context, q *model.Query, answers []model.SubAnswer) (text, workerUsed string) {
	var pairs strings.Builder
	for i, a := range answers {
		pairs.WriteString(fmt.Sprintf("Q%d: %s\nA%d: %s\n\n", i+1, a.Text, i+1, a.Answer))
	}

	w, _, err := s.balancer.Pick(s.classifier.WorkerClass(q.Tier))
	if err == nil {
		prompt := strings.ReplaceAll(synthesisPrompt, "{{context}}", pairs.String())
		prompt = strings.ReplaceAll(prompt, "{{question}}", q.Raw)

		start := time.Now()
		synthesized, genErr := s.generator.GenerateRaw(ctx, w, prompt)
		s.registry.ReportOutcome(w.ID, time.Since(start), genErr == nil)
		if genErr == nil {
			return synthesized, w.ID
		}
		logger.Warnw("synthesis failed, falling back to concatenation", "worker", w.ID, "error", genErr.Error())
	}

	var sb strings.Builder
	for i, a := range answers {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(a.Answer)
	}
	return sb.String(), ""
}

// collectSources 汇总候选块为响应来源，按块去重保留最高融合分数。
func collectSources(candidates []*model.RetrievalCandidate) ([]model.ChunkSource, []float64) {
	best := make(map[string]*model.RetrievalCandidate, len(candidates))
	for _, c := range candidates {
		if prev, ok := best[c.ChunkID]; !ok || c.FusedScore > prev.FusedScore {
			best[c.ChunkID] = c
		}
	}

	unique := make([]*model.RetrievalCandidate, 0, len(best))
	for _, c := range best {
		unique = append(unique, c)
	}
	sort.Slice(unique, func(i, j int) bool {
		if unique[i].FusedScore != unique[j].FusedScore {
			return unique[i].FusedScore > unique[j].FusedScore
		}
		return unique[i].ChunkID < unique[j].ChunkID
	})

	sources := make([]model.ChunkSource, len(unique))
	scores := make([]float64, len(unique))
	for i, c := range unique {
		sources[i] = model.ChunkSource{
			ChunkID:      c.ChunkID,
			DocumentID:   c.DocumentID,
			DocumentName: c.DocumentName,
			Section:      c.Section,
			Content:      c.Content,
			Score:        c.FusedScore,
		}
		scores[i] = c.FusedScore
	}
	return sources, scores
}

// QueryStream 流式处理一次查询，答案分块经 fn 回调。opts 可为 nil。
// 返回的结果包含完整答案与来源，供调用方在流结束后发送尾帧。
func (s *Service) QueryStream(ctx context.Context, raw, scope string, opts *QueryOptions, fn llm.StreamFunc) (result *model.QueryResult, err error) {
	defer func() {
		cacheHit := result != nil && result.CacheHit
		degraded := result != nil && result.Degraded
		metrics.Get().RecordQuery(cacheHit, degraded, err)
	}()

	q := model.NewQuery(raw, scope)
	s.classifier.Annotate(q)
	metrics.Get().RecordTier(string(q.Tier))

	subs, err := s.decomposer.Decompose(q)
	if err != nil {
		return nil, err
	}

	if !opts.noCache() {
		if cached, ok := s.cache.GetResult(ctx, q.Fingerprint); ok {
			cached.CacheHit = true
			if err := fn(llm.StreamChunk{Content: cached.Answer, Done: true}); err != nil {
				return nil, err
			}
			return cached, nil
		}
	}

	// 拆分查询需要先合成再发送，流式仅对单子查询逐块输出。
	if len(subs) > 1 {
		result, err = s.query(ctx, raw, scope, opts)
		if err != nil {
			return nil, err
		}
		if err := fn(llm.StreamChunk{Content: result.Answer, Done: true}); err != nil {
			return nil, err
		}
		return result, nil
	}

	return s.streamSubQuery(ctx, q, subs[0], opts, fn)
}

// streamSubQuery 流式执行单个子查询。
// 首块发出前的可重试错误仍可换节点；流中途失败直接终止。
func (s *Service) streamSubQuery(ctx context.Context, q *model.Query, sub *model.SubQuery, opts *QueryOptions, fn llm.StreamFunc) (*model.QueryResult, error) {
	retrieval, err := s.retriever.Retrieve(ctx, sub, opts.topK())
	if err != nil {
		return nil, err
	}

	result := &model.QueryResult{
		Tier:     q.Tier,
		Degraded: retrieval.Degraded,
	}
	result.Sources, result.FusedScores = collectSources(retrieval.Candidates)

	var exclude []string
	var lastErr error
	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		w, degradedPick, pickErr := s.balancer.Pick(sub.WorkerClass, exclude...)
		if pickErr != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, pickErr
		}
		result.Degraded = result.Degraded || degradedPick

		if !opts.noCache() {
			if cached, ok := s.getSubAnswer(ctx, w.ModelTag, sub); ok {
				if err := fn(llm.StreamChunk{Content: cached, Done: true}); err != nil {
					return nil, err
				}
				result.Answer = cached
				result.WorkerUsed = w.ID
				result.CacheHit = true
				return result, nil
			}
		}

		var answer strings.Builder
		emitted := false
		start := time.Now()
		genErr := s.generator.GenerateStream(ctx, w, sub.Text, retrieval.Candidates, func(chunk llm.StreamChunk) error {
			if chunk.Content != "" {
				emitted = true
			}
			answer.WriteString(chunk.Content)
			return fn(chunk)
		})
		s.registry.ReportOutcome(w.ID, time.Since(start), genErr == nil)

		if genErr == nil {
			result.Answer = answer.String()
			result.WorkerUsed = w.ID
			if !result.Degraded {
				s.setSubAnswer(ctx, w.ModelTag, sub, result.Answer)
				s.cache.SetResult(ctx, q.Fingerprint, result)
			}
			return result, nil
		}
		if emitted || !errors.Retryable(genErr) {
			return nil, genErr
		}
		lastErr = genErr
		exclude = append(exclude, w.ID)
		metrics.Get().RecordGenerationRetry()
	}
	return nil, lastErr
}
