package biz

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/ragway/internal/gateway/metrics"
	"github.com/kart-io/ragway/internal/gateway/worker"
	"github.com/kart-io/ragway/internal/model"
	"github.com/kart-io/ragway/pkg/errors"
	"github.com/kart-io/ragway/pkg/llm"
	"github.com/kart-io/ragway/pkg/llm/ollama"
)

// defaultSystemPrompt 默认生成提示词模板。
const defaultSystemPrompt = `You are a helpful assistant answering questions based on the provided context.

Context:
{{context}}

Question: {{question}}

Answer based only on the context above. If the context does not contain the answer, say so.`

// noContextAnswer 检索无结果时返回的固定回答。
const noContextAnswer = "I couldn't find any relevant information in the knowledge base."

// GeneratorConfig 生成器配置。
type GeneratorConfig struct {
	// SystemPrompt 提示词模板，{{context}} 与 {{question}} 为占位符。
	SystemPrompt string
	// Timeout 单次生成的超时时间。
	Timeout time.Duration
}

// DefaultGeneratorConfig 创建默认生成器配置。
func DefaultGeneratorConfig() *GeneratorConfig {
	return &GeneratorConfig{
		SystemPrompt: defaultSystemPrompt,
		Timeout:      60 * time.Second,
	}
}

// WorkerProviderFunc 为指定推理节点构造 Chat 供应商。
type WorkerProviderFunc func(w *worker.Worker) llm.ChatProvider

// Generator 把请求派发到具体推理节点并生成答案。
// 每个节点的供应商按节点 ID 缓存复用。
type Generator struct {
	config      *GeneratorConfig
	newProvider WorkerProviderFunc

	mu        sync.Mutex
	providers map[string]llm.ChatProvider
}

// NewGenerator 创建生成器实例。newProvider 为 nil 时使用 Ollama 供应商。
func NewGenerator(config *GeneratorConfig, newProvider WorkerProviderFunc) *Generator {
	if config == nil {
		config = DefaultGeneratorConfig()
	}
	g := &Generator{
		config:      config,
		newProvider: newProvider,
		providers:   make(map[string]llm.ChatProvider),
	}
	if g.newProvider == nil {
		g.newProvider = g.ollamaProvider
	}
	return g
}

func (g *Generator) ollamaProvider(w *worker.Worker) llm.ChatProvider {
	return ollama.NewProviderWithConfig(&ollama.Config{
		BaseURL:    w.Address,
		ChatModel:  w.ModelTag,
		Timeout:    g.config.Timeout,
		MaxRetries: 1,
	})
}

// provider 返回绑定到节点的供应商，按节点 ID 缓存。
func (g *Generator) provider(w *worker.Worker) llm.ChatProvider {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.providers[w.ID]; ok {
		return p
	}
	p := g.newProvider(w)
	g.providers[w.ID] = p
	return p
}

// buildPrompt 用检索候选填充提示词模板。
func buildPrompt(template, question string, candidates []*model.RetrievalCandidate) string {
	var contextBuilder strings.Builder
	for i, c := range repackForPrompt(candidates) {
		contextBuilder.WriteString(fmt.Sprintf("[%d] From %s - %s:\n%s\n\n",
			i+1, c.DocumentName, c.Section, c.Content))
	}
	prompt := strings.ReplaceAll(template, "{{context}}", contextBuilder.String())
	return strings.ReplaceAll(prompt, "{{question}}", question)
}

// repackForPrompt 重组候选顺序,高分放在首尾,低分放在中间。
// 模型对上下文首尾的注意力更高("lost in the middle")。
// 候选已按融合分数降序,只影响提示词内的摆放,不影响返回的来源顺序。
func repackForPrompt(candidates []*model.RetrievalCandidate) []*model.RetrievalCandidate {
	if len(candidates) <= 2 {
		return candidates
	}

	repacked := make([]*model.RetrievalCandidate, len(candidates))
	left, right := 0, len(candidates)-1
	for i, c := range candidates {
		if i%2 == 0 {
			repacked[left] = c
			left++
		} else {
			repacked[right] = c
			right--
		}
	}
	return repacked
}

// Generate 在指定节点上生成答案。
// 超时映射为生成超时错误，其余失败映射为生成失败错误，两者均可换节点重试。
func (g *Generator) Generate(ctx context.Context, w *worker.Worker, question string, candidates []*model.RetrievalCandidate) (string, error) {
	if len(candidates) == 0 {
		return noContextAnswer, nil
	}

	gctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	start := time.Now()
	answer, err := g.provider(w).Generate(gctx, buildPrompt(g.config.SystemPrompt, question, candidates), "")
	metrics.Get().RecordGeneration(time.Since(start), err)

	if err != nil {
		return "", g.classify(gctx, w, err)
	}

	logger.Debugw("answer generated",
		"worker", w.ID,
		"model", w.ModelTag,
		"length", len(answer),
		"duration", time.Since(start).String(),
	)
	return answer, nil
}

// GenerateRaw 在指定节点上用现成提示词生成文本，不走模板填充。
// 合成等二次生成场景使用。
func (g *Generator) GenerateRaw(ctx context.Context, w *worker.Worker, prompt string) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	start := time.Now()
	answer, err := g.provider(w).Generate(gctx, prompt, "")
	metrics.Get().RecordGeneration(time.Since(start), err)

	if err != nil {
		return "", g.classify(gctx, w, err)
	}
	return answer, nil
}

// GenerateStream 在指定节点上流式生成答案，逐块回调 fn。
// 供应商不支持流式时整体生成后作为单块返回。
func (g *Generator) GenerateStream(ctx context.Context, w *worker.Worker, question string, candidates []*model.RetrievalCandidate, fn llm.StreamFunc) error {
	if len(candidates) == 0 {
		return fn(llm.StreamChunk{Content: noContextAnswer, Done: true})
	}

	streaming, ok := g.provider(w).(llm.StreamingChatProvider)
	if !ok {
		answer, err := g.Generate(ctx, w, question, candidates)
		if err != nil {
			return err
		}
		return fn(llm.StreamChunk{Content: answer, Done: true})
	}

	gctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	start := time.Now()
	err := streaming.GenerateStream(gctx, buildPrompt(g.config.SystemPrompt, question, candidates), "", fn)
	metrics.Get().RecordGeneration(time.Since(start), err)

	if err != nil {
		return g.classify(gctx, w, err)
	}
	return nil
}

// classify 把供应商错误映射为网关错误码。
func (g *Generator) classify(ctx context.Context, w *worker.Worker, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		logger.Warnw("generation timed out", "worker", w.ID, "timeout", g.config.Timeout.String())
		return errors.ErrGenerationTimeout.WithCause(err)
	}
	logger.Warnw("generation failed", "worker", w.ID, "error", err.Error())
	return errors.ErrGenerationFailure.WithCause(err)
}
