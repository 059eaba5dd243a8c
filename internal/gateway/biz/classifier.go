package biz

import (
	"strings"

	"github.com/kart-io/ragway/internal/model"
	classifieropts "github.com/kart-io/ragway/pkg/options/classifier"
)

// signals 分类决策使用的结构化信号。
// 信号提取与判定分离，规则可针对信号独立测试。
type signals struct {
	tokens        int
	questionMarks int
	connectives   int
	complexMatch  bool
}

// Classifier 基于确定性规则的查询复杂度分类器。
// 关键词与阈值全部来自配置。
type Classifier struct {
	opts *classifieropts.Options
}

// NewClassifier 创建分类器实例。
func NewClassifier(opts *classifieropts.Options) *Classifier {
	if opts == nil {
		opts = classifieropts.NewOptions()
	}
	return &Classifier{opts: opts}
}

// extract 从规范化文本提取分类信号。
func (c *Classifier) extract(raw string) signals {
	normalized := model.NormalizeText(raw)

	s := signals{
		tokens:        len(strings.Fields(normalized)),
		questionMarks: strings.Count(raw, "?"),
	}
	for _, kw := range c.opts.ComplexKeywords {
		if strings.Contains(normalized, strings.ToLower(kw)) {
			s.complexMatch = true
			break
		}
	}
	for _, conn := range c.opts.Connectives {
		s.connectives += countWord(normalized, strings.ToLower(conn))
	}
	return s
}

// countWord 统计 word 在 text 中按词边界出现的次数。
func countWord(text, word string) int {
	fields := strings.Fields(text)
	wordFields := strings.Fields(word)
	if len(wordFields) == 0 {
		return 0
	}

	count := 0
	for i := 0; i+len(wordFields) <= len(fields); i++ {
		match := true
		for j, w := range wordFields {
			if strings.Trim(fields[i+j], ".,;:!?") != w {
				match = false
				break
			}
		}
		if match {
			count++
		}
	}
	return count
}

// classify 由信号确定复杂度，规则为纯函数。
func (c *Classifier) classify(s signals) model.ComplexityTier {
	// 分析类关键词、超长文本或多问句直接判为 complex。
	if s.complexMatch || s.tokens > c.opts.ModerateMaxTokens || s.questionMarks > 1 {
		return model.TierComplex
	}
	// 短且无多段信号的事实型问题判为 simple。
	if s.tokens < c.opts.SimpleMaxTokens && s.connectives == 0 {
		return model.TierSimple
	}
	return model.TierModerate
}

// Classify 对查询文本分级。
func (c *Classifier) Classify(text string) model.ComplexityTier {
	return c.classify(c.extract(text))
}

// Annotate 为查询填充复杂度与拆分标记。
// 检出多个独立问句时标记需要拆分。
func (c *Classifier) Annotate(q *model.Query) {
	q.Tier = c.Classify(q.Raw)
	q.NeedsDecomposition = len(splitSegments(q.Raw, c.opts.Connectives)) > 1
}

// WorkerClass 复杂度到工作节点类别的映射。
func (c *Classifier) WorkerClass(tier model.ComplexityTier) string {
	if class, ok := c.opts.ClassMap[string(tier)]; ok {
		return class
	}
	return string(tier)
}
