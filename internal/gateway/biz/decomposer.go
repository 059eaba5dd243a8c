package biz

import (
	"strings"
	"unicode"

	"github.com/kart-io/ragway/internal/model"
	"github.com/kart-io/ragway/pkg/errors"
	classifieropts "github.com/kart-io/ragway/pkg/options/classifier"
)

// minSegmentTokens 连接词切分时两侧片段的最小词元数，
// 避免把 "pros and cons" 这类固定搭配切碎。
const minSegmentTokens = 3

// Decomposer 把多段查询拆分为独立子查询。
type Decomposer struct {
	opts       *classifieropts.Options
	classifier *Classifier
}

// NewDecomposer 创建分解器实例。
func NewDecomposer(opts *classifieropts.Options, classifier *Classifier) *Decomposer {
	if opts == nil {
		opts = classifieropts.NewOptions()
	}
	return &Decomposer{
		opts:       opts,
		classifier: classifier,
	}
}

// splitSegments 把查询切成候选片段：先按句边界，再按连接词。
// 连接词只在两侧都像独立问题时才作为切分点。
func splitSegments(raw string, connectives []string) []string {
	sentences := splitSentences(raw)

	var segments []string
	for _, sentence := range sentences {
		segments = append(segments, splitOnConnectives(sentence, connectives)...)
	}
	return segments
}

// splitSentences 按句终结符切分，保留非空句子。
// 句号只在后随空白或位于末尾时算终结符，避免切碎 "v1.28" 这类词元。
func splitSentences(raw string) []string {
	var sentences []string
	var sb strings.Builder
	flush := func() {
		if s := strings.TrimSpace(sb.String()); s != "" {
			sentences = append(sentences, s)
		}
		sb.Reset()
	}

	runes := []rune(raw)
	for i, r := range runes {
		switch {
		case r == '?' || r == '!' || r == ';' || r == '。' || r == '？' || r == '！' || r == '；':
			flush()
		case r == '.' && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])):
			flush()
		default:
			sb.WriteRune(r)
		}
	}
	flush()
	return sentences
}

// splitOnConnectives 按连接词切分单句。
func splitOnConnectives(sentence string, connectives []string) []string {
	fields := strings.Fields(sentence)
	if len(fields) == 0 {
		return nil
	}

	var segments []string
	start := 0
	for i := 0; i < len(fields); i++ {
		width := connectiveAt(fields, i, connectives)
		if width == 0 {
			continue
		}
		// 两侧都要足够长才算独立片段。
		left := fields[start:i]
		right := fields[i+width:]
		if len(left) >= minSegmentTokens && len(right) >= minSegmentTokens {
			segments = append(segments, strings.Join(left, " "))
			start = i + width
			i += width - 1
		}
	}
	segments = append(segments, strings.Join(fields[start:], " "))
	return segments
}

// connectiveAt 判断 fields[i] 起是否匹配某个连接词，返回其词数。
func connectiveAt(fields []string, i int, connectives []string) int {
	for _, conn := range connectives {
		connFields := strings.Fields(strings.ToLower(conn))
		if len(connFields) == 0 || i+len(connFields) > len(fields) {
			continue
		}
		match := true
		for j, w := range connFields {
			if strings.ToLower(strings.Trim(fields[i+j], ".,;:!?")) != w {
				match = false
				break
			}
		}
		if match {
			return len(connFields)
		}
	}
	return 0
}

// Decompose 把查询拆分为子查询,长度恒大于等于 1。
// 单问题输入返回一个等于原文的子查询；空输入立即报错。
func (d *Decomposer) Decompose(q *model.Query) ([]*model.SubQuery, error) {
	if strings.TrimSpace(q.Raw) == "" {
		return nil, errors.ErrDecompositionFailure.WithMessage("empty query text")
	}

	texts := []string{q.Raw}
	if q.NeedsDecomposition {
		if segments := splitSegments(q.Raw, d.opts.Connectives); len(segments) > 1 {
			texts = segments
		}
	}

	// 超出上限的片段并入最后一个子查询，不丢内容。
	if len(texts) > d.opts.MaxSubQueries {
		tail := strings.Join(texts[d.opts.MaxSubQueries-1:], " ")
		texts = append(texts[:d.opts.MaxSubQueries-1], tail)
	}

	subQueries := make([]*model.SubQuery, 0, len(texts))
	for _, text := range texts {
		normalized := model.NormalizeText(text)
		tier := d.classifier.Classify(text)
		subQueries = append(subQueries, &model.SubQuery{
			ParentFingerprint: q.Fingerprint,
			Text:              text,
			Normalized:        normalized,
			Fingerprint:       model.Fingerprint(normalized, q.Scope),
			Tier:              tier,
			WorkerClass:       d.classifier.WorkerClass(tier),
		})
	}
	return subQueries, nil
}
