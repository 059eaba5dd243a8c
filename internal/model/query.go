// Package model provides data models for the ragway serving gateway.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ComplexityTier 查询复杂度分级。
type ComplexityTier string

const (
	// TierSimple 事实型短查询。
	TierSimple ComplexityTier = "simple"
	// TierModerate 中等复杂度查询。
	TierModerate ComplexityTier = "moderate"
	// TierComplex 分析型 / 多步骤查询。
	TierComplex ComplexityTier = "complex"
)

// Valid reports whether the tier is a known value.
func (t ComplexityTier) Valid() bool {
	switch t {
	case TierSimple, TierModerate, TierComplex:
		return true
	}
	return false
}

// Query represents one inbound user query.
type Query struct {
	// Raw 原始查询文本。
	Raw string `json:"raw"`
	// Normalized 规范化后的文本（小写、折叠空白）。
	Normalized string `json:"normalized"`
	// Scope 作用域（session/user），参与指纹计算。
	Scope string `json:"scope,omitempty"`
	// Fingerprint 确定性指纹，作为缓存键。
	Fingerprint string `json:"fingerprint"`
	// Tier 分类器给出的复杂度分级。
	Tier ComplexityTier `json:"tier"`
	// NeedsDecomposition 是否需要拆分为子查询。
	NeedsDecomposition bool `json:"needs_decomposition"`
}

// SubQuery 属于某个父查询的独立子查询。
// 未拆分的查询有且只有一个等于自身的隐式子查询。
type SubQuery struct {
	// ParentFingerprint 父查询指纹。
	ParentFingerprint string `json:"parent_fingerprint"`
	// Text 子查询文本。
	Text string `json:"text"`
	// Normalized 规范化文本。
	Normalized string `json:"normalized"`
	// Fingerprint 子查询自身指纹。
	Fingerprint string `json:"fingerprint"`
	// Tier 独立分类得到的复杂度分级。
	Tier ComplexityTier `json:"tier"`
	// WorkerClass 由分级映射表确定的工作节点类别。
	WorkerClass string `json:"worker_class"`
}

// NormalizeText lower-cases, trims, and collapses whitespace so that
// trivially different spellings of the same question share a fingerprint.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

// Fingerprint computes the deterministic cache key for a normalized text
// within a scope. Identical inputs always produce identical keys.
func Fingerprint(normalized, scope string) string {
	h := sha256.Sum256([]byte(normalized + "\x00" + scope))
	return hex.EncodeToString(h[:])
}

// NewQuery builds a Query from raw text and scope. Classification fields
// are filled in later by the classifier.
func NewQuery(raw, scope string) *Query {
	normalized := NormalizeText(raw)
	return &Query{
		Raw:         raw,
		Normalized:  normalized,
		Scope:       scope,
		Fingerprint: Fingerprint(normalized, scope),
	}
}
