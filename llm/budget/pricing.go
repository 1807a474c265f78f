package budget

import (
	"sort"
	"strings"
	"sync"
)

// ModelPricing 每百万 Token 的价格。
type ModelPricing struct {
	Model                 string  `json:"model" yaml:"model"`
	InputCostPer1MTokens  float64 `json:"input_cost_per_1m_tokens" yaml:"input_cost_per_1m_tokens"`
	OutputCostPer1MTokens float64 `json:"output_cost_per_1m_tokens" yaml:"output_cost_per_1m_tokens"`
	Currency              string  `json:"currency" yaml:"currency"`
}

// DefaultCurrency is used when a pricing row leaves currency empty.
const DefaultCurrency = "USD"

// DefaultModelPricing returns the built-in pricing rows.
func DefaultModelPricing() []ModelPricing {
	return []ModelPricing{
		{Model: "gpt-4o", InputCostPer1MTokens: 5.0, OutputCostPer1MTokens: 15.0},
		{Model: "gpt-4o-mini", InputCostPer1MTokens: 0.15, OutputCostPer1MTokens: 0.6},
		{Model: "gpt-4-turbo", InputCostPer1MTokens: 10.0, OutputCostPer1MTokens: 30.0},
		{Model: "gpt-4", InputCostPer1MTokens: 30.0, OutputCostPer1MTokens: 60.0},
		{Model: "gpt-3.5-turbo", InputCostPer1MTokens: 0.5, OutputCostPer1MTokens: 1.5},
		{Model: "claude-3-5-sonnet", InputCostPer1MTokens: 3.0, OutputCostPer1MTokens: 15.0},
		{Model: "claude-3-opus", InputCostPer1MTokens: 15.0, OutputCostPer1MTokens: 75.0},
		{Model: "claude-3-haiku", InputCostPer1MTokens: 0.25, OutputCostPer1MTokens: 1.25},
		{Model: "gemini-1.5-pro", InputCostPer1MTokens: 3.5, OutputCostPer1MTokens: 10.5},
		{Model: "gemini-1.5-flash", InputCostPer1MTokens: 0.075, OutputCostPer1MTokens: 0.3},
	}
}

// DefaultFallbackPricing applies to models no row matches.
func DefaultFallbackPricing() ModelPricing {
	return ModelPricing{Model: "default", InputCostPer1MTokens: 1.0, OutputCostPer1MTokens: 2.0, Currency: DefaultCurrency}
}

// PricingTable 定价表。请求期间只读，Set 用于启动时装载与配置更新。
type PricingTable struct {
	mu       sync.RWMutex
	rows     map[string]ModelPricing
	prefixes []string // 按长度降序
	fallback ModelPricing
}

// NewPricingTable builds a table from rows; later rows override earlier ones.
func NewPricingTable(fallback ModelPricing, rows ...ModelPricing) *PricingTable {
	if fallback.Currency == "" {
		fallback.Currency = DefaultCurrency
	}
	t := &PricingTable{rows: make(map[string]ModelPricing), fallback: fallback}
	t.Set(rows...)
	return t
}

// Set inserts or replaces rows.
func (t *PricingTable) Set(rows ...ModelPricing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range rows {
		r.Model = strings.TrimSpace(r.Model)
		if r.Model == "" {
			continue
		}
		if r.Currency == "" {
			r.Currency = DefaultCurrency
		}
		t.rows[r.Model] = r
	}
	t.prefixes = t.prefixes[:0]
	for m := range t.rows {
		t.prefixes = append(t.prefixes, m)
	}
	sort.Slice(t.prefixes, func(i, j int) bool {
		if len(t.prefixes[i]) != len(t.prefixes[j]) {
			return len(t.prefixes[i]) > len(t.prefixes[j])
		}
		return t.prefixes[i] < t.prefixes[j]
	})
}

// MatchKind reports how a lookup was resolved.
type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchPrefix   MatchKind = "prefix"
	MatchFallback MatchKind = "fallback"
)

// Lookup resolves model: exact row, then longest prefix row, then fallback.
func (t *PricingTable) Lookup(model string) (ModelPricing, MatchKind) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.rows[model]; ok {
		return p, MatchExact
	}
	for _, prefix := range t.prefixes {
		if strings.HasPrefix(model, prefix) {
			return t.rows[prefix], MatchPrefix
		}
	}
	return t.fallback, MatchFallback
}

// Rows returns all rows sorted by model.
func (t *PricingTable) Rows() []ModelPricing {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ModelPricing, 0, len(t.rows))
	for _, r := range t.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}
