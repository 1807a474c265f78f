package llm

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/serkansepil/agent-planner-sub001/types"
)

// PrefixRule 前缀路由规则
type PrefixRule struct {
	Prefix   string // 模型 ID 前缀（如 "gpt-4o", "claude-3-5-sonnet"）
	Provider string // Provider 名称（如 "openai", "anthropic"）
}

// ProviderRegistry is a thread-safe registry resolving models to providers.
// Declared prefix rules win (longest first); otherwise providers are asked
// through SupportsModel in registration order.
type ProviderRegistry struct {
	providers       map[string]Provider
	order           []string
	rules           []PrefixRule
	defaultProvider string
	mu              sync.RWMutex
}

// NewProviderRegistry creates an empty ProviderRegistry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider under its Name and declares optional model prefixes for it.
// Registering the same name again replaces the provider and keeps its position.
func (r *ProviderRegistry) Register(p Provider, prefixes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	if _, exists := r.providers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
	for _, prefix := range prefixes {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			r.rules = append(r.rules, PrefixRule{Prefix: prefix, Provider: name})
		}
	}
	// 最长前缀优先
	sort.SliceStable(r.rules, func(i, j int) bool {
		return len(r.rules[i].Prefix) > len(r.rules[j].Prefix)
	})
}

// Get retrieves a provider by name.
func (r *ProviderRegistry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// SetDefault designates an existing registered provider as the fallback for unknown models.
func (r *ProviderRegistry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("provider %q not registered", name)
	}
	r.defaultProvider = name
	return nil
}

// Resolve returns the provider serving model.
func (r *ProviderRegistry) Resolve(model string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if model != "" {
		for _, rule := range r.rules {
			if strings.HasPrefix(model, rule.Prefix) {
				if p, ok := r.providers[rule.Provider]; ok {
					return p, nil
				}
			}
		}
		for _, name := range r.order {
			if p := r.providers[name]; p.SupportsModel(model) {
				return p, nil
			}
		}
	}
	if p, ok := r.providers[r.defaultProvider]; ok {
		return p, nil
	}
	return nil, types.NewError(types.ErrModelNotSupported, fmt.Sprintf("no provider supports model %q", model)).
		WithHTTPStatus(400)
}

// Rules returns a copy of the prefix rules in match order.
func (r *ProviderRegistry) Rules() []PrefixRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PrefixRule, len(r.rules))
	copy(out, r.rules)
	return out
}

// List returns the sorted names of all registered providers.
func (r *ProviderRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered providers.
func (r *ProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
