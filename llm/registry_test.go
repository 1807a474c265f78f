package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/serkansepil/agent-planner-sub001/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name     string
	prefixes []string
}

func (s *stubProvider) Execute(context.Context, []Message, Options) (*Response, error) {
	return &Response{Provider: s.name}, nil
}

func (s *stubProvider) ExecuteStream(context.Context, []Message, Options) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk)
	close(ch)
	return ch, nil
}

func (s *stubProvider) SupportsModel(model string) bool {
	for _, p := range s.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

func (s *stubProvider) Name() string { return s.name }

func TestProviderRegistry_ResolveLongestPrefix(t *testing.T) {
	r := NewProviderRegistry()
	r.Register(&stubProvider{name: "openai"}, "gpt-")
	r.Register(&stubProvider{name: "azure"}, "gpt-4o-azure")

	p, err := r.Resolve("gpt-4o-azure-2024")
	require.NoError(t, err)
	assert.Equal(t, "azure", p.Name())

	p, err = r.Resolve("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	rules := r.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "gpt-4o-azure", rules[0].Prefix)
}

func TestProviderRegistry_FallsBackToSupportsModel(t *testing.T) {
	r := NewProviderRegistry()
	r.Register(&stubProvider{name: "anthropic", prefixes: []string{"claude-"}})
	r.Register(&stubProvider{name: "gemini", prefixes: []string{"gemini-"}})

	p, err := r.Resolve("gemini-1.5-pro")
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())
}

func TestProviderRegistry_UnknownModel(t *testing.T) {
	r := NewProviderRegistry()
	r.Register(&stubProvider{name: "anthropic", prefixes: []string{"claude-"}})

	_, err := r.Resolve("llama-3")
	require.Error(t, err)
	assert.Equal(t, types.ErrModelNotSupported, types.GetErrorCode(err))

	require.NoError(t, r.SetDefault("anthropic"))
	p, err := r.Resolve("llama-3")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	assert.Error(t, r.SetDefault("missing"))
	assert.Equal(t, []string{"anthropic"}, r.List())
	assert.Equal(t, 1, r.Len())
}

func TestSystemPrompt(t *testing.T) {
	system, rest := SystemPrompt([]Message{
		{Role: RoleSystem, Content: "be terse"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleSystem, Content: "answer in english"},
	})
	assert.Equal(t, "be terse\n\nanswer in english", system)
	require.Len(t, rest, 1)
	assert.Equal(t, RoleUser, rest[0].Role)
}
