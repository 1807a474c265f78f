package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/serkansepil/agent-planner-sub001/llm"
	"github.com/serkansepil/agent-planner-sub001/llm/providers"
	"github.com/serkansepil/agent-planner-sub001/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_Execute(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","model":"gpt-4o","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hello"}}],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`)
	}))
	defer srv.Close()

	p := New(providers.Config{APIKey: "sk-test", BaseURL: srv.URL}, nil)
	resp, err := p.Execute(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "be terse"},
		{Role: llm.RoleUser, Content: "hi"},
	}, llm.Options{Model: "gpt-4o", Temperature: 0.2, MaxTokens: 64})
	require.NoError(t, err)

	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, llm.Usage{InputTokens: 12, OutputTokens: 3, TotalTokens: 15}, resp.Usage)
	assert.Equal(t, "gpt-4o", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, 64, got.MaxTokens)
}

func TestProvider_ExecuteMapsErrors(t *testing.T) {
	for status, retryable := range map[int]bool{401: false, 429: true, 503: true} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"nope","type":"x"}}`)
		}))
		p := New(providers.Config{BaseURL: srv.URL}, nil)
		_, err := p.Execute(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.Options{Model: "gpt-4o"})
		srv.Close()

		require.Error(t, err)
		assert.Equal(t, types.ErrProvider, types.GetErrorCode(err))
		assert.Equal(t, retryable, types.IsRetryable(err), "status %d", status)
	}
}

func TestProvider_ExecuteStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.Stream)
		require.NotNil(t, body.StreamOptions)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2,\"total_tokens\":7}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := New(providers.Config{BaseURL: srv.URL}, nil)
	ch, err := p.ExecuteStream(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hi"}}, llm.Options{Model: "gpt-4o"})
	require.NoError(t, err)

	var text string
	var last llm.StreamChunk
	for c := range ch {
		require.NoError(t, c.Err)
		text += c.Content
		last = c
	}
	assert.Equal(t, "Hello", text)
	assert.True(t, last.Done)
	assert.Equal(t, "stop", last.FinishReason)
	require.NotNil(t, last.Usage)
	assert.Equal(t, 7, last.Usage.TotalTokens)
}

func TestProvider_SupportsModel(t *testing.T) {
	p := New(providers.Config{}, nil)
	assert.True(t, p.SupportsModel("gpt-4o"))
	assert.True(t, p.SupportsModel("o3-mini"))
	assert.False(t, p.SupportsModel("claude-3-opus"))
}
