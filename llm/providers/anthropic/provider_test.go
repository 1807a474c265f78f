package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/serkansepil/agent-planner-sub001/llm"
	"github.com/serkansepil/agent-planner-sub001/llm/providers"
	"github.com/serkansepil/agent-planner-sub001/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaudeProvider_ExecuteLiftsSystem(t *testing.T) {
	var got claudeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"id":"m1","model":"claude-3-opus","content":[{"type":"text","text":"hi there"}],"stop_reason":"end_turn","usage":{"input_tokens":9,"output_tokens":4}}`)
	}))
	defer srv.Close()

	p := NewClaudeProvider(providers.Config{APIKey: "key", BaseURL: srv.URL}, nil)
	resp, err := p.Execute(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "you are a planner"},
		{Role: llm.RoleUser, Content: "hello"},
	}, llm.Options{Model: "claude-3-opus"})
	require.NoError(t, err)

	assert.Equal(t, "you are a planner", got.System)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, defaultMaxTokens, got.MaxTokens)

	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, "end_turn", resp.FinishReason)
	assert.Equal(t, 13, resp.Usage.TotalTokens)
}

func TestClaudeProvider_ExecuteStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":10}}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"foo\"}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"bar\"}}\n\n")
		fmt.Fprint(w, "event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":2}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	p := NewClaudeProvider(providers.Config{BaseURL: srv.URL}, nil)
	ch, err := p.ExecuteStream(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "x"}}, llm.Options{})
	require.NoError(t, err)

	var text string
	var last llm.StreamChunk
	for c := range ch {
		require.NoError(t, c.Err)
		text += c.Content
		last = c
	}
	assert.Equal(t, "foobar", text)
	assert.True(t, last.Done)
	require.NotNil(t, last.Usage)
	assert.Equal(t, 12, last.Usage.TotalTokens)
}

func TestClaudeProvider_StreamErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	}))
	defer srv.Close()

	p := NewClaudeProvider(providers.Config{BaseURL: srv.URL}, nil)
	ch, err := p.ExecuteStream(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "x"}}, llm.Options{})
	require.NoError(t, err)

	c := <-ch
	require.Error(t, c.Err)
	assert.True(t, types.IsRetryable(c.Err))
	_, open := <-ch
	assert.False(t, open)
}

func TestClaudeProvider_StreamStopsOnCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"a\"}}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	p := NewClaudeProvider(providers.Config{BaseURL: srv.URL}, nil)
	ch, err := p.ExecuteStream(ctx, []llm.Message{{Role: llm.RoleUser, Content: "x"}}, llm.Options{})
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, "a", first.Content)
	cancel()

	drained := make(chan struct{})
	go func() {
		for range ch {
		}
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancellation")
	}
}
