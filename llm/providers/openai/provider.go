package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/serkansepil/agent-planner-sub001/internal/tlsutil"
	"github.com/serkansepil/agent-planner-sub001/llm"
	"github.com/serkansepil/agent-planner-sub001/llm/providers"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.openai.com"
	defaultModel   = "gpt-4o-mini"
	endpointPath   = "/v1/chat/completions"
)

var defaultPrefixes = []string{"gpt-", "o1", "o3", "o4", "chatgpt-"}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   float32        `json:"temperature,omitempty"`
	TopP          float32        `json:"top_p,omitempty"`
	Stop          []string       `json:"stop,omitempty"`
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type chatChoice struct {
	Index        int          `json:"index"`
	FinishReason string       `json:"finish_reason"`
	Message      chatMessage  `json:"message"`
	Delta        *chatMessage `json:"delta,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   *chatUsage   `json:"usage,omitempty"`
}

// Provider 实现 OpenAI Chat Completions 协议。
type Provider struct {
	cfg    providers.Config
	client *http.Client
	logger *zap.Logger
}

// New 创建 OpenAI Provider
func New(cfg providers.Config, logger *zap.Logger) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if len(cfg.Prefixes) == 0 {
		cfg.Prefixes = defaultPrefixes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("provider", "openai")),
	}
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) SupportsModel(model string) bool {
	return providers.HasAnyPrefix(model, p.cfg.Prefixes)
}

func (p *Provider) buildRequest(messages []llm.Message, opts llm.Options, stream bool) chatRequest {
	body := chatRequest{
		Model:       providers.ChooseModel(opts.Model, p.cfg.Model, defaultModel),
		Messages:    make([]chatMessage, 0, len(messages)),
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Stop:        opts.Stop,
		Stream:      stream,
	}
	for _, m := range messages {
		body.Messages = append(body.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	if stream {
		body.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return body
}

func (p *Provider) do(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	url := strings.TrimRight(p.cfg.BaseURL, "/") + endpointPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.TransportError(ctx, err, p.Name())
	}
	if resp.StatusCode >= 400 {
		defer providers.SafeCloseBody(resp.Body)
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}
	return resp, nil
}

// Execute performs a non-streaming chat completion.
func (p *Provider) Execute(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Response, error) {
	body := p.buildRequest(messages, opts, false)
	resp, err := p.do(ctx, body)
	if err != nil {
		return nil, err
	}
	defer providers.SafeCloseBody(resp.Body)

	var oaResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, providers.TransportError(ctx, err, p.Name())
	}

	out := &llm.Response{
		ID:       oaResp.ID,
		Provider: p.Name(),
		Model:    oaResp.Model,
	}
	if out.Model == "" {
		out.Model = body.Model
	}
	if len(oaResp.Choices) > 0 {
		out.Content = oaResp.Choices[0].Message.Content
		out.FinishReason = oaResp.Choices[0].FinishReason
	}
	if oaResp.Usage != nil {
		out.Usage = llm.Usage{
			InputTokens:  oaResp.Usage.PromptTokens,
			OutputTokens: oaResp.Usage.CompletionTokens,
			TotalTokens:  oaResp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// ExecuteStream performs a streaming chat completion via SSE.
func (p *Provider) ExecuteStream(ctx context.Context, messages []llm.Message, opts llm.Options) (<-chan llm.StreamChunk, error) {
	resp, err := p.do(ctx, p.buildRequest(messages, opts, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer providers.SafeCloseBody(resp.Body)
		defer close(ch)

		var finish string
		var usage *llm.Usage
		readErr := providers.ReadSSE(ctx, resp.Body, func(ev providers.SSEEvent) (bool, error) {
			if ev.Data == "[DONE]" {
				return true, nil
			}
			var chunk chatResponse
			if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
				return true, err
			}
			if chunk.Usage != nil {
				usage = &llm.Usage{
					InputTokens:  chunk.Usage.PromptTokens,
					OutputTokens: chunk.Usage.CompletionTokens,
					TotalTokens:  chunk.Usage.TotalTokens,
				}
			}
			for _, choice := range chunk.Choices {
				if choice.FinishReason != "" {
					finish = choice.FinishReason
				}
				if choice.Delta == nil || choice.Delta.Content == "" {
					continue
				}
				if !providers.Emit(ctx, ch, llm.StreamChunk{Content: choice.Delta.Content}) {
					return true, ctx.Err()
				}
			}
			return false, nil
		})
		if readErr != nil {
			if ctx.Err() == nil {
				p.logger.Warn("stream aborted", zap.Error(readErr))
				providers.Emit(ctx, ch, llm.StreamChunk{Err: providers.TransportError(ctx, readErr, p.Name())})
			}
			return
		}
		providers.Emit(ctx, ch, llm.StreamChunk{Done: true, FinishReason: finish, Usage: usage})
	}()
	return ch, nil
}
