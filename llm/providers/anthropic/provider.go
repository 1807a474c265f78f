package anthropic

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
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-3-5-sonnet-20241022"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model         string          `json:"model"`
	System        string          `json:"system,omitempty"`
	Messages      []claudeMessage `json:"messages"`
	MaxTokens     int             `json:"max_tokens"`
	Temperature   float32         `json:"temperature,omitempty"`
	TopP          float32         `json:"top_p,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeResponse struct {
	ID         string          `json:"id"`
	Model      string          `json:"model"`
	Content    []claudeContent `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      claudeUsage     `json:"usage"`
}

// claudeStreamEvent covers message_start, content_block_delta, message_delta and error events.
type claudeStreamEvent struct {
	Type    string          `json:"type"`
	Message *claudeResponse `json:"message,omitempty"`
	Delta   *struct {
		Type       string `json:"type"`
		Text       string `json:"text,omitempty"`
		StopReason string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Usage *claudeUsage `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ClaudeProvider 实现 Anthropic Messages 协议。
type ClaudeProvider struct {
	cfg    providers.Config
	client *http.Client
	logger *zap.Logger
}

// NewClaudeProvider 创建 Claude Provider
func NewClaudeProvider(cfg providers.Config, logger *zap.Logger) *ClaudeProvider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if len(cfg.Prefixes) == 0 {
		cfg.Prefixes = []string{"claude-"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClaudeProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("provider", "anthropic")),
	}
}

func (p *ClaudeProvider) Name() string { return "anthropic" }

func (p *ClaudeProvider) SupportsModel(model string) bool {
	return providers.HasAnyPrefix(model, p.cfg.Prefixes)
}

func (p *ClaudeProvider) buildRequest(messages []llm.Message, opts llm.Options, stream bool) claudeRequest {
	system, rest := llm.SystemPrompt(messages)
	body := claudeRequest{
		Model:         providers.ChooseModel(opts.Model, p.cfg.Model, defaultModel),
		System:        system,
		Messages:      make([]claudeMessage, 0, len(rest)),
		MaxTokens:     opts.MaxTokens,
		Temperature:   opts.Temperature,
		TopP:          opts.TopP,
		StopSequences: opts.Stop,
		Stream:        stream,
	}
	// Messages API 要求 max_tokens 必填
	if body.MaxTokens <= 0 {
		body.MaxTokens = defaultMaxTokens
	}
	for _, m := range rest {
		body.Messages = append(body.Messages, claudeMessage{Role: string(m.Role), Content: m.Content})
	}
	return body
}

func (p *ClaudeProvider) do(ctx context.Context, body claudeRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
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

func (p *ClaudeProvider) Execute(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Response, error) {
	body := p.buildRequest(messages, opts, false)
	resp, err := p.do(ctx, body)
	if err != nil {
		return nil, err
	}
	defer providers.SafeCloseBody(resp.Body)

	var cr claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, providers.TransportError(ctx, err, p.Name())
	}

	var text strings.Builder
	for _, c := range cr.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	model := cr.Model
	if model == "" {
		model = body.Model
	}
	return &llm.Response{
		ID:           cr.ID,
		Provider:     p.Name(),
		Model:        model,
		Content:      text.String(),
		FinishReason: cr.StopReason,
		Usage: llm.Usage{
			InputTokens:  cr.Usage.InputTokens,
			OutputTokens: cr.Usage.OutputTokens,
			TotalTokens:  cr.Usage.InputTokens + cr.Usage.OutputTokens,
		},
	}, nil
}

func (p *ClaudeProvider) ExecuteStream(ctx context.Context, messages []llm.Message, opts llm.Options) (<-chan llm.StreamChunk, error) {
	resp, err := p.do(ctx, p.buildRequest(messages, opts, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer providers.SafeCloseBody(resp.Body)
		defer close(ch)

		var usage llm.Usage
		var finish string
		var upstream error
		readErr := providers.ReadSSE(ctx, resp.Body, func(ev providers.SSEEvent) (bool, error) {
			var event claudeStreamEvent
			if err := json.Unmarshal([]byte(ev.Data), &event); err != nil {
				return true, err
			}
			switch event.Type {
			case "message_start":
				if event.Message != nil {
					usage.InputTokens = event.Message.Usage.InputTokens
				}
			case "content_block_delta":
				if event.Delta != nil && event.Delta.Text != "" {
					if !providers.Emit(ctx, ch, llm.StreamChunk{Content: event.Delta.Text}) {
						return true, ctx.Err()
					}
				}
			case "message_delta":
				if event.Delta != nil && event.Delta.StopReason != "" {
					finish = event.Delta.StopReason
				}
				if event.Usage != nil {
					usage.OutputTokens = event.Usage.OutputTokens
				}
			case "error":
				msg := "stream error"
				if event.Error != nil {
					msg = event.Error.Message
				}
				upstream = providers.MapHTTPError(529, msg, p.Name())
				return true, nil
			case "message_stop":
				return true, nil
			}
			return false, nil
		})
		if upstream != nil {
			providers.Emit(ctx, ch, llm.StreamChunk{Err: upstream})
			return
		}
		if readErr != nil {
			if ctx.Err() == nil {
				p.logger.Warn("stream aborted", zap.Error(readErr))
				providers.Emit(ctx, ch, llm.StreamChunk{Err: providers.TransportError(ctx, readErr, p.Name())})
			}
			return
		}
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
		providers.Emit(ctx, ch, llm.StreamChunk{Done: true, FinishReason: finish, Usage: &usage})
	}()
	return ch, nil
}
