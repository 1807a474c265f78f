package gemini

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
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-1.5-flash"
)

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"` // user, model
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float32  `json:"temperature,omitempty"`
	TopP            float32  `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string               `json:"modelVersion,omitempty"`
	ResponseID    string               `json:"responseId,omitempty"`
}

// GeminiProvider 实现 Google Gemini 的 Provider
// 使用 x-goog-api-key 请求头认证，system 消息映射为 systemInstruction。
type GeminiProvider struct {
	cfg    providers.Config
	client *http.Client
	logger *zap.Logger
}

// NewGeminiProvider 创建 Gemini Provider
func NewGeminiProvider(cfg providers.Config, logger *zap.Logger) *GeminiProvider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if len(cfg.Prefixes) == 0 {
		cfg.Prefixes = []string{"gemini-"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("provider", "gemini")),
	}
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) SupportsModel(model string) bool {
	return providers.HasAnyPrefix(model, p.cfg.Prefixes)
}

// convertToGeminiContents 将统一格式转换为 Gemini 格式
func convertToGeminiContents(msgs []llm.Message) (*geminiContent, []geminiContent) {
	system, rest := llm.SystemPrompt(msgs)
	var systemInstruction *geminiContent
	if system != "" {
		systemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	contents := make([]geminiContent, 0, len(rest))
	for _, m := range rest {
		role := string(m.Role)
		if m.Role == llm.RoleAssistant {
			role = "model" // Gemini 使用 "model" 而不是 "assistant"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	return systemInstruction, contents
}

func (p *GeminiProvider) buildRequest(messages []llm.Message, opts llm.Options) geminiRequest {
	systemInstruction, contents := convertToGeminiContents(messages)
	body := geminiRequest{Contents: contents, SystemInstruction: systemInstruction}
	if opts.Temperature > 0 || opts.TopP > 0 || opts.MaxTokens > 0 || len(opts.Stop) > 0 {
		body.GenerationConfig = &geminiGenerationConfig{
			Temperature:     opts.Temperature,
			TopP:            opts.TopP,
			MaxOutputTokens: opts.MaxTokens,
			StopSequences:   opts.Stop,
		}
	}
	return body
}

func (p *GeminiProvider) do(ctx context.Context, model, action string, body geminiRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:%s", strings.TrimRight(p.cfg.BaseURL, "/"), model, action)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("x-goog-api-key", p.cfg.APIKey)
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

func candidateText(c geminiCandidate) string {
	var b strings.Builder
	for _, part := range c.Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String()
}

func toUsage(m *geminiUsageMetadata) llm.Usage {
	if m == nil {
		return llm.Usage{}
	}
	return llm.Usage{
		InputTokens:  m.PromptTokenCount,
		OutputTokens: m.CandidatesTokenCount,
		TotalTokens:  m.TotalTokenCount,
	}
}

func (p *GeminiProvider) Execute(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Response, error) {
	model := providers.ChooseModel(opts.Model, p.cfg.Model, defaultModel)
	resp, err := p.do(ctx, model, "generateContent", p.buildRequest(messages, opts))
	if err != nil {
		return nil, err
	}
	defer providers.SafeCloseBody(resp.Body)

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, providers.TransportError(ctx, err, p.Name())
	}
	out := &llm.Response{
		ID:       gr.ResponseID,
		Provider: p.Name(),
		Model:    model,
		Usage:    toUsage(gr.UsageMetadata),
	}
	if len(gr.Candidates) > 0 {
		out.Content = candidateText(gr.Candidates[0])
		out.FinishReason = gr.Candidates[0].FinishReason
	}
	return out, nil
}

func (p *GeminiProvider) ExecuteStream(ctx context.Context, messages []llm.Message, opts llm.Options) (<-chan llm.StreamChunk, error) {
	model := providers.ChooseModel(opts.Model, p.cfg.Model, defaultModel)
	resp, err := p.do(ctx, model, "streamGenerateContent?alt=sse", p.buildRequest(messages, opts))
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer providers.SafeCloseBody(resp.Body)
		defer close(ch)

		var usage *llm.Usage
		var finish string
		readErr := providers.ReadSSE(ctx, resp.Body, func(ev providers.SSEEvent) (bool, error) {
			var gr geminiResponse
			if err := json.Unmarshal([]byte(ev.Data), &gr); err != nil {
				return true, err
			}
			// 最后一个 chunk 包含 usage
			if gr.UsageMetadata != nil {
				u := toUsage(gr.UsageMetadata)
				usage = &u
			}
			for _, c := range gr.Candidates {
				if c.FinishReason != "" {
					finish = c.FinishReason
				}
				if text := candidateText(c); text != "" {
					if !providers.Emit(ctx, ch, llm.StreamChunk{Content: text}) {
						return true, ctx.Err()
					}
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
