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
	"github.com/serkansepil/agent-planner-sub001/llm/providers"
	"go.uber.org/zap"
)

const (
	embeddingsPath        = "/v1/embeddings"
	defaultEmbeddingModel = "text-embedding-3-small"
)

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embedder 调用 OpenAI Embeddings 接口，为检索查询生成向量。
type Embedder struct {
	cfg    providers.Config
	client *http.Client
	logger *zap.Logger
}

// NewEmbedder 创建 Embedder。cfg.Model 为空时使用 text-embedding-3-small。
func NewEmbedder(cfg providers.Config, logger *zap.Logger) *Embedder {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultEmbeddingModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("provider", "openai"), zap.String("component", "embedder")),
	}
}

// Embed 返回 text 的向量。
func (e *Embedder) Embed(ctx context.Context, text string) ([]float64, error) {
	payload, err := json.Marshal(embeddingRequest{Model: e.cfg.Model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	url := strings.TrimRight(e.cfg.BaseURL, "/") + embeddingsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, providers.TransportError(ctx, err, "openai")
	}
	defer providers.SafeCloseBody(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, providers.MapHTTPError(resp.StatusCode, providers.ReadErrorMessage(resp.Body), "openai")
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode embeddings: %w", err)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, providers.MapHTTPError(http.StatusBadGateway, "empty embedding response", "openai")
	}
	return out.Data[0].Embedding, nil
}
