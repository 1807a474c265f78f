package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/serkansepil/agent-planner-sub001/types"
)

// SearchType 检索模式
type SearchType string

const (
	SearchVector  SearchType = "vector"
	SearchKeyword SearchType = "keyword"
	SearchHybrid  SearchType = "hybrid"
)

// usesVector / usesKeyword 决定需要计算的子分数
func (t SearchType) usesVector() bool { return t == SearchVector || t == SearchHybrid }
func (t SearchType) usesKeyword() bool { return t == SearchKeyword || t == SearchHybrid }

// Chunk 文档分块
type Chunk struct {
	ID         string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	Content    string         `json:"content"`
	ChunkIndex int            `json:"chunk_index"`
	Embedding  []float64      `json:"embedding,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Filters 候选过滤条件
type Filters struct {
	DocumentIDs []string          `json:"document_ids,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Match 判断分块是否满足过滤条件
func (f Filters) Match(c Chunk) bool {
	if len(f.DocumentIDs) > 0 {
		found := false
		for _, id := range f.DocumentIDs {
			if id == c.DocumentID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for k, want := range f.Metadata {
		got, ok := c.Metadata[k]
		if !ok || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

// ChunkStore 提供检索候选
type ChunkStore interface {
	ListChunks(ctx context.Context, filters Filters) ([]Chunk, error)
}

// Embedder 生成查询向量
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// SearchRequest 检索请求
type SearchRequest struct {
	Query               string     `json:"query"`
	SearchType          SearchType `json:"search_type"`
	TopK                int        `json:"top_k"`
	SimilarityThreshold float64    `json:"similarity_threshold"`
	// 两个权重都未设置时使用默认权重；只设置一个时另一个按 0 计
	VectorWeight        *float64   `json:"vector_weight,omitempty"`
	KeywordWeight       *float64   `json:"keyword_weight,omitempty"`
	MinKeywordMatches   int        `json:"min_keyword_matches"`
	Filters             Filters    `json:"filters"`
}

const (
	DefaultTopK          = 10
	MaxTopK              = 100
	DefaultVectorWeight  = 0.7
	DefaultKeywordWeight = 0.3
)

// Weight 返回权重指针，用于构造 SearchRequest
func Weight(v float64) *float64 { return &v }

// Normalize 补齐默认值并校验范围
func (r SearchRequest) Normalize() (SearchRequest, error) {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return r, types.NewValidationError("query is required")
	}
	if r.SearchType == "" {
		r.SearchType = SearchHybrid
	}
	switch r.SearchType {
	case SearchVector, SearchKeyword, SearchHybrid:
	default:
		return r, types.NewValidationError(fmt.Sprintf("unknown search type %q", r.SearchType))
	}
	if r.TopK == 0 {
		r.TopK = DefaultTopK
	}
	if r.TopK < 1 || r.TopK > MaxTopK {
		return r, types.NewValidationError(fmt.Sprintf("top_k must be between 1 and %d", MaxTopK))
	}
	if r.SimilarityThreshold < 0 || r.SimilarityThreshold > 1 {
		return r, types.NewValidationError("similarity_threshold must be within [0, 1]")
	}
	switch {
	case r.VectorWeight == nil && r.KeywordWeight == nil:
		r.VectorWeight, r.KeywordWeight = Weight(DefaultVectorWeight), Weight(DefaultKeywordWeight)
	case r.VectorWeight == nil:
		r.VectorWeight = Weight(0)
	case r.KeywordWeight == nil:
		r.KeywordWeight = Weight(0)
	}
	if *r.VectorWeight < 0 || *r.KeywordWeight < 0 {
		return r, types.NewValidationError("weights must not be negative")
	}
	if r.MinKeywordMatches < 0 {
		return r, types.NewValidationError("min_keyword_matches must not be negative")
	}
	return r, nil
}

// SearchResult 单条结果
type SearchResult struct {
	ChunkID         string         `json:"chunk_id"`
	DocumentID      string         `json:"document_id"`
	Content         string         `json:"content"`
	VectorScore     float64        `json:"vector_score"`
	KeywordScore    float64        `json:"keyword_score"`
	HybridScore     float64        `json:"hybrid_score"`
	MatchedKeywords []string       `json:"matched_keywords,omitempty"`
	ChunkIndex      int            `json:"chunk_index"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Score 返回该模式下用于排序与阈值的分数
func (r SearchResult) Score(t SearchType) float64 {
	switch t {
	case SearchVector:
		return r.VectorScore
	case SearchKeyword:
		return r.KeywordScore
	default:
		return r.HybridScore
	}
}

// SearchResponse 检索响应
type SearchResponse struct {
	Results         []SearchResult `json:"results"`
	SearchType      SearchType     `json:"search_type"`
	Keywords        []string       `json:"keywords,omitempty"`
	TotalCandidates int            `json:"total_candidates"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
}
