package rag

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/serkansepil/agent-planner-sub001/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Observer 接收检索指标，由 internal/metrics.Collector 实现。
type Observer interface {
	RecordSearch(searchType string, duration time.Duration, results int)
}

// EngineOption 配置 Engine
type EngineOption func(*Engine)

// WithObserver 设置指标上报
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithDefaultWeights 设置 hybrid 请求未指定权重时使用的权重
func WithDefaultWeights(vector, keyword float64) EngineOption {
	return func(e *Engine) {
		e.vectorWeight = vector
		e.keywordWeight = keyword
		e.hasDefaultWeights = true
	}
}

// Engine 混合检索引擎
type Engine struct {
	store    ChunkStore
	embedder Embedder
	observer Observer
	tracer   trace.Tracer
	logger   *zap.Logger

	vectorWeight      float64
	keywordWeight     float64
	hasDefaultWeights bool
}

// NewEngine 创建检索引擎。embedder 可为 nil，此时仅支持 keyword 模式。
func NewEngine(store ChunkStore, embedder Embedder, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:    store,
		embedder: embedder,
		tracer:   otel.Tracer("github.com/serkansepil/agent-planner-sub001/rag"),
		logger:   logger.With(zap.String("component", "hybrid_retrieval")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HybridScore 计算融合分数，权重无需和为 1。
func HybridScore(vectorScore, keywordScore, vectorWeight, keywordWeight float64) float64 {
	return roundScore(vectorWeight*vectorScore + keywordWeight*keywordScore)
}

type keywordHit struct {
	matched []string
	score   float64
}

// Search 执行检索。
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.VectorWeight == nil && req.KeywordWeight == nil && e.hasDefaultWeights {
		req.VectorWeight, req.KeywordWeight = Weight(e.vectorWeight), Weight(e.keywordWeight)
	}
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}
	if req.SearchType.usesVector() && e.embedder == nil {
		return nil, types.NewValidationError(fmt.Sprintf("%s search requires an embedder", req.SearchType))
	}

	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "rag.search", trace.WithAttributes(
		attribute.String("rag.search_type", string(req.SearchType)),
		attribute.Int("rag.top_k", req.TopK),
	))
	defer span.End()

	candidates, err := e.store.ListChunks(ctx, req.Filters)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list chunks: %w", err)
	}

	var (
		vectorScores []float64
		keywordHits  []keywordHit
		keywords     []string
	)
	if req.SearchType.usesKeyword() {
		keywords = ExtractKeywords(req.Query)
	}

	g, gctx := errgroup.WithContext(ctx)
	if req.SearchType.usesVector() {
		g.Go(func() error {
			qv, err := e.embedder.Embed(gctx, req.Query)
			if err != nil {
				return fmt.Errorf("embed query: %w", err)
			}
			scores := make([]float64, len(candidates))
			for i, c := range candidates {
				scores[i] = roundScore(cosineSimilarity(qv, c.Embedding))
			}
			vectorScores = scores
			return nil
		})
	}
	if req.SearchType.usesKeyword() {
		g.Go(func() error {
			hits := make([]keywordHit, len(candidates))
			for i, c := range candidates {
				if err := gctx.Err(); err != nil {
					return err
				}
				matched, score := keywordScore(keywords, c.Content)
				hits[i] = keywordHit{matched: matched, score: roundScore(score)}
			}
			keywordHits = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	minMatches := req.MinKeywordMatches
	if req.SearchType == SearchKeyword && minMatches < 1 {
		minMatches = 1
	}

	results := make([]SearchResult, 0, len(candidates))
	for i, c := range candidates {
		r := SearchResult{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Content:    c.Content,
			ChunkIndex: c.ChunkIndex,
			Metadata:   c.Metadata,
		}
		if vectorScores != nil {
			r.VectorScore = vectorScores[i]
		}
		if keywordHits != nil {
			r.KeywordScore = keywordHits[i].score
			r.MatchedKeywords = keywordHits[i].matched
			if len(r.MatchedKeywords) < minMatches {
				continue
			}
		}
		switch req.SearchType {
		case SearchHybrid:
			r.HybridScore = HybridScore(r.VectorScore, r.KeywordScore, *req.VectorWeight, *req.KeywordWeight)
		case SearchVector:
			r.HybridScore = r.VectorScore
		case SearchKeyword:
			r.HybridScore = r.KeywordScore
		}
		if r.Score(req.SearchType) < req.SimilarityThreshold {
			continue
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		si, sj := results[i].Score(req.SearchType), results[j].Score(req.SearchType)
		if si != sj {
			return si > sj
		}
		if results[i].DocumentID != results[j].DocumentID {
			return results[i].DocumentID < results[j].DocumentID
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})
	if len(results) > req.TopK {
		results = results[:req.TopK]
	}

	elapsed := time.Since(start)
	if e.observer != nil {
		e.observer.RecordSearch(string(req.SearchType), elapsed, len(results))
	}
	span.SetAttributes(attribute.Int("rag.results", len(results)))
	e.logger.Debug("search completed",
		zap.String("search_type", string(req.SearchType)),
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(results)),
		zap.Duration("elapsed", elapsed))

	return &SearchResponse{
		Results:         results,
		SearchType:      req.SearchType,
		Keywords:        keywords,
		TotalCandidates: len(candidates),
		ExecutionTimeMs: elapsed.Milliseconds(),
	}, nil
}
