package rag

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_HybridScoreIsWeightedSum(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	unit := gen.Float64Range(0, 1)
	properties.Property("hybrid = vw*v + kw*k within rounding", prop.ForAll(
		func(v, k, vw, kw float64) bool {
			return math.Abs(HybridScore(v, k, vw, kw)-(vw*v+kw*k)) <= 6e-7
		},
		unit, unit, unit, unit,
	))

	properties.TestingRun(t)
}

func TestProperty_SearchResultsSortedAndBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("results are descending, above threshold and at most topK", prop.ForAll(
		func(embeddings [][]float64, topK int, threshold float64) bool {
			store := NewMemoryChunkStore(nil)
			for i, emb := range embeddings {
				_ = store.Add(context.Background(), Chunk{
					ID:         fmt.Sprintf("c%d", i),
					DocumentID: fmt.Sprintf("d%d", i%3),
					ChunkIndex: i,
					Content:    "alpha beta gamma",
					Embedding:  emb,
				})
			}
			e := NewEngine(store, &mapEmbedder{vectors: map[string][]float64{"alpha": {1, 0.5}}}, nil)
			resp, err := e.Search(context.Background(), SearchRequest{
				Query:               "alpha",
				SearchType:          SearchHybrid,
				TopK:                topK,
				SimilarityThreshold: threshold,
				VectorWeight:        Weight(0.7),
				KeywordWeight:       Weight(0.3),
			})
			if err != nil || len(resp.Results) > topK {
				return false
			}
			for i, r := range resp.Results {
				if r.HybridScore < threshold {
					return false
				}
				if i > 0 && resp.Results[i-1].HybridScore < r.HybridScore {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.SliceOfN(2, gen.Float64Range(-1, 1))),
		gen.IntRange(1, 100),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
