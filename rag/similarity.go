package rag

import "math"

// cosineSimilarity 计算余弦相似度；维度不一致或零向量返回 0
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// roundScore 保留 6 位小数，避免浮点噪声影响阈值比较与展示
func roundScore(v float64) float64 {
	return math.Floor(v*1e6+0.5) / 1e6
}
