// Copyright 2025-2026 Agent Planner Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package rag 提供混合检索：向量相似度与关键词匹配按调用方权重融合为单一排序。

分块与 embedding 生成不在本包内完成；ChunkStore 提供带 embedding 的
分块，Embedder 为查询生成向量。

# 检索模式

  - vector  — 仅计算余弦相似度，不做关键词提取
  - keyword — 仅计算关键词覆盖率，不调用 Embedder
  - hybrid  — 两者并发计算（errgroup），hybrid = vw·vector + kw·keyword

低于 SimilarityThreshold 的结果被剔除；启用关键词评分时，命中数少于
MinKeywordMatches 的结果同样被剔除。结果按相关分数降序并截断到 TopK。

# 上下文构建

BuildContext 将检索结果格式化为有长度上限的上下文块，供 agent.Runner
注入提示词。
*/
package rag
