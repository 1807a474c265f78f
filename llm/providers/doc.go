// Copyright 2026 Agent Planner Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 提供跨模型服务商的通用适配能力，是 openai、anthropic、gemini
三个适配器子包的公共基础层。

# 核心类型

  - Config — 所有 Provider 共享的基础配置（APIKey、BaseURL、Model、Timeout、Prefixes）

# 核心函数

  - MapHTTPError — 将 HTTP 状态码映射为 PROVIDER_ERROR（含 Retryable 标记）
  - TransportError — 网络层失败，一律可重试
  - ReadErrorMessage — 解析上游错误响应体
  - ReadSSE — 逐事件读取 SSE 流，ctx 取消即停止
  - ChooseModel — 按优先级选择模型（请求 > 默认 > 兜底）
*/
package providers
