// Copyright (c) Agent Planner Authors.
// Licensed under the MIT License.

/*
Package types 提供执行引擎的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、agent、workflow、rag、
api 等上层模块提供统一的错误契约与 Context 传播工具，避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误，含 Retryable、HTTPStatus、Provider、TaskID、ExecutionID
  - Priority          — 任务与消息的优先级（low / medium / high / critical）

# 主要能力

  - Context 传播：WithTraceID / WithRunID / WithWorkspaceID / WithAgentID
  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
  - 常用错误构造：NewProviderError / NewRateLimitError / NewBudgetError / NewValidationError
*/
package types
