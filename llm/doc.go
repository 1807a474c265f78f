// 版权所有 2024 Agent Planner Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 定义模型调用的统一契约与 Provider 注册表。

# 概述

不同模型服务商在鉴权、消息格式、错误语义和流式协议上各不相同。
本包对上层暴露一致的 [Message] / [Options] / [Response] / [StreamChunk]，
由 llm/providers 下的各适配器完成协议转换。

# 核心接口

  - [Provider]：Execute / ExecuteStream / SupportsModel / Name
  - [ProviderRegistry]：按模型 ID 最长前缀解析 Provider，
    未命中规则时按注册顺序询问 SupportsModel

# 子包

  - llm/providers：OpenAI、Anthropic、Gemini 适配器
  - llm/budget：定价、成本计算、预算与按 Agent 限流
  - llm/cache：执行缓存（指纹、single-flight、ristretto + redis）
  - llm/dispatch：执行调度（缓存、准入、重试、流式）
  - llm/history：执行记录与统计
  - llm/retry：指数退避重试
  - llm/tokenizer：基于 tiktoken 的 Token 估算
*/
package llm
