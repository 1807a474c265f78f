/*
Package handlers 提供 HTTP API 的请求处理器实现。

# 核心类型

  - ExecuteHandler   — 以智能体身份执行提示词，支持 JSON 与 SSE 流式响应
  - RunHandler       — 提交任务图、查询与取消运行、订阅任务事件
  - ExecutionHandler — 执行历史的筛选、分页、排序与统计
  - SearchHandler    — 向量 / 关键词 / 混合检索
  - BudgetHandler    — 智能体预算使用情况
  - HealthHandler    — 存活与就绪探针（critical 检查决定 503）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp + request_id）

# 错误映射

WriteError 将 types.ErrorCode 映射为 HTTP 状态码：VALIDATION_ERROR 400，
NOT_FOUND 404，RATE_LIMIT_EXCEEDED 429，BUDGET_EXCEEDED 402，
NO_ELIGIBLE_AGENT 422，DEPENDENCY_FAILED 424，TASK_TIMEOUT 504，
PROVIDER_ERROR 502。context 超时与取消分别映射为 504 与 499。

处理器只依赖小接口（AgentExecutor、RunService、HistoryReader 等），
路由由调用方使用 chi 组装。
*/
package handlers
