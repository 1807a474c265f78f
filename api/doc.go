// Package api 定义 HTTP 接口的请求与响应结构。
//
// 接口一览：
//
//	POST /v1/agents/{agentID}/execute        执行提示词（streaming=true 时返回 SSE）
//	GET  /v1/agents/{agentID}/budget         预算使用情况
//	POST /v1/workspaces/{workspaceID}/runs   提交任务图
//	GET  /v1/runs                            运行列表
//	GET  /v1/runs/{runID}                    运行结果
//	GET  /v1/runs/{runID}/events             任务状态事件（SSE）
//	POST /v1/runs/{runID}/cancel             取消运行
//	GET  /v1/executions                      执行历史（筛选、分页、排序）
//	GET  /v1/executions/stats                执行统计
//	GET  /v1/executions/{executionID}        单条执行记录
//	POST /v1/search                          混合检索
//
// 处理器实现位于 api/handlers，路由在 cmd/planner 中组装。
package api
