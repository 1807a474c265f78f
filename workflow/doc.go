// Copyright (c) Agent Planner Authors.
// Licensed under the MIT License.

/*
Package workflow 提供多智能体任务编排引擎。

# 概述

调用方提交一组带依赖的任务（任务图），Orchestrator 在提交时用 Kahn 拓扑排序
校验无环，然后以就绪队列调度：任务只有在全部依赖完成后才进入 queued，
按优先级（critical > high > medium > low）与提交顺序出队，分配给能力匹配
的智能体执行。

# 状态机

	pending → queued → assigned → in_progress → completed | failed | cancelled

超时的尝试在 retryCount < maxRetries 时重新入队，否则以 TASK_TIMEOUT 失败。
失败会级联：所有传递依赖者以 DEPENDENCY_FAILED 取消。非超时失败且设置了
fallbackAgentId 时，任务改派给备用智能体重试一次。

# 核心类型

  - TaskSpec       — 提交时的任务描述（CreateTaskDto）
  - Orchestrator   — 校验任务图、创建并跟踪运行
  - Run            — 一次运行：调度循环、结果、事件订阅、取消
  - TaskResult     — 每个任务的最终结果
  - TaskEvent      — 任务状态迁移事件

# 执行模式

  - sequential — 同一时刻只执行一个任务
  - parallel   — 最多 MaxParallel 个任务并发执行，单个任务超时不阻塞其他就绪任务

任务输入输出写入运行的执行上下文（task.<id>.input / task.<id>.output），
request 类型任务通过消息总线向其他智能体发出请求并等待关联响应。
*/
package workflow
