// Copyright 2026 Agent Planner Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package history 持久化每次执行的权威结果，并提供筛选、分页与统计。

# 概述

Store 基于 gorm，表名 executions。除记录查询外，它还实现
budget.SpendTracker，按 agent 汇总非缓存执行的实际花费。

# 统计

Stats 中的 CacheSavings 为缓存命中所对应 token 数按当前价格表
重新计价的结果，而不是原始调用时的成本。
*/
package history
