// 版权所有 2024 Agent Planner Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 budget 提供模型定价、成本计算、预算检查与按 Agent 限流能力。

# 概述

模型调用按 Token 计费，不加控制容易产生意外高额费用。本包在调度前
完成准入（预算、请求频率、并发、单请求 Token 上限），在调用完成后
按定价表计算成本。准入拒绝返回 BUDGET_EXCEEDED / RATE_LIMIT_EXCEEDED，
不与 Provider 错误混淆，且不可重试。

# 核心类型

  - PricingTable：显式构造的定价表，解析顺序为 精确匹配 → 最长前缀 → 默认定价
  - Accountant：成本计算与预算检查入口
  - RateLimiter：按 Agent 的分钟/小时/天请求窗口（x/time/rate 令牌桶）与并发槽位
  - Reservation：一次准入占用，Release 归还并发槽位，Cancel 同时退回窗口配额
  - PricingStore：model_pricing 表的 gorm 读写

# 成本精度

所有成本按 1e6 放大后四舍五入（round-half-up），保留 6 位小数。
*/
package budget
