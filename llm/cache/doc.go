// 版权所有 2024 Agent Planner Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供模型执行结果的缓存，通过请求指纹与 single-flight
保证同一指纹同时最多只有一次 Provider 调用。

# 概述

指纹覆盖 agentId、model、规范化后的消息以及采样参数。并发的相同请求
等待首个调用者的结果；首个调用者得到 cached=false，其余得到 cached=true。
所有等待者观察到同一结果或同一错误，错误不会被缓存。

# 核心类型

  - ExecutionCache：指纹缓存入口，提供 Do / Get / Set / Delete / Stats
  - Store：字节级存储接口
  - RistrettoStore：进程内 L1（dgraph-io/ristretto）
  - RedisStore：共享 L2（go-redis）
  - TieredStore：L1 + L2，L2 命中时回填 L1

# 行为

  - TTL 默认来自配置，可按请求覆盖
  - Bypass 跳过查找，但成功后仍写入缓存
*/
package cache
