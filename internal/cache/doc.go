// 版权所有 2024 Agent Planner Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 管理 Redis 连接的生命周期。

Manager 负责连接初始化、后台健康检查与优雅关闭；执行缓存的 L2 层
（llm/cache.RedisStore）通过 Manager.Client 获取客户端。

  - 连接池：PoolSize 与 MinIdleConns 控制连接复用，GetStats 返回池统计。
  - 健康检查：后台定时 Ping，状态变化时通过 zap 记录。
*/
package cache
