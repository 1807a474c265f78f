// 版权所有 2024 Agent Planner Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集。

Collector 使用 promauto 注册到调用方给定的 Registerer，按 namespace 隔离，
覆盖 HTTP、模型执行、执行缓存、混合检索、任务编排与数据库连接池。

Collector 的方法签名与各组件的 Observer 接口一致，可直接传给
dispatch.WithObserver、rag.WithObserver 与 workflow.WithObserver。
*/
package metrics
