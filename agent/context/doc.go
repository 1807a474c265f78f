// 版权所有 2024 Agent Planner Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 context 提供一次工作区运行内共享的执行上下文。

# 概述

ExecutionContext 由编排器在运行开始时创建、运行结束时释放。
任务的输入输出以 task.<id>.input / task.<id>.output 的键写入共享数据，
其他智能体可以观察中间结果。

# 一致性模型

每个键采用最后写入者胜出（LWW），并带有单调递增的版本号。
CompareAndSet 供乐观并发写入者检测冲突。读取无锁：条目不可变，
通过 sync.Map 发布。写入按键串行化（分段互斥锁），不同键之间互不阻塞。
删除会留下墓碑，版本号在删除后继续递增。

共享数据、全局变量、元数据与每个智能体的私有命名空间遵循相同语义。
被取消任务已经写入的数据不会回滚。
*/
package context
