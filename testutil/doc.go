/*
Package testutil 提供跨包共享的测试工具。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout，自动注册 Cleanup
  - 数据库辅助: NewTestDB 打开内存 sqlite（glebarez 纯 Go 驱动）
  - 流式辅助: CollectStream 汇总 dispatch.StreamEvent 流
  - 数据工具: MustJSON、WaitForChannel

# 子包

  - testutil/mocks: MockProvider，llm.Provider 的可编程模拟，支持固定响应、
    流式分块、错误序列与延迟注入

注意：dispatch 包自身的测试不能导入本包，否则形成导入环。
*/
package testutil
