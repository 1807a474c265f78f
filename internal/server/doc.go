// 版权所有 2024 Agent Planner Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 planner serve 的 HTTP 服务器生命周期：API 与 /metrics
各一个 Manager，Run 统一启动并在上下文取消或服务出错时优雅关闭。
*/
package server
