// 版权所有 2024 Agent Planner Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 负责打开执行历史与定价表所在的关系数据库，并管理连接池。

Open 按驱动名选择 GORM Dialector（postgres、mysql 或纯 Go 的 sqlite），
PoolManager 设置连接池参数并在后台定时探活，可选地通过 StatsReporter
把连接数上报到 Prometheus。
*/
package database
