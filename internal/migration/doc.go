// 版权所有 2024 Agent Planner Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理执行历史表（executions）与模型定价表（model_pricing）
的 Schema，基于 golang-migrate 与内嵌 SQL 实现。

每种方言（postgres、mysql、sqlite）各有一套 migrations/<dialect>/*.sql。
DefaultMigrator 在已打开的 *sql.DB 上运行迁移，NewMigratorFromConfig
通过 internal/database 打开独立连接。CLI 为 planner migrate 子命令提供
格式化输出。
*/
package migration
