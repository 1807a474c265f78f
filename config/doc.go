// Package config 提供服务的配置加载。
//
// 配置优先级：默认值 → YAML 文件 → 环境变量（PLANNER_ 前缀）。
// FileWatcher 以轮询方式监听文件变化，供智能体目录等外部文件热加载使用。
package config
