// Package telemetry 初始化 OpenTelemetry SDK（OTLP gRPC 导出 trace 与 metric），
// 为调度、编排与检索的 span 提供全局 TracerProvider。关闭时保持 noop。
package telemetry
