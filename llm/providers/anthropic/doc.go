// Package anthropic 实现 Anthropic Messages API 的 Provider 适配器。
// system 消息被提升为请求体的 system 字段。
package anthropic
