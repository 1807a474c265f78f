// Package tlsutil 提供集中式 TLS 配置，
// 为模型服务商 HTTP 客户端与 Redis 连接提供 TLS 1.2+、仅 AEAD 套件的加固设置。
package tlsutil
