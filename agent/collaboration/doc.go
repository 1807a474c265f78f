// Package collaboration 提供运行内智能体之间的消息总线。
//
// 支持点对点与广播投递、基于 correlationId 的请求/响应匹配，
// 以及可选的 NATS 镜像发布，便于外部系统观察协作过程。
package collaboration
