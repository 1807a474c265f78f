// Package retry 提供指数退避重试，按 types.Error 的 Retryable 标记决定是否重试。
package retry
