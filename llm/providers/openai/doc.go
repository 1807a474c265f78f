// Package openai 实现 OpenAI Chat Completions API 的 Provider 适配器。
package openai
