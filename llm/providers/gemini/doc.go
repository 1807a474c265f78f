// Package gemini 实现 Google Gemini generateContent API 的 Provider 适配器。
package gemini
