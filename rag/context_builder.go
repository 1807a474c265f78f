package rag

import (
	"fmt"
	"strings"
)

// BuildContext 将结果格式化为编号的上下文块；maxChars <= 0 表示不限长度。
// 超出上限的结果整条丢弃，不截断单条内容。
func BuildContext(results []SearchResult, maxChars int) string {
	var sb strings.Builder
	for i, r := range results {
		block := fmt.Sprintf("[%d] (document %s, chunk %d)\n%s\n", i+1, r.DocumentID, r.ChunkIndex, strings.TrimSpace(r.Content))
		sep := ""
		if i > 0 {
			sep = "\n"
		}
		if maxChars > 0 && sb.Len()+len(sep)+len(block) > maxChars {
			break
		}
		sb.WriteString(sep)
		sb.WriteString(block)
	}
	return strings.TrimRight(sb.String(), "\n")
}
