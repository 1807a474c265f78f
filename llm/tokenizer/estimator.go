package tokenizer

import (
	"unicode/utf8"

	"github.com/serkansepil/agent-planner-sub001/llm"
)

// EstimatorTokenizer is a character-count-based token estimator.
// CJK runes count ~1.5 chars/token, everything else ~4 chars/token.
type EstimatorTokenizer struct{}

// NewEstimatorTokenizer creates a generic estimator.
func NewEstimatorTokenizer() *EstimatorTokenizer {
	return &EstimatorTokenizer{}
}

func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}

	totalChars := utf8.RuneCountInString(text)
	cjkCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		}
	}

	estimated := int(float64(cjkCount)/1.5 + float64(totalChars-cjkCount)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated, nil
}

func (e *EstimatorTokenizer) CountMessages(messages []llm.Message) (int, error) {
	total := 0
	for _, msg := range messages {
		tokens, _ := e.CountTokens(msg.Content)
		total += tokens + messageOverhead
	}
	return total + replyOverhead, nil
}

func (e *EstimatorTokenizer) Name() string {
	return "estimator"
}

// isCJK returns true if the rune is a CJK character.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // CJK Extension B
		(r >= 0xF900 && r <= 0xFAFF) || // CJK Compatibility Ideographs
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // Halfwidth and Fullwidth Forms
}
