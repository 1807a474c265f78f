package rag

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {}, "by": {},
	"can": {}, "do": {}, "does": {}, "for": {}, "from": {}, "has": {}, "have": {}, "how": {},
	"i": {}, "if": {}, "in": {}, "into": {}, "is": {}, "it": {}, "its": {}, "me": {}, "my": {},
	"not": {}, "of": {}, "on": {}, "or": {}, "our": {}, "so": {}, "that": {}, "the": {},
	"their": {}, "them": {}, "then": {}, "there": {}, "these": {}, "they": {}, "this": {},
	"to": {}, "was": {}, "we": {}, "were": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"who": {}, "why": {}, "will": {}, "with": {}, "you": {}, "your": {},
}

// tokenize 小写化并按非字母数字切分
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// ExtractKeywords 提取查询关键词：去停用词、去单字符、去重并保持出现顺序。
func ExtractKeywords(query string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range tokenize(query) {
		if len([]rune(tok)) < 2 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// keywordScore 返回命中的关键词及覆盖率 matched/len(keywords)。
func keywordScore(keywords []string, content string) ([]string, float64) {
	if len(keywords) == 0 {
		return nil, 0
	}
	terms := make(map[string]struct{})
	for _, tok := range tokenize(content) {
		terms[tok] = struct{}{}
	}
	var matched []string
	for _, kw := range keywords {
		if _, ok := terms[kw]; ok {
			matched = append(matched, kw)
		}
	}
	return matched, float64(len(matched)) / float64(len(keywords))
}
