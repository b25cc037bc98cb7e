package generator

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"illustrated_answer/apperr"
)

const (
	minTerms = 3
	maxTerms = 5
)

// TermGenerator 把问题转换成图片搜索词。
type TermGenerator struct {
	llm LLMClient
}

func NewTermGenerator(llm LLMClient) (*TermGenerator, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	return &TermGenerator{llm: llm}, nil
}

// Generate 只调用一次模型，不重试。
func (g *TermGenerator) Generate(ctx context.Context, question string) ([]string, error) {
	if strings.TrimSpace(question) == "" {
		return nil, apperr.Validation("question is required")
	}
	raw, err := g.llm.Complete(ctx, BuildTermPrompt(question))
	if err != nil {
		return nil, apperr.ModelCall("search term generation failed", err)
	}
	terms := ParseTerms(raw)
	if len(terms) == 0 {
		return nil, apperr.ModelCall("search term generation failed", errors.New("model returned no usable terms"))
	}
	return terms, nil
}

var (
	fencePattern  = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	labelPattern  = regexp.MustCompile(`(?i)^\s*(search\s+)?terms?\s*:\s*`)
	bulletPattern = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)
)

// ParseTerms 按逗号切分模型输出，去掉首尾空白和空项。
// 顺序、重复项和数量保持模型原样；逐行列出的输出也按换行切分。
func ParseTerms(raw string) []string {
	s := strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(s); len(m) == 2 {
		s = m[1]
	}
	s = labelPattern.ReplaceAllString(s, "")

	var terms []string
	for _, line := range strings.Split(s, "\n") {
		for _, part := range strings.Split(line, ",") {
			t := bulletPattern.ReplaceAllString(part, "")
			t = strings.Trim(strings.TrimSpace(t), `"'`)
			if t == "" {
				continue
			}
			terms = append(terms, t)
		}
	}
	return terms
}
