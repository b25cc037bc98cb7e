package generator

import (
	"context"
	"strings"
)

// MockLLM 本地调试用的占位实现，不调用外部模型。
// 未设置 Reply 时把问题本身作为唯一的搜索词返回。
type MockLLM struct {
	Reply string
	Err   error
}

func (m MockLLM) Complete(_ context.Context, prompt Prompt) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	if m.Reply != "" {
		return m.Reply, nil
	}
	q, _, _ := strings.Cut(strings.TrimPrefix(prompt.User, questionPrefix), "\n")
	return strings.ReplaceAll(strings.TrimSpace(q), ",", " "), nil
}
