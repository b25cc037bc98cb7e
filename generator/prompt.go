package generator

import (
	"fmt"
	"strings"
)

// Prompt 表示一次单轮的 LLM 请求。
type Prompt struct {
	System string
	User   string
}

const questionPrefix = "Question: "

const termSystem = "You turn questions into image search queries for Wikimedia Commons. " +
	"Reply with the queries only, comma separated, no numbering and no explanations."

// BuildTermPrompt 生成搜索词提示词，要求 minTerms~maxTerms 个简短的图片检索词。
func BuildTermPrompt(question string) Prompt {
	var sb strings.Builder
	sb.WriteString(questionPrefix)
	sb.WriteString(strings.TrimSpace(question))
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("Give %d to %d short search terms (2-4 words each) for diagrams, photos or illustrations that would help explain the answer.\n", minTerms, maxTerms))
	sb.WriteString("- Prefer terms that find labeled diagrams.\n")
	sb.WriteString("- Use English.\n")
	sb.WriteString("- Separate terms with commas.")

	return Prompt{
		System: termSystem,
		User:   sb.String(),
	}
}
