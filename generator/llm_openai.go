package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAILLM 基于 openai-go 的 chat completions 生成搜索词。
// 设置 BaseURL 后可对接任意 OpenAI 兼容网关（如 deepseek）。
type OpenAILLM struct {
	Provider string
	Model    string
	client   openai.Client
}

func NewOpenAILLMFromConfig(cfg *LLMSettings) (*OpenAILLM, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; provide llm.api_key")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	return &OpenAILLM{Provider: provider, Model: cfg.Model, client: openai.NewClient(opts...)}, nil
}

// termReplyTokens 足够容纳几个逗号分隔的短语。
const termReplyTokens = 128

func (o *OpenAILLM) Complete(ctx context.Context, prompt Prompt) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt.System),
			openai.UserMessage(prompt.User),
		},
		Temperature:         openai.Float(0.2),
		MaxCompletionTokens: openai.Int(termReplyTokens),
	})
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", o.Provider, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%s: empty reply", o.Provider)
	}
	return resp.Choices[0].Message.Content, nil
}
