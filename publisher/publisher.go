// Package publisher turns raw model text into the final answer document.
package publisher

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"illustrated_answer/logger"
	"illustrated_answer/media"
)

const summaryRunes = 160

// Answer 是最终文档，命中的图片都已内联到 HTML 中。
type Answer struct {
	HTML       string            `json:"html"`
	Markdown   string            `json:"markdown"`
	Summary    string            `json:"summary"`
	Resolved   map[string]string `json:"resolved,omitempty"`
	Unresolved []string          `json:"unresolved,omitempty"`
}

// Composer 替换占位符、渲染 Markdown 并做 HTML 净化。
type Composer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
	log    *logger.Logger
}

func NewComposer(log *logger.Logger) *Composer {
	if log == nil {
		log = logger.Nop()
	}
	policy := bluemonday.UGCPolicy()
	policy.AllowDataURIImages()
	policy.AllowElements("figure", "figcaption")

	return &Composer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
		policy: policy,
		log:    log,
	}
}

func (c *Composer) Compose(raw string, images []media.ProcessedImage) (Answer, error) {
	sub := Substitute(raw, images)
	for _, token := range sub.Unresolved {
		c.log.Warn("placeholder did not match any image", "token", token)
	}
	for token, title := range sub.Resolved {
		c.log.Debug("placeholder resolved", "token", token, "image", title)
	}

	rendered, err := c.mdToHTML(sub.Text)
	if err != nil {
		return Answer{}, err
	}
	return Answer{
		HTML:       c.policy.Sanitize(rendered),
		Markdown:   sub.Text,
		Summary:    Summary(raw, summaryRunes),
		Resolved:   sub.Resolved,
		Unresolved: sub.Unresolved,
	}, nil
}

func (c *Composer) mdToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := c.md.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Summary 取回答的纯文本单行摘要（去掉占位符）。
func Summary(md string, limit int) string {
	md = placeholderPattern.ReplaceAllString(md, " ")
	md = strings.NewReplacer("#", "", "*", "", "`", "", "_", " ").Replace(md)
	joined := strings.Join(strings.Fields(md), " ")
	if utf8.RuneCountInString(joined) <= limit {
		return joined
	}
	return string([]rune(joined)[:limit])
}
