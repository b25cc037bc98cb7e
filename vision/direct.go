package vision

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DirectEndpoint calls the Gemini API with the caller's key.
type DirectEndpoint struct {
	Model string
	// Opts are appended after the API key, e.g. option.WithEndpoint.
	Opts []option.ClientOption
}

func NewDirectEndpoint(model string, opts ...option.ClientOption) *DirectEndpoint {
	return &DirectEndpoint{Model: model, Opts: opts}
}

func (e *DirectEndpoint) Name() string { return "direct" }

func (e *DirectEndpoint) Generate(ctx context.Context, req Request, apiKey string) (string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", errors.New("api key is required")
	}
	opts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, e.Opts...)
	cl, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return "", err
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.Model)
	if req.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	resp, err := m.GenerateContent(ctx, genaiParts(req)...)
	if err != nil {
		return "", err
	}
	return answerText(resp)
}

func genaiParts(req Request) []genai.Part {
	var parts []genai.Part
	for _, p := range req.parts() {
		if p.Data != nil {
			parts = append(parts, genai.Blob{MIMEType: p.MIME, Data: p.Data})
			continue
		}
		parts = append(parts, genai.Text(p.Text))
	}
	return parts
}

// answerText joins the text parts of the first candidate.
func answerText(resp *genai.GenerateContentResponse) (string, error) {
	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, p := range resp.Candidates[0].Content.Parts {
			if t, ok := p.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", errEmptyAnswer
	}
	return sb.String(), nil
}
