package vision

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"

	"illustrated_answer/media"
)

func TestGenaiParts(t *testing.T) {
	img := media.ProcessedImage{
		ImageDetail: media.ImageDetail{Title: "perceptron_diagram.png", AltText: "A single-layer perceptron"},
		PayloadMIME: "image/png",
		Data:        []byte{0x89, 'P', 'N', 'G'},
	}
	parts := genaiParts(BuildRequest("What is a perceptron?", []media.ProcessedImage{img}))
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want 3", len(parts))
	}
	if q, ok := parts[0].(genai.Text); !ok || string(q) != "What is a perceptron?" {
		t.Fatalf("question part = %#v", parts[0])
	}
	label, ok := parts[1].(genai.Text)
	if !ok || !strings.Contains(string(label), "filename: perceptron_diagram.png") ||
		!strings.Contains(string(label), "description: A single-layer perceptron") {
		t.Fatalf("label part = %#v", parts[1])
	}
	blob, ok := parts[2].(genai.Blob)
	if !ok || blob.MIMEType != "image/png" || !bytes.Equal(blob.Data, img.Data) {
		t.Fatalf("image part = %#v", parts[2])
	}
}

func TestAnswerText(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: &genai.Content{Parts: []genai.Part{genai.Text("A perceptron "), genai.Text("[[[a.png]]]")}}},
		{Content: &genai.Content{Parts: []genai.Part{genai.Text("ignored")}}},
	}}
	got, err := answerText(resp)
	if err != nil || got != "A perceptron [[[a.png]]]" {
		t.Fatalf("answerText = %q, %v", got, err)
	}

	for _, empty := range []*genai.GenerateContentResponse{
		nil,
		{},
		{Candidates: []*genai.Candidate{{}}},
		{Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []genai.Part{genai.Text("  ")}}}}},
	} {
		if _, err := answerText(empty); !errors.Is(err, errEmptyAnswer) {
			t.Fatalf("%+v: err = %v", empty, err)
		}
	}
}

func TestDirectEndpointRequiresKey(t *testing.T) {
	e := NewDirectEndpoint("gemini-test")
	if e.Name() != "direct" {
		t.Fatalf("name = %q", e.Name())
	}
	if _, err := e.Generate(context.Background(), Request{Prompt: "q"}, "  "); err == nil {
		t.Fatal("blank key accepted")
	}
}
