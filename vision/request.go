package vision

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"illustrated_answer/media"
)

// AnswerInstruction is the fixed system instruction for the answer call.
const AnswerInstruction = `You answer questions for a curious reader and illustrate the answer with the images provided.

Rules:
- Use only images that are clearly relevant to the question. Ignore the rest.
- Prefer images whose labels are legible and in English.
- To insert an image, write its filename between triple brackets on its own line, for example [[[perceptron_diagram.png]]]. Use the filename exactly as given.
- Before each image, write a sentence or two explaining what the reader is about to see.
- If none of the images fit, answer in plain text without any image markers.
- Format the answer in Markdown.`

// Request is one model call: a system instruction, the user text and the
// images in admission order.
type Request struct {
	System string
	Prompt string
	Images []media.ProcessedImage
}

// BuildRequest prepares the answer call for a question.
func BuildRequest(question string, images []media.ProcessedImage) Request {
	return Request{
		System: AnswerInstruction,
		Prompt: strings.TrimSpace(question),
		Images: images,
	}
}

// part is the piece of a model turn every endpoint understands: text, or a
// binary image.
type part struct {
	Text string
	MIME string
	Data []byte
}

// parts flattens a request into the user turn. Each image is preceded by a
// text part naming it.
func (r Request) parts() []part {
	out := make([]part, 0, 1+2*len(r.Images))
	out = append(out, part{Text: r.Prompt})
	for _, img := range r.Images {
		out = append(out, part{Text: fmt.Sprintf("filename: %s\ndescription: %s", img.Title, img.AltText)})
		out = append(out, part{MIME: img.PayloadMIME, Data: img.Data})
	}
	return out
}

type restBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type restPart struct {
	Text       string    `json:"text,omitempty"`
	InlineData *restBlob `json:"inlineData,omitempty"`
}

type restContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []restPart `json:"parts"`
}

type restPayload struct {
	SystemInstruction *restContent  `json:"systemInstruction,omitempty"`
	Contents          []restContent `json:"contents"`
}

// payload renders the request as a generateContent JSON body.
func (r Request) payload() restPayload {
	var p restPayload
	if r.System != "" {
		p.SystemInstruction = &restContent{Parts: []restPart{{Text: r.System}}}
	}
	user := restContent{Role: "user"}
	for _, pt := range r.parts() {
		if pt.Data != nil {
			user.Parts = append(user.Parts, restPart{InlineData: &restBlob{
				MIMEType: pt.MIME,
				Data:     base64.StdEncoding.EncodeToString(pt.Data),
			}})
			continue
		}
		user.Parts = append(user.Parts, restPart{Text: pt.Text})
	}
	p.Contents = []restContent{user}
	return p
}

var errEmptyAnswer = errors.New("model returned no text")

// parseEnvelope pulls the answer text out of a generateContent response.
func parseEnvelope(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", errors.New("malformed response envelope")
	}
	res := gjson.ParseBytes(body)
	if msg := res.Get("error.message"); msg.Exists() {
		return "", fmt.Errorf("upstream error: %s", msg.String())
	}
	var sb strings.Builder
	res.Get("candidates.0.content.parts").ForEach(func(_, p gjson.Result) bool {
		sb.WriteString(p.Get("text").String())
		return true
	})
	if strings.TrimSpace(sb.String()) == "" {
		if reason := res.Get("promptFeedback.blockReason").String(); reason != "" {
			return "", fmt.Errorf("%w: blocked (%s)", errEmptyAnswer, reason)
		}
		return "", errEmptyAnswer
	}
	return sb.String(), nil
}

func marshalRelayBody(model string, r Request) ([]byte, error) {
	return json.Marshal(struct {
		Model   string      `json:"model"`
		Payload restPayload `json:"payload"`
	}{Model: model, Payload: r.payload()})
}
