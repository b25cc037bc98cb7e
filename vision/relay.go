package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RelayEndpoint posts {model, payload} to a credential-free intermediary.
type RelayEndpoint struct {
	URL   string
	Model string
	HTTP  *http.Client
}

func NewRelayEndpoint(url, model string) *RelayEndpoint {
	return &RelayEndpoint{
		URL:   strings.TrimSpace(url),
		Model: model,
		HTTP:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (e *RelayEndpoint) Name() string { return "relay" }

// Generate ignores apiKey; the relay holds its own.
func (e *RelayEndpoint) Generate(ctx context.Context, req Request, _ string) (string, error) {
	if e.URL == "" {
		return "", errors.New("relay url not configured")
	}
	body, err := marshalRelayBody(e.Model, req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTP.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("relay status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}
	return parseEnvelope(respBody)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
