package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Provider renders content from a prompt and returns the asset URL.
type Provider interface {
	Render(ctx context.Context, model, prompt string) (string, error)
}

// HTTPProvider calls an external render endpoint.
type HTTPProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPProvider constructs a provider for the configured endpoint.
func NewHTTPProvider(endpoint, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type renderRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type renderResponse struct {
	AssetURL string `json:"assetUrl"`
	Error    string `json:"error"`
}

// Render posts the prompt and waits for the rendered asset URL.
func (p *HTTPProvider) Render(ctx context.Context, model, prompt string) (string, error) {
	body, err := json.Marshal(renderRequest{Model: model, Prompt: prompt})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/render", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generation: render call: %w", err)
	}
	defer resp.Body.Close()
	var out renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("generation: decode render response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := out.Error
		if detail == "" {
			detail = resp.Status
		}
		return "", fmt.Errorf("generation: render failed: %s", detail)
	}
	if out.AssetURL == "" {
		return "", fmt.Errorf("generation: render response missing asset url")
	}
	return out.AssetURL, nil
}
