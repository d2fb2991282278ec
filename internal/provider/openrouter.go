package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"autoclipper/internal/hooks"
)

// OpenRouter is the remote-http provider speaking the OpenAI-compatible
// chat completions API.
type OpenRouter struct {
	Model   string
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewOpenRouter returns an OpenRouter provider for model using apiKey.
func NewOpenRouter(model, apiKey, baseURL string) *OpenRouter {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouter{Model: model, APIKey: apiKey, BaseURL: baseURL, client: &http.Client{Timeout: 90 * time.Second}}
}

// HealthCheck probes the model listing with a short deadline.
func (o *OpenRouter) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+o.APIKey)
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// GenerateHooks asks the model for hook candidates over the transcript.
func (o *OpenRouter) GenerateHooks(ctx context.Context, transcript string, maxCandidates int) ([]hooks.Hook, error) {
	raw, err := o.complete(ctx, hooksPrompt(transcript, maxCandidates))
	if err != nil {
		return nil, err
	}
	return parseHooks(raw, maxCandidates)
}

// GenerateMetadata asks the model for platform metadata.
func (o *OpenRouter) GenerateMetadata(ctx context.Context, transcript, platform string) (*Metadata, error) {
	raw, err := o.complete(ctx, metadataPrompt(transcript, platform))
	if err != nil {
		return nil, err
	}
	return parseMetadata(raw)
}

func (o *OpenRouter) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model": o.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)
	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: openrouter status %d", ErrUnavailable, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", err
	}
	if len(payload.Choices) == 0 {
		return "", fmt.Errorf("openrouter returned no choices")
	}
	return payload.Choices[0].Message.Content, nil
}
