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

// Ollama is the offline-local provider talking to an ollama daemon on
// localhost.
type Ollama struct {
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOllama returns an Ollama provider for model. baseURL defaults to the
// local daemon.
func NewOllama(model, baseURL string) *Ollama {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	return &Ollama{Model: model, BaseURL: baseURL, client: &http.Client{Timeout: 60 * time.Second}}
}

// HealthCheck probes the daemon's tag listing with a short deadline.
func (o *Ollama) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// GenerateHooks asks the model for hook candidates over the transcript.
func (o *Ollama) GenerateHooks(ctx context.Context, transcript string, maxCandidates int) ([]hooks.Hook, error) {
	raw, err := o.generate(ctx, hooksPrompt(transcript, maxCandidates))
	if err != nil {
		return nil, err
	}
	return parseHooks(raw, maxCandidates)
}

// GenerateMetadata asks the model for platform metadata.
func (o *Ollama) GenerateMetadata(ctx context.Context, transcript, platform string) (*Metadata, error) {
	raw, err := o.generate(ctx, metadataPrompt(transcript, platform))
	if err != nil {
		return nil, err
	}
	return parseMetadata(raw)
}

func (o *Ollama) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":  o.Model,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: ollama status %d", ErrUnavailable, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var payload struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", err
	}
	return payload.Response, nil
}
