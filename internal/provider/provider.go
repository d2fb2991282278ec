// Package provider defines the LLM capability used for hook discovery and
// platform metadata, with offline-local (ollama) and remote-http
// (openrouter) variants.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"autoclipper/internal/hooks"
)

// Metadata is the raw provider output for one platform.
type Metadata struct {
	Title    string   `json:"title"`
	Caption  string   `json:"caption"`
	Hashtags []string `json:"hashtags"`
}

// Provider is the LLM capability the pipeline consumes. Implementations
// are optional collaborators: any failure downgrades to fallbacks, never a
// job failure.
type Provider interface {
	HealthCheck(ctx context.Context) bool
	GenerateHooks(ctx context.Context, transcript string, maxCandidates int) ([]hooks.Hook, error)
	GenerateMetadata(ctx context.Context, transcript, platform string) (*Metadata, error)
}

// ErrUnavailable marks a provider that is disabled or unreachable.
var ErrUnavailable = errors.New("provider_unavailable")

// extractJSONPayload digs the first JSON array or object out of a model
// response that may be wrapped in prose or a code fence.
func extractJSONPayload(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("provider returned empty response")
	}
	if strings.HasPrefix(raw, "```") {
		raw = strings.Trim(raw, "`")
		lines := strings.Split(raw, "\n")
		if len(lines) > 0 && strings.HasPrefix(strings.ToLower(lines[0]), "json") {
			lines = lines[1:]
		}
		raw = strings.TrimSpace(strings.Join(lines, "\n"))
	}
	objStart := strings.Index(raw, "{")
	if start, end := strings.Index(raw, "["), strings.LastIndex(raw, "]"); start != -1 && end >= start && (objStart == -1 || start < objStart) {
		return raw[start : end+1], nil
	}
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start != -1 && end >= start {
		return raw[start : end+1], nil
	}
	return raw, nil
}

func parseHooks(raw string, maxCandidates int) ([]hooks.Hook, error) {
	payload, err := extractJSONPayload(raw)
	if err != nil {
		return nil, err
	}
	var parsed []hooks.Hook
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("parse hooks: %w", err)
	}
	if maxCandidates > 0 && len(parsed) > maxCandidates {
		parsed = parsed[:maxCandidates]
	}
	return parsed, nil
}

func parseMetadata(raw string) (*Metadata, error) {
	payload, err := extractJSONPayload(raw)
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(payload), &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return &meta, nil
}

func hooksPrompt(transcript string, maxCandidates int) string {
	return fmt.Sprintf(
		"Analyze transcript and return ONLY JSON array of hook candidates. "+
			"Need up to %d items with keys: start,end,semantic_score,emotion_score,reason,confidence.\n\nTranscript:\n%s",
		maxCandidates, transcript)
}

func metadataPrompt(transcript, platform string) string {
	return fmt.Sprintf(
		"Create short-form %s metadata. Return JSON object with keys: title,caption,hashtags.\n\nTranscript:\n%s",
		platform, transcript)
}
