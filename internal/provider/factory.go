package provider

import (
	"context"
	"fmt"
	"os"
	"strings"

	"autoclipper/internal/secrets"
	"autoclipper/internal/settings"
)

// Build resolves the configured provider. LLM_PROVIDER from the environment
// overrides the setting; API keys come from the encrypted secret store with
// an environment fallback. A missing required key fails fast with
// ErrUnavailable.
func Build(ctx context.Context, store *settings.Store, svc *secrets.Service) (Provider, error) {
	name, err := store.Get(ctx, "LLM_PROVIDER")
	if err != nil {
		return nil, err
	}
	if env := os.Getenv("LLM_PROVIDER"); env != "" {
		name = env
	}
	name = strings.ToLower(strings.TrimSpace(name))

	switch name {
	case "", "ollama":
		model, err := store.Get(ctx, "OLLAMA_MODEL")
		if err != nil {
			return nil, err
		}
		if env := os.Getenv("OLLAMA_MODEL"); env != "" {
			model = env
		}
		return NewOllama(model, os.Getenv("OLLAMA_BASE_URL")), nil

	case "openrouter":
		key := resolveAPIKey(ctx, svc, "openrouter", "OPENROUTER_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("%w: openrouter selected but API key is missing", ErrUnavailable)
		}
		model, err := store.Get(ctx, "OPENROUTER_MODEL")
		if err != nil {
			return nil, err
		}
		if env := os.Getenv("OPENROUTER_MODEL"); env != "" {
			model = env
		}
		return NewOpenRouter(model, key, ""), nil
	}
	return nil, fmt.Errorf("unsupported LLM provider %q", name)
}

func resolveAPIKey(ctx context.Context, svc *secrets.Service, provider, envVar string) string {
	if svc != nil {
		if key, err := svc.Get(ctx, "apikey."+provider); err == nil && len(key) > 0 {
			return string(key)
		}
	}
	return os.Getenv(envVar)
}
