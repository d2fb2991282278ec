package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractJSONPayload(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`[{"start":1}]`, `[{"start":1}]`},
		{"```json\n[{\"start\":1}]\n```", `[{"start":1}]`},
		{`Sure! Here you go: [{"start":1}] hope it helps`, `[{"start":1}]`},
		{`prefix {"title":"t"} suffix`, `{"title":"t"}`},
	}
	for _, tc := range cases {
		got, err := extractJSONPayload(tc.in)
		if err != nil {
			t.Errorf("extract(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("extract(%q) = %q want %q", tc.in, got, tc.want)
		}
	}
	if _, err := extractJSONPayload("   "); err == nil {
		t.Error("empty payload accepted")
	}
}

func TestParseHooksTruncates(t *testing.T) {
	raw := `[{"start":0,"end":5},{"start":5,"end":10},{"start":10,"end":15}]`
	got, err := parseHooks(raw, 2)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 || got[1].Start != 5 {
		t.Fatalf("got %+v", got)
	}
}

func TestOllamaGenerateHooks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
		case "/api/generate":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"response": "[{\"start\": 1.5, \"end\": 9.0, \"semantic_score\": 0.8, \"emotion_score\": 0.7, \"confidence\": 0.9, \"reason\": \"opener\"}]"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewOllama("llama3.2:3b", srv.URL)
	if !p.HealthCheck(context.Background()) {
		t.Fatal("health check failed")
	}
	got, err := p.GenerateHooks(context.Background(), "transcript", 10)
	if err != nil {
		t.Fatalf("hooks: %v", err)
	}
	if len(got) != 1 || got[0].Start != 1.5 || got[0].Reason != "opener" {
		t.Fatalf("got %+v", got)
	}
}

func TestOpenRouterGenerateMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-or-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"title\":\"T\",\"caption\":\"C\",\"hashtags\":[\"x\"]}"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenRouter("openrouter/auto", "sk-or-key", srv.URL)
	meta, err := p.GenerateMetadata(context.Background(), "transcript", "tiktok")
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.Title != "T" || meta.Caption != "C" || len(meta.Hashtags) != 1 {
		t.Fatalf("meta %+v", meta)
	}
}

func TestOpenRouterUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	p := NewOpenRouter("m", "k", srv.URL)
	if _, err := p.GenerateHooks(context.Background(), "t", 5); err == nil {
		t.Fatal("expected unavailable error")
	}
}
