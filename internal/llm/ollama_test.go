package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaProvider_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("Expected path /api/generate, got %s", r.URL.Path)
		}

		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("Expected non-streaming request")
		}
		if req.Format != "json" {
			t.Errorf("Expected json format, got %q", req.Format)
		}

		_ = json.NewEncoder(w).Encode(ollamaResponse{
			Model:           "llama3.1:8b",
			Response:        `{"claims": []}`,
			Done:            true,
			PromptEvalCount: 30,
			EvalCount:       12,
		})
	}))
	defer server.Close()

	provider, err := NewOllamaProvider(Config{BaseURL: server.URL, Model: "llama3.1:8b"})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	resp, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "plan"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.Text != `{"claims": []}` {
		t.Errorf("Unexpected text: %s", resp.Text)
	}
	if resp.TokensUsed != 42 {
		t.Errorf("Expected 42 tokens, got %d", resp.TokensUsed)
	}
}

func TestOllamaProvider_Complete_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": "model loading"}`))
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL, Model: "llama3.1:8b"})

	_, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "plan"})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if IsPermanent(err) {
		t.Errorf("503 should be retryable, got permanent: %v", err)
	}
}

func TestOllamaProvider_Complete_NotFoundIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": "model 'nope' not found"}`))
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL, Model: "nope"})

	_, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "plan"})
	if !IsPermanent(err) {
		t.Errorf("404 should be permanent, got: %v", err)
	}
}

func TestOllamaProvider_Complete_MalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{malformed`))
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL, Model: "llama3.1:8b"})

	if _, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "plan"}); err == nil {
		t.Fatal("Expected error for malformed JSON, got nil")
	}
}

func TestOllamaProvider_IsAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			_, _ = w.Write([]byte(`{"models": []}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	provider, _ := NewOllamaProvider(Config{BaseURL: server.URL})
	if !provider.IsAvailable(context.Background()) {
		t.Error("Expected provider to be available")
	}
}

func TestOllamaProvider_Complete_NoModel(t *testing.T) {
	provider, _ := NewOllamaProvider(Config{BaseURL: "http://127.0.0.1:1"})

	_, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "plan"})
	if err == nil || !IsPermanent(err) {
		t.Fatalf("Expected permanent error without model, got %v", err)
	}
}

func clearProxyEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"HTTP_PROXY", "http_proxy", "HTTPS_PROXY", "https_proxy", "NO_PROXY", "no_proxy"} {
		t.Setenv(k, "")
	}
}

func TestOllamaProxyFunc(t *testing.T) {
	clearProxyEnv(t)
	proxy := newOllamaProxyFunc("http://proxy:3128", "http://secure-proxy:3128", "")

	req := httptest.NewRequest(http.MethodGet, "https://ollama.internal/api/tags", nil)
	u, err := proxy(req)
	if err != nil {
		t.Fatalf("proxy: %v", err)
	}
	if u == nil || u.Host != "secure-proxy:3128" {
		t.Errorf("Expected https proxy, got %v", u)
	}

	req = httptest.NewRequest(http.MethodGet, "http://ollama.internal/api/tags", nil)
	u, _ = proxy(req)
	if u == nil || u.Host != "proxy:3128" {
		t.Errorf("Expected http proxy, got %v", u)
	}
}

func TestOllamaProxyFunc_NoProxy(t *testing.T) {
	clearProxyEnv(t)
	proxy := newOllamaProxyFunc("http://proxy:3128", "", "gpu.lab,.cluster.local")

	tests := []struct {
		url    string
		direct bool
	}{
		{"http://gpu.lab:11434/api/generate", true},
		{"http://ollama.cluster.local/api/generate", true},
		{"https://ollama.internal/api/tags", false},
		{"http://ollama.internal/api/tags", false},
	}
	for _, tt := range tests {
		u, err := proxy(httptest.NewRequest(http.MethodGet, tt.url, nil))
		if err != nil {
			t.Fatalf("%s: %v", tt.url, err)
		}
		if tt.direct && u != nil {
			t.Errorf("%s: expected direct connection, got proxy %s", tt.url, u.Host)
		}
		if !tt.direct && (u == nil || u.Host != "proxy:3128") {
			t.Errorf("%s: expected proxy:3128, got %v", tt.url, u)
		}
	}
}
