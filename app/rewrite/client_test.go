package rewrite

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func completionHandler(t *testing.T, status int, content string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected bearer auth header, got: %q", r.Header.Get("Authorization"))
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("Expected system+user messages, got: %+v", req.Messages)
		}

		w.WriteHeader(status)
		if status == http.StatusOK {
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]string{"role": "assistant", "content": content}},
				},
			})
		}
	}
}

func TestCompleteSuccess(t *testing.T) {
	server := httptest.NewServer(completionHandler(t, http.StatusOK, "  A short post. #news  "))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "test-key", server.Client())
	text, err := client.Complete(context.Background(), Request{
		System: "system", Prompt: "prompt", Model: "test-model",
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if text != "A short post. #news" {
		t.Errorf("Expected trimmed content, got: %q", text)
	}
}

func TestCompleteErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}))

		client := NewOpenAIClient(server.URL, "test-key", server.Client())
		_, err := client.Complete(context.Background(), Request{Model: "test-model"})
		server.Close()

		if err == nil {
			t.Errorf("Status %d: expected error", tt.status)
			continue
		}
		var provErr *ProviderError
		if !errors.As(err, &provErr) {
			t.Errorf("Status %d: expected ProviderError, got: %v", tt.status, err)
			continue
		}
		if provErr.StatusCode != tt.status {
			t.Errorf("Status %d: recorded status %d", tt.status, provErr.StatusCode)
		}
		if provErr.Transient != tt.transient {
			t.Errorf("Status %d: expected transient=%v, got %v", tt.status, tt.transient, provErr.Transient)
		}
	}
}

func TestCompleteNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // force a connection failure

	client := NewOpenAIClient(server.URL, "test-key", http.DefaultClient)
	_, err := client.Complete(context.Background(), Request{Model: "test-model"})
	if err == nil {
		t.Fatal("Expected error")
	}
	if !IsTransient(err) {
		t.Errorf("Expected network failure to be transient, got: %v", err)
	}
}

func TestCompleteMissingAPIKey(t *testing.T) {
	client := NewOpenAIClient("https://example.com", "", http.DefaultClient)
	_, err := client.Complete(context.Background(), Request{Model: "test-model"})
	if err == nil {
		t.Fatal("Expected error for missing API key")
	}
	if IsTransient(err) {
		t.Error("Expected missing API key to be permanent")
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(server.URL, "test-key", server.Client())
	_, err := client.Complete(context.Background(), Request{Model: "test-model"})
	if err == nil {
		t.Fatal("Expected error for empty choices")
	}
	if IsTransient(err) {
		t.Error("Expected empty choices to be permanent")
	}
}
