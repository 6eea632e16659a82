package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chatServer(t *testing.T, status int, reply string, sawAuth *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sawAuth != nil {
			*sawAuth = r.Header.Get("Authorization")
		}
		var req struct {
			Model    string    `json:"model"`
			Messages []Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"nope"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": reply}},
			},
		})
	}))
}

func TestChatOracleComplete(t *testing.T) {
	var auth string
	srv := chatServer(t, http.StatusOK, "  the heap is fragmented  ", &auth)
	defer srv.Close()

	o, err := NewChatOracle(ChatConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("NewChatOracle: %v", err)
	}
	got, err := o.Complete(context.Background(), []Message{{Role: RoleUser, Content: "analyze"}}, Options{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "the heap is fragmented" {
		t.Errorf("reply = %q", got)
	}
	if auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want bearer token", auth)
	}
}

func TestChatOracleRateLimitIsTransient(t *testing.T) {
	srv := chatServer(t, http.StatusTooManyRequests, "", nil)
	defer srv.Close()

	o, _ := NewChatOracle(ChatConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	_, err := o.Complete(context.Background(), nil, Options{})
	if err == nil {
		t.Fatal("expected error on 429")
	}
	if !IsTransient(err) {
		t.Errorf("429 should be transient, got %v", err)
	}
}

func TestChatOracleAuthFailureIsFatal(t *testing.T) {
	srv := chatServer(t, http.StatusUnauthorized, "", nil)
	defer srv.Close()

	o, _ := NewChatOracle(ChatConfig{BaseURL: srv.URL, APIKey: "bad", Model: "m"})
	_, err := o.Complete(context.Background(), nil, Options{})
	if err == nil {
		t.Fatal("expected error on 401")
	}
	if IsTransient(err) {
		t.Errorf("401 should be fatal, got %v", err)
	}
}

func TestChatOracleServerErrorIsTransient(t *testing.T) {
	srv := chatServer(t, http.StatusBadGateway, "", nil)
	defer srv.Close()

	o, _ := NewChatOracle(ChatConfig{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	_, err := o.Complete(context.Background(), nil, Options{})
	if !IsTransient(err) {
		t.Errorf("502 should be transient, got %v", err)
	}
}

func TestChatOracleAzureEndpoint(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotKey = r.Header.Get("api-key")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "ok"}},
			},
		})
	}))
	defer srv.Close()

	o, err := NewChatOracle(ChatConfig{
		BaseURL:     srv.URL,
		APIKey:      "az-key",
		Model:       "gpt-4o",
		AzureAPIVer: "2024-06-01",
	})
	if err != nil {
		t.Fatalf("NewChatOracle: %v", err)
	}
	if _, err := o.Complete(context.Background(), nil, Options{}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !strings.HasPrefix(gotPath, "/openai/deployments/gpt-4o/chat/completions") {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.Contains(gotPath, "api-version=2024-06-01") {
		t.Errorf("missing api-version in %q", gotPath)
	}
	if gotKey != "az-key" {
		t.Errorf("api-key header = %q", gotKey)
	}
}

func TestNewChatOracleValidation(t *testing.T) {
	if _, err := NewChatOracle(ChatConfig{Model: "m"}); err == nil {
		t.Error("missing base URL accepted")
	}
	if _, err := NewChatOracle(ChatConfig{BaseURL: "http://x"}); err == nil {
		t.Error("missing model accepted")
	}
}
