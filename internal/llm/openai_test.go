package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "test-model",
		"choices": []map[string]any{
			{"index": 0, "finish_reason": "stop", "message": map[string]any{"role": "assistant", "content": content}},
		},
	})
}

func writeRateLimit(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": "Rate limit reached", "type": "requests", "code": "rate_limit_exceeded"},
	})
}

func TestOpenAICompleterSendsSystemPrompt(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		writeCompletion(w, "positive\nI am very happy")
	}))
	defer srv.Close()

	c := NewOpenAICompleter(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1", Model: "test-model", Temperature: 0.1})
	out, err := c.Complete(context.Background(), CompletionRequest{Prompt: "analyze this", MaxTokens: 250})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "positive\nI am very happy" {
		t.Errorf("unexpected content %q", out)
	}
	if got.Model != "test-model" || got.MaxTokens != 250 || got.Temperature != 0.1 {
		t.Errorf("unexpected request %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "system" || got.Messages[0].Content != "analyze this" {
		t.Errorf("unexpected messages %+v", got.Messages)
	}
}

func TestOpenAICompleterRateLimitIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRateLimit(w)
	}))
	defer srv.Close()

	c := NewOpenAICompleter(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1"})
	_, err := c.Complete(context.Background(), CompletionRequest{Prompt: "p", MaxTokens: 10})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRateLimit(err) {
		t.Errorf("expected rate-limit classification for %v", err)
	}
}

func TestInvokerOverOpenAIEndpoint(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) <= 2 {
			writeRateLimit(w)
			return
		}
		writeCompletion(w, "no")
	}))
	defer srv.Close()

	var delays []time.Duration
	inv := newTestInvoker(NewOpenAICompleter(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1"}), &delays)
	out, err := inv.Invoke(context.Background(), "p", 250)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out != "no" {
		t.Errorf("out = %q", out)
	}
	if want := []time.Duration{time.Second, 2 * time.Second}; !reflect.DeepEqual(delays, want) {
		t.Errorf("delays = %v, want %v", delays, want)
	}
}

func TestScriptedCompleter(t *testing.T) {
	s := &ScriptedCompleter{
		Replies:  []ScriptedReply{{Match: "flagged", Reply: "no"}},
		Fallback: "negative",
	}
	if out, _ := s.Complete(context.Background(), CompletionRequest{Prompt: "should this be flagged?"}); out != "no" {
		t.Errorf("got %q", out)
	}
	if out, _ := s.Complete(context.Background(), CompletionRequest{Prompt: "other"}); out != "negative" {
		t.Errorf("got %q", out)
	}
}
