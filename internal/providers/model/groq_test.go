package model

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nexvmeta/internal/domain"
)

type capturedGroqRequest struct {
	Model          string `json:"model"`
	MaxTokens      int    `json:"max_completion_tokens"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Messages []struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"messages"`
}

func TestGroqCallerSendsImageAsDataURL(t *testing.T) {
	var captured capturedGroqRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header: %s", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("x-ratelimit-remaining-requests", "13")
		w.Header().Set("x-ratelimit-reset-requests", "2m59.56s")
		_, _ = w.Write([]byte(`{"model":"meta-llama/llama-4-scout-17b-16e-instruct","choices":[{"message":{"content":"{\"title\":\"Fox\"}"},"finish_reason":"stop"}]}`))
	}))
	defer ts.Close()

	caller, err := NewGroqCaller(GroqOptions{APIKey: "test-key", BaseURL: ts.URL + "/"})
	if err != nil {
		t.Fatalf("NewGroqCaller error: %v", err)
	}
	reply, err := caller.Call(context.Background(), Call{
		SystemPrompt: "only json",
		Prompt:       "describe",
		Image:        &domain.ImageRef{Data: []byte("png-bytes"), MIMEType: "image/png"},
		JSON:         true,
		Label:        "combined",
	})
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if reply.Text != `{"title":"Fox"}` {
		t.Fatalf("unexpected text: %s", reply.Text)
	}
	if reply.Provider != ProviderGroq {
		t.Fatalf("unexpected provider: %s", reply.Provider)
	}
	if reply.RateLimit == nil || reply.RateLimit.RemainingRequests != 13 {
		t.Fatalf("unexpected rate limit: %+v", reply.RateLimit)
	}
	if want := 2*time.Minute + 59560*time.Millisecond; reply.RateLimit.ResetRequests != want {
		t.Fatalf("reset = %v, want %v", reply.RateLimit.ResetRequests, want)
	}
	if captured.Model != DefaultGroqVisionModel {
		t.Fatalf("unexpected model: %s", captured.Model)
	}
	if captured.ResponseFormat == nil || captured.ResponseFormat.Type != "json_object" {
		t.Fatalf("response_format not set: %+v", captured.ResponseFormat)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" {
		t.Fatalf("unexpected messages: %+v", captured.Messages)
	}
	var parts []groqContentPart
	if err := json.Unmarshal(captured.Messages[1].Content, &parts); err != nil {
		t.Fatalf("decode user content: %v", err)
	}
	if len(parts) != 2 || parts[0].Text != "describe" {
		t.Fatalf("unexpected parts: %+v", parts)
	}
	if parts[1].ImageURL == nil || parts[1].ImageURL.URL != "data:image/png;base64,cG5nLWJ5dGVz" {
		t.Fatalf("unexpected image url: %+v", parts[1].ImageURL)
	}
}

func TestGroqCallerRemoteURLPassesThrough(t *testing.T) {
	var captured capturedGroqRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer ts.Close()

	caller, err := NewGroqCaller(GroqOptions{APIKey: "k", BaseURL: ts.URL, Model: "llama-3.2-90b-vision-preview"})
	if err != nil {
		t.Fatalf("NewGroqCaller error: %v", err)
	}
	if _, err := caller.Call(context.Background(), Call{Prompt: "p", Image: &domain.ImageRef{URL: "https://cdn.example.test/fox.jpg"}}); err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if captured.Model != "meta-llama/llama-4-maverick-17b-128e-instruct" {
		t.Fatalf("alias not resolved: %s", captured.Model)
	}
	if captured.ResponseFormat != nil {
		t.Fatalf("response_format set without JSON")
	}
	if !strings.Contains(string(captured.Messages[0].Content), "https://cdn.example.test/fox.jpg") {
		t.Fatalf("remote url missing: %s", captured.Messages[0].Content)
	}
}

func TestGroqCallerRateLimitError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.Header().Set("x-ratelimit-remaining-requests", "0")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached for model. Please try again in 6.5s.","type":"tokens","code":"rate_limit_exceeded"}}`))
	}))
	defer ts.Close()

	var warnings []string
	caller, err := NewGroqCaller(GroqOptions{APIKey: "k", BaseURL: ts.URL, OnWarning: func(reason, detail string) {
		warnings = append(warnings, reason)
	}})
	if err != nil {
		t.Fatalf("NewGroqCaller error: %v", err)
	}
	_, err = caller.Call(context.Background(), Call{Prompt: "p"})
	var upstream *domain.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.StatusCode != http.StatusTooManyRequests || upstream.RetryAfter != 7*time.Second {
		t.Fatalf("unexpected upstream error: %+v", upstream)
	}
	if !strings.Contains(upstream.Message, "try again in 6.5s") {
		t.Fatalf("message not extracted: %s", upstream.Message)
	}
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected rate limited error")
	}
	if len(warnings) != 1 || warnings[0] != "quota_exhausted" {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
}

func TestGroqCallerMissingKey(t *testing.T) {
	if _, err := NewGroqCaller(GroqOptions{}); err == nil {
		t.Fatalf("expected error when api key missing")
	}
}

func TestNormalizeGroqModel(t *testing.T) {
	tests := []struct {
		in, want, reason string
	}{
		{"", DefaultGroqVisionModel, ""},
		{"LLAMA-3.3-70B-VERSATILE", "llama-3.3-70b-versatile", ""},
		{"llama_3.3_70b", "llama-3.3-70b-versatile", "alias"},
		{"llama-3.2-11b-vision-preview", DefaultGroqVisionModel, "alias"},
		{"gpt-4o", DefaultGroqVisionModel, "defaulted"},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, reason := NormalizeGroqModel(tc.in)
			if got != tc.want || reason != tc.reason {
				t.Fatalf("NormalizeGroqModel(%q) = %q, %q, want %q, %q", tc.in, got, reason, tc.want, tc.reason)
			}
		})
	}
}
