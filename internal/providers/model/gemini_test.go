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

func TestGeminiCallerGenerateContent(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "models/gemini-2.5-flash:generateContent") {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Fatalf("unexpected api key header: %s", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"meta\":{\"title\":\"Fox\"}}"}]},"finishReason":"STOP"}]}`))
	}))
	defer ts.Close()

	caller, err := NewGeminiCaller(context.Background(), GeminiOptions{APIKey: "test-key", BaseURL: ts.URL, Model: "gemini-2.5-flash"})
	if err != nil {
		t.Fatalf("NewGeminiCaller error: %v", err)
	}
	reply, err := caller.Call(context.Background(), Call{
		SystemPrompt: "only json",
		Prompt:       "describe",
		Image:        &domain.ImageRef{Data: []byte{0x89, 'P', 'N', 'G'}, MIMEType: "image/png"},
		Schema:       &Schema{Type: TypeObject, Properties: map[string]*Schema{"title": {Type: TypeString}}},
	})
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if reply.Text != `{"meta":{"title":"Fox"}}` || reply.Model != "gemini-2.5-flash" || reply.Provider != ProviderGemini {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	contents, _ := body["contents"].([]any)
	if len(contents) != 1 {
		t.Fatalf("unexpected contents: %v", body["contents"])
	}
	parts, _ := contents[0].(map[string]any)["parts"].([]any)
	if len(parts) != 2 {
		t.Fatalf("unexpected parts: %v", parts)
	}
	if _, ok := parts[0].(map[string]any)["inlineData"]; !ok {
		t.Fatalf("image part missing: %v", parts[0])
	}
	cfg, _ := body["generationConfig"].(map[string]any)
	if cfg["responseMimeType"] != "application/json" {
		t.Fatalf("json mode not requested: %v", cfg)
	}
	if _, ok := cfg["responseSchema"]; !ok {
		t.Fatalf("schema not sent: %v", cfg)
	}
}

func TestGeminiCallerDownloadsRemoteImage(t *testing.T) {
	var sawInline bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/fox.webp") {
			_, _ = w.Write([]byte("RIFFxxxxWEBP"))
			return
		}
		var body struct {
			Contents []struct {
				Parts []struct {
					InlineData *struct {
						MIMEType string `json:"mimeType"`
					} `json:"inlineData"`
				} `json:"parts"`
			} `json:"contents"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, p := range body.Contents[0].Parts {
			if p.InlineData != nil && p.InlineData.MIMEType == "image/webp" {
				sawInline = true
			}
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer ts.Close()

	caller, err := NewGeminiCaller(context.Background(), GeminiOptions{APIKey: "k", BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("NewGeminiCaller error: %v", err)
	}
	if _, err := caller.Call(context.Background(), Call{Prompt: "p", Image: &domain.ImageRef{URL: ts.URL + "/img/fox.webp"}}); err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if !sawInline {
		t.Fatalf("remote image was not sent inline as webp")
	}
}

func TestGeminiCallerQuotaError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"You exceeded your current quota. Please retry in 37.2s.","status":"RESOURCE_EXHAUSTED","details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"37s"}]}}`))
	}))
	defer ts.Close()

	caller, err := NewGeminiCaller(context.Background(), GeminiOptions{APIKey: "k", BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("NewGeminiCaller error: %v", err)
	}
	_, err = caller.Call(context.Background(), Call{Prompt: "p"})
	var upstream *domain.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.StatusCode != http.StatusTooManyRequests || upstream.RetryAfter != 37*time.Second {
		t.Fatalf("unexpected upstream error: %+v", upstream)
	}
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected rate limited error")
	}
}

func TestGeminiCallerMissingKey(t *testing.T) {
	if _, err := NewGeminiCaller(context.Background(), GeminiOptions{}); err == nil {
		t.Fatalf("expected error when api key missing")
	}
}

func TestFetchImageStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer ts.Close()

	_, _, err := fetchImage(context.Background(), ts.Client(), ProviderGemini, ts.URL+"/missing.jpg")
	var upstream *domain.UpstreamError
	if !errors.As(err, &upstream) || upstream.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 UpstreamError, got %v", err)
	}
}
