package model

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nexvmeta/internal/domain"
	"nexvmeta/internal/infra"
)

const (
	defaultGroqBaseURL = "https://api.groq.com/openai/v1"
	groqDefaultTimeout = 90 * time.Second

	// DefaultGroqVisionModel reads images; DefaultGroqTextModel is used for synthesis.
	DefaultGroqVisionModel = "meta-llama/llama-4-scout-17b-16e-instruct"
	DefaultGroqTextModel   = "llama-3.3-70b-versatile"
)

var groqModelCanonical = map[string]string{
	"meta-llama/llama-4-scout-17b-16e-instruct":     "meta-llama/llama-4-scout-17b-16e-instruct",
	"meta-llama/llama-4-maverick-17b-128e-instruct": "meta-llama/llama-4-maverick-17b-128e-instruct",
	"llama-3.3-70b-versatile":                       "llama-3.3-70b-versatile",
	"llama-3.1-8b-instant":                          "llama-3.1-8b-instant",
}

// Decommissioned vision previews map onto the current Llama 4 models.
var groqModelAliases = map[string]string{
	"llama-3.2-90b-vision-preview": "meta-llama/llama-4-maverick-17b-128e-instruct",
	"llama-3.2-11b-vision-preview": "meta-llama/llama-4-scout-17b-16e-instruct",
	"llama-4-scout":                "meta-llama/llama-4-scout-17b-16e-instruct",
	"llama-4-maverick":             "meta-llama/llama-4-maverick-17b-128e-instruct",
	"llama-3.3-70b":                "llama-3.3-70b-versatile",
	"llama3-70b-8192":              "llama-3.3-70b-versatile",
	"llama-3.1-70b-versatile":      "llama-3.3-70b-versatile",
}

// GroqOptions controls how the Groq caller is configured.
type GroqOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
	OnWarning  func(reason, detail string)
}

// GroqCaller talks to Groq's OpenAI-compatible chat completions endpoint.
type GroqCaller struct {
	apiKey    string
	baseURL   string
	model     string
	client    *http.Client
	logger    *infra.Logger
	onWarning func(reason, detail string)
}

type groqChatRequest struct {
	Model          string        `json:"model"`
	Messages       []groqMessage `json:"messages"`
	Temperature    float32       `json:"temperature"`
	MaxTokens      int           `json:"max_completion_tokens,omitempty"`
	ResponseFormat *groqFormat   `json:"response_format,omitempty"`
}

type groqMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type groqContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *groqImageURL `json:"image_url,omitempty"`
}

type groqImageURL struct {
	URL string `json:"url"`
}

type groqFormat struct {
	Type string `json:"type"`
}

type groqChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type groqErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewGroqCaller builds a caller with defaulted base URL, model and HTTP client.
func NewGroqCaller(opts GroqOptions) (*GroqCaller, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("groq api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultGroqBaseURL
	}
	modelInput := strings.TrimSpace(opts.Model)
	model, reason := NormalizeGroqModel(modelInput)
	if reason != "" && opts.OnWarning != nil {
		opts.OnWarning("model_"+reason, fmt.Sprintf("requested=%s resolved=%s", coalesce(modelInput, DefaultGroqVisionModel), model))
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: groqDefaultTimeout}
	}
	return &GroqCaller{
		apiKey:    strings.TrimSpace(opts.APIKey),
		baseURL:   baseURL,
		model:     model,
		client:    client,
		logger:    loggerOrDiscard(opts.Logger),
		onWarning: opts.OnWarning,
	}, nil
}

func (g *GroqCaller) Name() string { return ProviderGroq }

// Model returns the configured Groq model identifier.
func (g *GroqCaller) Model() string { return g.model }

// Call posts a chat completion. Inline images are sent as data URLs and remote
// images by URL. Groq has no schema enforcement, so a schema only switches on
// JSON mode.
func (g *GroqCaller) Call(ctx context.Context, call Call) (*Reply, error) {
	model := g.model
	if call.Model != "" {
		model, _ = NormalizeGroqModel(call.Model)
	}
	userParts := []groqContentPart{{Type: "text", Text: call.Prompt}}
	if call.Image != nil && !call.Image.Empty() {
		userParts = append(userParts, groqContentPart{Type: "image_url", ImageURL: &groqImageURL{URL: imageURL(*call.Image)}})
	}
	var messages []groqMessage
	if call.SystemPrompt != "" {
		messages = append(messages, groqMessage{Role: "system", Content: call.SystemPrompt})
	}
	messages = append(messages, groqMessage{Role: "user", Content: userParts})
	payload := groqChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: call.Temperature,
		MaxTokens:   4096,
	}
	if call.JSON || call.Schema != nil {
		payload.ResponseFormat = &groqFormat{Type: "json_object"}
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("groq: encode request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/chat/completions", g.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("groq: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("groq: http request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	duration := time.Since(start)
	limits := parseRateLimit(resp.Header)
	if limits != nil && limits.RemainingRequests == 0 && g.onWarning != nil {
		g.onWarning("quota_exhausted", fmt.Sprintf("reset_in=%s", limits.ResetRequests))
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		upstream := groqUpstreamError(resp)
		g.logger.Debug().Int("status", resp.StatusCode).Str("model", model).Str("pass", call.Label).Msg("groq: call failed")
		return nil, upstream
	}

	var out groqChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("groq: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("groq: no choices")
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return nil, fmt.Errorf("groq: empty response (finish reason %s)", out.Choices[0].FinishReason)
	}
	g.logger.Debug().Str("model", model).Str("pass", call.Label).Int("response_length", len(text)).Dur("duration", duration).Msg("groq: call ok")
	return &Reply{
		Text:      text,
		Provider:  ProviderGroq,
		Model:     coalesce(out.Model, model),
		RateLimit: limits,
		Duration:  duration,
	}, nil
}

func imageURL(ref domain.ImageRef) string {
	if !ref.Inline() {
		return ref.URL
	}
	mimeType := ref.MIMEType
	if mimeType == "" {
		mimeType = http.DetectContentType(ref.Data)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(ref.Data)
}

func groqUpstreamError(resp *http.Response) *domain.UpstreamError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	message := strings.TrimSpace(string(data))
	var apiErr groqErrorResponse
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	out := &domain.UpstreamError{Provider: ProviderGroq, StatusCode: resp.StatusCode, Message: message}
	if v := strings.TrimSpace(resp.Header.Get("Retry-After")); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			out.RetryAfter = time.Duration(secs * float64(time.Second))
		}
	}
	return out
}

func parseRateLimit(h http.Header) *RateLimitInfo {
	remaining := strings.TrimSpace(h.Get("x-ratelimit-remaining-requests"))
	reset := strings.TrimSpace(h.Get("x-ratelimit-reset-requests"))
	if remaining == "" && reset == "" {
		return nil
	}
	info := &RateLimitInfo{RemainingRequests: -1}
	if n, err := strconv.Atoi(remaining); err == nil {
		info.RemainingRequests = n
	}
	if d, err := time.ParseDuration(reset); err == nil {
		info.ResetRequests = d
	}
	return info
}

// NormalizeGroqModel resolves aliases and decommissioned names. The second
// value is "alias" or "defaulted" when the input was rewritten.
func NormalizeGroqModel(name string) (string, string) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return DefaultGroqVisionModel, ""
	}
	normalized := strings.ToLower(trimmed)
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	if canonical, ok := groqModelCanonical[normalized]; ok {
		return canonical, ""
	}
	if alias, ok := groqModelAliases[normalized]; ok {
		return alias, "alias"
	}
	return DefaultGroqVisionModel, "defaulted"
}

var _ Caller = (*GroqCaller)(nil)
