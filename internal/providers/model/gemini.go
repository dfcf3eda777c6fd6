package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"nexvmeta/internal/domain"
	"nexvmeta/internal/infra"
)

const defaultGeminiModel = "gemini-2.5-pro"

// GeminiOptions controls how the Gemini caller is configured.
type GeminiOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// GeminiCaller talks to the Gemini API through the genai SDK.
type GeminiCaller struct {
	client     *genai.Client
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewGeminiCaller builds a caller with defaulted model and HTTP client.
func NewGeminiCaller(ctx context.Context, opts GeminiOptions) (*GeminiCaller, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(base, "/") + "/"}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiCaller{
		client:     client,
		model:      model,
		httpClient: httpClient,
		logger:     loggerOrDiscard(opts.Logger),
	}, nil
}

func (g *GeminiCaller) Name() string { return ProviderGemini }

// Model returns the configured Gemini model identifier.
func (g *GeminiCaller) Model() string { return g.model }

// Call sends the prompt and image. URL images are downloaded and sent inline.
func (g *GeminiCaller) Call(ctx context.Context, call Call) (*Reply, error) {
	model := coalesce(call.Model, g.model)
	var parts []*genai.Part
	if call.Image != nil && !call.Image.Empty() {
		data, mimeType := call.Image.Data, call.Image.MIMEType
		if !call.Image.Inline() {
			var err error
			data, mimeType, err = fetchImage(ctx, g.httpClient, ProviderGemini, call.Image.URL)
			if err != nil {
				return nil, err
			}
		}
		if mimeType == "" {
			mimeType = http.DetectContentType(data)
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}})
	}
	parts = append(parts, &genai.Part{Text: call.Prompt})

	temperature := call.Temperature
	config := &genai.GenerateContentConfig{Temperature: &temperature}
	if call.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: call.SystemPrompt}}}
	}
	if call.JSON || call.Schema != nil {
		config.ResponseMIMEType = "application/json"
	}
	if call.Schema != nil {
		config.ResponseSchema = toGenaiSchema(call.Schema)
	}

	start := time.Now()
	contents := []*genai.Content{{Role: "user", Parts: parts}}
	resp, err := g.client.Models.GenerateContent(ctx, model, contents, config)
	duration := time.Since(start)
	if err != nil {
		g.logger.Debug().Err(err).Str("model", model).Str("pass", call.Label).Dur("duration", duration).Msg("gemini: call failed")
		return nil, mapGeminiError(err)
	}
	if resp == nil {
		return nil, errors.New("gemini: empty response")
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("gemini: empty response text (finish reason %s)", finishReason(resp))
	}
	g.logger.Debug().Str("model", model).Str("pass", call.Label).Int("response_length", len(text)).Dur("duration", duration).Msg("gemini: call ok")
	return &Reply{Text: text, Provider: ProviderGemini, Model: model, Duration: duration}, nil
}

func finishReason(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return "none"
	}
	return string(resp.Candidates[0].FinishReason)
}

func mapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return upstreamFromAPIError(apiErr)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return upstreamFromAPIError(*apiErrPtr)
	}
	return fmt.Errorf("gemini: %w", err)
}

func upstreamFromAPIError(apiErr genai.APIError) *domain.UpstreamError {
	out := &domain.UpstreamError{
		Provider:   ProviderGemini,
		StatusCode: apiErr.Code,
		Message:    coalesce(apiErr.Message, apiErr.Status),
	}
	for _, detail := range apiErr.Details {
		if delay, ok := detail["retryDelay"].(string); ok {
			if d, err := time.ParseDuration(delay); err == nil && d > 0 {
				out.RetryAfter = d
			}
		}
	}
	return out
}

func toGenaiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genaiType(s.Type),
		Description: s.Description,
		Required:    s.Required,
		Minimum:     s.Minimum,
		Maximum:     s.Maximum,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenaiSchema(prop)
		}
	}
	if s.Items != nil {
		out.Items = toGenaiSchema(s.Items)
	}
	return out
}

func genaiType(t SchemaType) genai.Type {
	switch t {
	case TypeObject:
		return genai.TypeObject
	case TypeArray:
		return genai.TypeArray
	case TypeInteger:
		return genai.TypeInteger
	case TypeNumber:
		return genai.TypeNumber
	case TypeBoolean:
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

func loggerOrDiscard(l *infra.Logger) *infra.Logger {
	if l != nil {
		return l
	}
	discard := infra.Logger(zerolog.New(io.Discard))
	return &discard
}

func coalesce(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

var _ Caller = (*GeminiCaller)(nil)
