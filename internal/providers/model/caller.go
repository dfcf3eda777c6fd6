package model

import (
	"context"
	"time"

	"nexvmeta/internal/domain"
)

const (
	ProviderGemini = "gemini"
	ProviderGroq   = "groq"
)

// Caller sends one multimodal prompt and returns the raw reply text.
// Non-2xx answers surface as *domain.UpstreamError.
type Caller interface {
	Name() string
	Call(ctx context.Context, call Call) (*Reply, error)
}

// Call is a single model invocation.
type Call struct {
	SystemPrompt string
	Prompt       string
	Image        *domain.ImageRef
	// JSON asks for a bare JSON object. Schema additionally constrains its
	// shape where the provider supports it.
	JSON        bool
	Schema      *Schema
	Temperature float32
	// Model overrides the caller's configured model.
	Model string
	// Label names the pass in logs and metrics.
	Label string
}

// Reply is the unparsed model answer.
type Reply struct {
	Text      string
	Provider  string
	Model     string
	RateLimit *RateLimitInfo
	Duration  time.Duration
}

// RateLimitInfo mirrors the x-ratelimit-*-requests response headers.
type RateLimitInfo struct {
	RemainingRequests int
	ResetRequests     time.Duration
}

// SchemaType enumerates JSON schema node kinds.
type SchemaType string

const (
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
	TypeString  SchemaType = "string"
	TypeInteger SchemaType = "integer"
	TypeNumber  SchemaType = "number"
	TypeBoolean SchemaType = "boolean"
)

// Schema is a provider-neutral subset of JSON schema.
type Schema struct {
	Type        SchemaType
	Description string
	Properties  map[string]*Schema
	Items       *Schema
	Required    []string
	Minimum     *float64
	Maximum     *float64
}
