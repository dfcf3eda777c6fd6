package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"nexvmeta/internal/domain"
	"nexvmeta/internal/infra"
	"nexvmeta/internal/queue"
	"nexvmeta/internal/storage"
)

// Analyzer produces metadata for one image.
type Analyzer interface {
	Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error)
}

// BackgroundRemover cuts the subject out of an image.
type BackgroundRemover interface {
	Configured() bool
	Remove(ctx context.Context, data []byte, filename string) ([]byte, string, error)
}

// App holds the dependencies shared by every handler. Storage, Queue, Hub and
// RemoveBG are optional; their endpoints answer 503 when unset.
type App struct {
	Config   *infra.Config
	Logger   *infra.Logger
	Analyzer Analyzer
	Storage  storage.Uploader
	Queue    *queue.Service
	Hub      *queue.Hub
	RemoveBG BackgroundRemover
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorResponse{Error: message, Code: code})
}

// internalMessage replaces the detail of server-side failures, which can
// carry raw model output or upstream bodies.
const internalMessage = "Analysis failed or the AI service is busy. Please try again shortly."

// fail maps err onto a status code and writes it. Server-side failures are
// logged with their detail and answered with internalMessage.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		message = internalMessage
	}
	a.error(w, status, code, message)
}

func statusFor(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "payload_too_large"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, domain.ErrInvalidImage):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, queue.ErrItemBusy):
		return http.StatusConflict, "conflict"
	case errors.Is(err, context.Canceled):
		return 499, "canceled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// limitBody caps the request body at the configured upload size.
func (a *App) limitBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.Config.MaxUploadBytes())
}
