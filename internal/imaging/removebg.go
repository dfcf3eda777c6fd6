package imaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"nexvmeta/internal/domain"
	"nexvmeta/internal/infra"
)

const defaultRemoveBGURL = "https://api.remove.bg/v1.0/removebg"

// RemoveBGOptions controls how the background-removal client is configured.
type RemoveBGOptions struct {
	APIKey     string
	URL        string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// RemoveBGClient calls the remove.bg compatible background-removal API.
type RemoveBGClient struct {
	apiKey string
	url    string
	client *http.Client
	logger *infra.Logger
}

func NewRemoveBGClient(opts RemoveBGOptions) *RemoveBGClient {
	endpoint := strings.TrimSpace(opts.URL)
	if endpoint == "" {
		endpoint = defaultRemoveBGURL
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		discard := infra.Logger(zerolog.New(io.Discard))
		logger = &discard
	}
	return &RemoveBGClient{apiKey: strings.TrimSpace(opts.APIKey), url: endpoint, client: client, logger: logger}
}

// Configured reports whether an API key is set.
func (c *RemoveBGClient) Configured() bool { return c != nil && c.apiKey != "" }

// Remove uploads the image and returns the cut-out image bytes and their content type.
func (c *RemoveBGClient) Remove(ctx context.Context, data []byte, filename string) ([]byte, string, error) {
	if !c.Configured() {
		return nil, "", errors.New("remove.bg api key is not configured")
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty image", domain.ErrInvalidImage)
	}
	if strings.TrimSpace(filename) == "" {
		filename = "image"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image_file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("removebg: build form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("removebg: build form: %w", err)
	}
	if err := mw.WriteField("size", "auto"); err != nil {
		return nil, "", fmt.Errorf("removebg: build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("removebg: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, "", fmt.Errorf("removebg: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Api-Key", c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("removebg: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		message := strings.TrimSpace(string(raw))
		var apiErr struct {
			Errors []struct {
				Title string `json:"title"`
			} `json:"errors"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && len(apiErr.Errors) > 0 && apiErr.Errors[0].Title != "" {
			message = apiErr.Errors[0].Title
		}
		return nil, "", &domain.UpstreamError{Provider: "removebg", StatusCode: resp.StatusCode, Message: message}
	}
	out, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	if err != nil {
		return nil, "", fmt.Errorf("removebg: read response: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = DetectMIME(out)
	}
	c.logger.Debug().Int("bytes_in", len(data)).Int("bytes_out", len(out)).Dur("duration", time.Since(start)).Msg("removebg: done")
	return out, contentType, nil
}
