package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nexvmeta/internal/domain"
	"nexvmeta/internal/metrics"
)

// SupabaseOptions configures the Supabase Storage REST driver.
type SupabaseOptions struct {
	URL        string
	Key        string
	Bucket     string
	HTTPClient *http.Client
}

// SupabaseStore uploads to a public Supabase Storage bucket.
type SupabaseStore struct {
	baseURL string
	key     string
	bucket  string
	client  *http.Client
}

func NewSupabaseStore(opts SupabaseOptions) (*SupabaseStore, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.URL), "/")
	if base == "" || strings.TrimSpace(opts.Key) == "" || strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("storage: supabase url, key and bucket are required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &SupabaseStore{
		baseURL: base,
		key:     strings.TrimSpace(opts.Key),
		bucket:  strings.TrimSpace(opts.Bucket),
		client:  client,
	}, nil
}

func (s *SupabaseStore) objectURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, url.PathEscape(s.bucket), escapeKey(key))
}

// PublicURL is where a stored object can be fetched without credentials.
func (s *SupabaseStore) PublicURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, url.PathEscape(s.bucket), escapeKey(key))
}

func (s *SupabaseStore) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	key, err := sanitizeKey(name)
	if err == nil {
		err = s.do(ctx, http.MethodPost, key, data, contentType)
	}
	metrics.ObserveUpload(DriverSupabase, err)
	if err != nil {
		return "", &domain.StorageError{Op: "upload", Key: name, Err: err}
	}
	return s.PublicURL(key), nil
}

func (s *SupabaseStore) Delete(ctx context.Context, name string) error {
	key, err := sanitizeKey(name)
	if err == nil {
		err = s.do(ctx, http.MethodDelete, key, nil, "")
	}
	if err != nil {
		return &domain.StorageError{Op: "delete", Key: name, Err: err}
	}
	return nil
}

func (s *SupabaseStore) do(ctx context.Context, method, key string, data []byte, contentType string) error {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.objectURL(key), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("apikey", s.key)
	if data != nil {
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("x-upsert", "true")
		req.Header.Set("Cache-Control", "max-age=3600")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound && method == http.MethodDelete {
		return domain.ErrNotFound
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &domain.UpstreamError{Provider: "supabase storage", StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
