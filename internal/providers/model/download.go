package model

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"nexvmeta/internal/domain"
)

const maxDownloadBytes = 30 << 20

// fetchImage downloads a remote image so it can be sent inline.
func fetchImage(ctx context.Context, client *http.Client, provider, uri string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create download request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, "", &domain.UpstreamError{
			Provider:   provider + " image download",
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
		}
	}

	blob, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if len(blob) > maxDownloadBytes {
		return nil, "", fmt.Errorf("%w: remote image exceeds %d bytes", domain.ErrInvalidImage, maxDownloadBytes)
	}
	mimeType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	}
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = mimeFromExt(path.Ext(req.URL.Path))
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(blob)
	}
	return blob, mimeType, nil
}

func mimeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	}
	return ""
}
