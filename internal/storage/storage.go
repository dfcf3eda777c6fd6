package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

const (
	DriverFilesystem = "filesystem"
	DriverSupabase   = "supabase"
	DriverS3         = "s3"
	DriverAzure      = "azure"
)

// Uploader stores images and hands back a publicly reachable URL.
// Failures are reported as *domain.StorageError.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, name string) error
}

// Options selects and configures a driver. Only the fields of the chosen
// driver are read.
type Options struct {
	Driver string

	Path    string
	BaseURL string

	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string

	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3PublicBaseURL string
	S3AccessKeyID   string
	S3SecretKey     string

	AzureAccountName string
	AzureAccountKey  string
	AzureContainer   string
	AzureServiceURL  string
}

// New builds the Uploader named by opts.Driver. An empty driver means filesystem.
func New(ctx context.Context, opts Options) (Uploader, error) {
	var (
		up  Uploader
		err error
	)
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverFilesystem:
		up, err = NewFileStore(opts.Path, opts.BaseURL)
	case DriverSupabase:
		up, err = NewSupabaseStore(SupabaseOptions{URL: opts.SupabaseURL, Key: opts.SupabaseKey, Bucket: opts.SupabaseBucket})
	case DriverS3:
		up, err = NewS3Store(ctx, S3Options{
			Bucket:          opts.S3Bucket,
			Region:          opts.S3Region,
			Endpoint:        opts.S3Endpoint,
			PublicBaseURL:   opts.S3PublicBaseURL,
			AccessKeyID:     opts.S3AccessKeyID,
			SecretAccessKey: opts.S3SecretKey,
		})
	case DriverAzure:
		up, err = NewAzureStore(AzureOptions{
			AccountName: opts.AzureAccountName,
			AccountKey:  opts.AzureAccountKey,
			Container:   opts.AzureContainer,
			ServiceURL:  opts.AzureServiceURL,
		})
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	return up, nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

// ObjectName builds a collision-free object name that keeps the original
// extension: <uuid>-<lowercased filename with unsafe runes replaced>.
func ObjectName(filename, mimeType string) string {
	base := strings.TrimSpace(path.Base(strings.ReplaceAll(filename, "\\", "/")))
	if base == "" || base == "." || base == "/" {
		base = "image" + ExtForMIME(mimeType)
	}
	var sb strings.Builder
	for _, r := range strings.ToLower(base) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('-')
		}
	}
	return uuid.NewString() + "-" + sb.String()
}

// ExtForMIME maps an image content type to a file extension, defaulting to .jpg.
func ExtForMIME(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
