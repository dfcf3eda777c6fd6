package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"nexvmeta/internal/domain"
	"nexvmeta/internal/metrics"
)

// AzureOptions configures the Azure Blob driver. ServiceURL defaults to the
// public endpoint of AccountName.
type AzureOptions struct {
	AccountName string
	AccountKey  string
	Container   string
	ServiceURL  string
}

// AzureStore uploads objects into one blob container with public read access.
type AzureStore struct {
	client     *azblob.Client
	container  string
	serviceURL string
}

func NewAzureStore(opts AzureOptions) (*AzureStore, error) {
	account := strings.TrimSpace(opts.AccountName)
	container := strings.TrimSpace(opts.Container)
	if account == "" || strings.TrimSpace(opts.AccountKey) == "" || container == "" {
		return nil, errors.New("storage: azure account name, key and container are required")
	}
	credential, err := azblob.NewSharedKeyCredential(account, strings.TrimSpace(opts.AccountKey))
	if err != nil {
		return nil, fmt.Errorf("storage: azure credential: %w", err)
	}
	serviceURL := strings.TrimRight(strings.TrimSpace(opts.ServiceURL), "/")
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", account)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL+"/", credential, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: azure client: %w", err)
	}
	return &AzureStore{client: client, container: container, serviceURL: serviceURL}, nil
}

// PublicURL is the blob URL for key.
func (s *AzureStore) PublicURL(key string) string {
	return s.serviceURL + "/" + s.container + "/" + escapeKey(key)
}

func (s *AzureStore) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	key, err := sanitizeKey(name)
	if err == nil {
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}
		_, err = s.client.UploadBuffer(ctx, s.container, key, data, &azblob.UploadBufferOptions{
			HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
		})
	}
	metrics.ObserveUpload(DriverAzure, err)
	if err != nil {
		return "", &domain.StorageError{Op: "upload", Key: name, Err: err}
	}
	return s.PublicURL(key), nil
}

func (s *AzureStore) Delete(ctx context.Context, name string) error {
	key, err := sanitizeKey(name)
	if err == nil {
		_, err = s.client.DeleteBlob(ctx, s.container, key, nil)
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			err = domain.ErrNotFound
		}
	}
	if err != nil {
		return &domain.StorageError{Op: "delete", Key: name, Err: err}
	}
	return nil
}
