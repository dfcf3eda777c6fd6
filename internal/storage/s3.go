package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"nexvmeta/internal/domain"
	"nexvmeta/internal/metrics"
)

// S3Options configures the S3 driver. Endpoint switches to path-style
// addressing so S3-compatible gateways (Supabase, MinIO, R2) work.
// Without static keys the default AWS credential chain is used.
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	PublicBaseURL   string
	AccessKeyID     string
	SecretAccessKey string
	HTTPClient      *http.Client
}

// S3Store uploads objects with PutObject.
type S3Store struct {
	client        *s3.Client
	bucket        string
	publicBaseURL string
}

func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		return nil, errors.New("storage: s3 bucket is required")
	}
	region := strings.TrimSpace(opts.Region)
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	if opts.HTTPClient != nil {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(opts.HTTPClient))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	public := strings.TrimSpace(opts.PublicBaseURL)
	if public == "" {
		if endpoint != "" {
			public = endpoint + "/" + bucket
		} else {
			public = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
		}
	}
	return &S3Store{client: client, bucket: bucket, publicBaseURL: public}, nil
}

func (s *S3Store) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	key, err := sanitizeKey(name)
	if err == nil {
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}
		_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        &s.bucket,
			Key:           &key,
			Body:          bytes.NewReader(data),
			ContentType:   aws.String(contentType),
			ContentLength: aws.Int64(int64(len(data))),
		})
	}
	metrics.ObserveUpload(DriverS3, err)
	if err != nil {
		return "", &domain.StorageError{Op: "upload", Key: name, Err: err}
	}
	return joinURL(s.publicBaseURL, key), nil
}

func (s *S3Store) Delete(ctx context.Context, name string) error {
	key, err := sanitizeKey(name)
	if err == nil {
		_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key})
	}
	if err != nil {
		return &domain.StorageError{Op: "delete", Key: name, Err: err}
	}
	return nil
}
