// Package objectstore provides S3-compatible blob storage with
// content-addressed paths for documents and images.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/serviceintel-ai/docpipe/internal/config"
	"github.com/serviceintel-ai/docpipe/internal/domain"
	"github.com/serviceintel-ai/docpipe/internal/observability"
)

// Client stores and retrieves blobs from an S3-compatible endpoint.
type Client struct {
	s3     *s3.Client
	bucket string
	logger *observability.Logger
}

// New creates an object store client. A non-empty endpoint switches to
// path-style addressing, which MinIO and other S3-compatibles require.
func New(ctx context.Context, cfg config.ObjectStoreConfig, logger *observability.Logger) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, domain.Configuration("object store bucket is required", nil)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			scheme := "https"
			if !cfg.UseSSL {
				scheme = "http"
			}
			endpoint := cfg.Endpoint
			if !strings.Contains(endpoint, "://") {
				endpoint = scheme + "://" + endpoint
			}
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{s3: client, bucket: cfg.Bucket, logger: logger}, nil
}

// DocumentPath returns the content-addressed key for a document blob.
func DocumentPath(fileHash string) string {
	return fmt.Sprintf("documents/%s/%s.pdf", fileHash[:2], fileHash)
}

// ImagePath returns the content-addressed key for an image blob.
func ImagePath(fileHash string) string {
	return fmt.Sprintf("images/%s/%s.png", fileHash[:2], fileHash)
}

// Put uploads a blob.
func (c *Client) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return domain.Transient(fmt.Sprintf("put object %s", key), err)
	}
	return nil
}

// PutIfAbsent uploads a blob only when the key does not exist. Content
// addressing makes this safe: same key means same bytes. Returns true when
// the upload happened.
func (c *Client) PutIfAbsent(ctx context.Context, key string, data []byte, contentType string) (bool, error) {
	exists, err := c.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := c.Put(ctx, key, data, contentType); err != nil {
		return false, err
	}
	return true, nil
}

// Get downloads a blob.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, domain.Input(fmt.Sprintf("object %s not found", key), err)
		}
		return nil, domain.Transient(fmt.Sprintf("get object %s", key), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, domain.Transient(fmt.Sprintf("read object %s", key), err)
	}
	return data, nil
}

// Exists checks for a key via HeadObject.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, domain.Transient(fmt.Sprintf("head object %s", key), err)
	}
	return true, nil
}

// Delete removes a blob. Deleting a missing key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return domain.Transient(fmt.Sprintf("delete object %s", key), err)
	}
	return nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (c *Client) EnsureBucket(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err == nil {
		return nil
	}
	_, err = c.s3.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return domain.Transient("create bucket", err)
	}
	c.logger.Info().Str("bucket", c.bucket).Msg("created object store bucket")
	return nil
}
