// Package blob provides the S3-backed blob store for original documents.
//
// The store is treated as opaque byte storage: put, get, delete by path.
// MinIO-style deployments are supported through the endpoint override.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds S3 client configuration.
type Config struct {
	Region    string
	Bucket    string
	Endpoint  string // optional base endpoint override
	AccessKey string
	SecretKey string
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("%w: bucket required", ErrInvalidConfig)
	}
	return nil
}

// Store wraps the S3 client for blob operations.
type Store struct {
	client *s3.Client
	bucket string
}

// NewStore creates an S3 blob store from config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// NewStorageKey returns a fresh date-partitioned object key for a team.
func NewStorageKey(teamID string) string {
	d := time.Now().UTC()
	return fmt.Sprintf("teams/%s/%d/%02d/%02d/%s", teamID, d.Year(), d.Month(), d.Day(), uuid.New())
}

// Put uploads the blob and returns the storage path.
func (s *Store) Put(ctx context.Context, path string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("putting object %s: %w", path, err)
	}
	return path, nil
}

// Get downloads the blob at path.
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, fmt.Errorf("getting object %s: %w", path, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object %s: %w", path, err)
	}
	return data, nil
}

// Delete removes the blob at path.
func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("deleting object %s: %w", path, err)
	}
	return nil
}
