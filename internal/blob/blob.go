// Package blob wraps an S3-compatible object store (MinIO in every
// deployment of this system) behind the small capability set the snapshot
// and attachment pipelines need. It performs no retries; callers decide.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("blob: object not found")
	// ErrAuthFailure is returned when the store rejects our credentials.
	ErrAuthFailure = errors.New("blob: authentication failed")
)

// Store is the capability set exposed to the rest of the service.
type Store interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Delete(ctx context.Context, bucket, key string) error
	PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	EnsureBucket(ctx context.Context, bucket string) error
}

// Config carries the MinIO endpoint settings.
type Config struct {
	// "http://127.0.0.1:9000"
	EndpointURL string
	// "us-east-1"
	Region   string
	Username string
	Password string
}

type s3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
}

// Connect builds an S3 client against the MinIO server endpoint.
func Connect(config Config) *s3.Client {
	client := s3.NewFromConfig(aws.Config{Region: config.Region}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(config.EndpointURL)
		o.Credentials = credentials.NewStaticCredentialsProvider(config.Username, config.Password, "")
		// MinIO requires path-style addressing.
		o.UsePathStyle = true
	})
	return client
}

// NewStore wraps an S3 client into a Store.
func NewStore(client *s3.Client) (Store, error) {
	if client == nil {
		return nil, fmt.Errorf("client parameter can't be nil")
	}
	return &s3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
	}, nil
}

func (s *s3Store) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return classify(fmt.Errorf("couldn't put object %s/%s: %w", bucket, key, err))
	}
	return nil
}

func (s *s3Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify(fmt.Errorf("couldn't get object %s/%s: %w", bucket, key, err))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("couldn't read object body %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func (s *s3Store) Delete(ctx context.Context, bucket, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return classify(fmt.Errorf("couldn't delete object %s/%s: %w", bucket, key, err))
	}
	return nil
}

func (s *s3Store) PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", classify(fmt.Errorf("couldn't presign put for %s/%s: %w", bucket, key, err))
	}
	return req.URL, nil
}

func (s *s3Store) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", classify(fmt.Errorf("couldn't presign get for %s/%s: %w", bucket, key, err))
	}
	return req.URL, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *s3Store) EnsureBucket(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		// Concurrent creation by another instance is fine.
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
				return nil
			}
		}
		return classify(fmt.Errorf("couldn't create bucket %s: %w", bucket, err))
	}
	return nil
}

// classify maps provider error codes onto the package sentinels so callers
// can branch with errors.Is without importing the AWS SDK.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: %v", ErrAuthFailure, err)
		}
	}
	return err
}
