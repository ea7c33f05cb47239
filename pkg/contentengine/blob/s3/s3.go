// Package s3 stores export artifacts in S3-compatible object storage
// and hands out presigned download URLs.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config options for the S3 blob store.
type Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // optional, for MinIO and other S3-compatibles
	UsePathStyle    bool
	PresignDuration int // seconds, default 3600
}

// Store implements contentengine.BlobStore on S3.
type Store struct {
	uploader        *manager.Uploader
	presignClient   *s3.PresignClient
	bucket          string
	presignDuration time.Duration
}

// New creates an S3 blob store, using the default credential chain
// unless static keys are provided.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.PresignDuration == 0 {
		cfg.PresignDuration = 3600
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	client := s3.NewFromConfig(awsCfg, opts...)
	return &Store{
		uploader:        manager.NewUploader(client),
		presignClient:   s3.NewPresignClient(client),
		bucket:          cfg.Bucket,
		presignDuration: time.Duration(cfg.PresignDuration) * time.Second,
	}, nil
}

func (s *Store) Upload(ctx context.Context, key string, reader io.Reader, contentType string) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        reader,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return nil
}

func (s *Store) GetDownloadURL(ctx context.Context, key, downloadFilename string) (string, time.Time, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if downloadFilename != "" {
		input.ResponseContentDisposition = aws.String(
			fmt.Sprintf("attachment; filename=%q", downloadFilename))
	}

	expiresAt := time.Now().Add(s.presignDuration)
	presigned, err := s.presignClient.PresignGetObject(ctx, input,
		s3.WithPresignExpires(s.presignDuration))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to presign download: %w", err)
	}
	return presigned.URL, expiresAt, nil
}
