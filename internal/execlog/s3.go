package execlog

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cockroachdb/errors"

	"content-pipeline-scheduler/internal/config"
)

// S3Archiver uploads log bodies to an S3 compatible bucket.
type S3Archiver struct {
	client *s3.Client
	bucket string
}

// NewS3Archiver returns nil when no archive bucket is configured.
func NewS3Archiver(ctx context.Context, cfg config.Config) (*S3Archiver, error) {
	if cfg.LogArchiveBucket == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.LogArchiveRegion))
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.LogArchiveEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.LogArchiveEndpoint)
		}
		o.UsePathStyle = cfg.LogArchivePathStyle
	})
	return &S3Archiver{client: client, bucket: cfg.LogArchiveBucket}, nil
}

// Upload stores body under key and returns its s3:// URI.
func (a *S3Archiver) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", errors.Wrapf(err, "put object %s", key)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, key), nil
}
