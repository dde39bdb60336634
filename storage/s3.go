package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds configuration for S3-compatible storage
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for DO Spaces, R2, MinIO
	AccessKeyID     string
	SecretAccessKey string
}

// PageArchive keeps copies of result pages that failed to parse.
type PageArchive struct {
	client *s3.Client
	cfg    S3Config
}

func NewPageArchive(ctx context.Context, cfg S3Config) (*PageArchive, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &PageArchive{client: client, cfg: cfg}, nil
}

// PageKey is pages/<yyyy-mm-dd>/<run-id>.html.
func PageKey(runID string, at time.Time) string {
	return fmt.Sprintf("pages/%s/%s.html", at.UTC().Format("2006-01-02"), runID)
}

// ArchivePage uploads page and returns where it can be found.
func (a *PageArchive) ArchivePage(ctx context.Context, runID string, page []byte) (string, error) {
	key := PageKey(runID, time.Now())
	if err := a.upload(ctx, key, bytes.NewReader(page), "text/html; charset=utf-8"); err != nil {
		return "", err
	}
	return a.location(key), nil
}

func (a *PageArchive) upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (a *PageArchive) location(key string) string {
	if a.cfg.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(a.cfg.Endpoint, "/"), a.cfg.Bucket, key)
	}
	return fmt.Sprintf("s3://%s/%s", a.cfg.Bucket, key)
}
