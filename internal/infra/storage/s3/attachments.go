package s3

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"guildchat/internal/app/pipeline"
	"guildchat/internal/domain/chat"
)

// Checker verifies attachment references against an S3-compatible bucket.
// Clients upload objects out of band and attach the resulting storage path;
// a message only goes through once every referenced object exists.
type Checker struct {
	bucket string
	client *minio.Client
	logger *slog.Logger
}

func NewChecker(endpoint string, useSSL bool, accessKey, secretKey, bucket string, logger *slog.Logger) (*Checker, error) {
	cleanEndpoint := strings.TrimSpace(endpoint)
	if cleanEndpoint == "" {
		return nil, errors.New("s3: endpoint is required")
	}
	if bucket = strings.TrimSpace(bucket); bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(accessKey), strings.TrimSpace(secretKey), ""),
		Secure: useSSL,
	}
	minioClient, err := minio.New(parseEndpoint(cleanEndpoint), opts)
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}

	return &Checker{bucket: bucket, client: minioClient, logger: logger}, nil
}

func (c *Checker) Check(ctx context.Context, storagePath string) error {
	key := strings.Trim(strings.TrimSpace(storagePath), "/")
	if key == "" {
		return chat.ErrInvalidAttachment
	}
	_, err := c.client.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			if c.logger != nil {
				c.logger.Warn("attachment object missing", "bucket", c.bucket, "key", key)
			}
			return chat.ErrInvalidAttachment
		}
		return fmt.Errorf("s3: stat object: %w", err)
	}
	return nil
}

// NoopChecker accepts every reference, used when S3 is not configured.
type NoopChecker struct{}

func (NoopChecker) Check(context.Context, string) error { return nil }

func parseEndpoint(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return endpoint
}

var _ pipeline.AttachmentChecker = (*Checker)(nil)
var _ pipeline.AttachmentChecker = NoopChecker{}
