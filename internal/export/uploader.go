package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"invoice-collector/internal/config"
)

const csvContentType = "text/csv"

// Uploader ships an export and returns where it landed.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// NewUploader picks S3 when a bucket is configured, a local archive when an
// archive directory is, and nil otherwise.
func NewUploader(ctx context.Context, cfg config.Config) (Uploader, error) {
	if cfg.S3Bucket == "" {
		if cfg.ArchiveDir != "" {
			return &LocalUploader{BaseDir: cfg.ArchiveDir}, nil
		}
		return nil, nil
	}
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &S3Uploader{client: client, bucket: cfg.S3Bucket, prefix: cfg.S3Prefix}, nil
}

// Ship uploads a CSV export named after its local file.
func Ship(ctx context.Context, u Uploader, localPath string, body []byte) (string, error) {
	return u.Upload(ctx, filepath.Base(localPath), body, csvContentType)
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	}), nil
}

// sanitizeKey keeps object keys relative and free of "..".
func sanitizeKey(key string) string {
	key = path.Clean("/" + filepath.ToSlash(key))
	return strings.TrimPrefix(key, "/")
}

// LocalUploader copies exports under a base directory.
type LocalUploader struct {
	BaseDir string
}

func (l *LocalUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	dest := filepath.Join(l.BaseDir, filepath.FromSlash(sanitizeKey(key)))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return dest, nil
}

// S3Uploader puts exports into a bucket under an optional prefix.
type S3Uploader struct {
	client *s3.Client
	bucket string
	prefix string
}

func (s *S3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	objectKey := sanitizeKey(s.prefix + key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, objectKey), nil
}
