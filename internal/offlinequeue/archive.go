package offlinequeue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/wolfman30/support-copilot/pkg/logging"
)

// S3API is the subset of the S3 client used by S3Archive.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Archive keeps exported batches in S3 so they can be imported elsewhere.
type S3Archive struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
	now      func() time.Time
}

// NewS3Archive creates an archive. If bucket is empty, Enabled reports false
// and Put is a no-op.
func NewS3Archive(s3Client S3API, bucket string, logger *logging.Logger) *S3Archive {
	if logger == nil {
		logger = logging.Default()
	}
	return &S3Archive{bucket: bucket, s3Client: s3Client, logger: logger, now: time.Now}
}

func (a *S3Archive) Enabled() bool {
	return a != nil && a.bucket != "" && a.s3Client != nil
}

// Put stores batch and returns its object key.
func (a *S3Archive) Put(ctx context.Context, batch []byte) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	now := a.now().UTC()
	key := fmt.Sprintf("offline-queue/exports/%d/%02d/%02d/%s-%s.jsonl",
		now.Year(), now.Month(), now.Day(), now.Format("150405"), uuid.NewString())

	_, err := a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(batch),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("offlinequeue: s3 put %s: %w", key, err)
	}
	a.logger.Info("archived offline queue export", "s3_key", key, "bytes", len(batch))
	return key, nil
}

// Get fetches a previously archived batch.
func (a *S3Archive) Get(ctx context.Context, key string) ([]byte, error) {
	if !a.Enabled() {
		return nil, errors.New("offlinequeue: archive is not configured")
	}
	out, err := a.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("offlinequeue: s3 get %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("offlinequeue: read %s: %w", key, err)
	}
	return data, nil
}
