package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const claimPrefix = "intake-claims/"

// ClaimStore holds intake bodies that do not fit in one queue message. The
// queue then carries only the key.
type ClaimStore interface {
	Put(ctx context.Context, key string, body []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type claimS3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3ClaimStore keeps claimed bodies in an S3 bucket. Objects are removed once
// the delivery that references them is acknowledged; a lifecycle rule on the
// prefix should sweep the ones a crashed worker leaves behind.
type S3ClaimStore struct {
	client claimS3API
	bucket string
}

func NewS3ClaimStore(client claimS3API, bucket string) *S3ClaimStore {
	if client == nil {
		panic("pipeline: S3 client cannot be nil")
	}
	if strings.TrimSpace(bucket) == "" {
		panic("pipeline: claim bucket cannot be empty")
	}
	return &S3ClaimStore{client: client, bucket: bucket}
}

func (s *S3ClaimStore) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("pipeline: s3 put claim %s: %w", key, err)
	}
	return nil
}

func (s *S3ClaimStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: s3 get claim %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read claim %s: %w", key, err)
	}
	return data, nil
}

func (s *S3ClaimStore) Delete(ctx context.Context, key string) error {
	if !strings.HasPrefix(key, claimPrefix) {
		return errors.New("pipeline: refusing to delete non-claim key " + key)
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("pipeline: s3 delete claim %s: %w", key, err)
	}
	return nil
}

func newClaimKey() string {
	return claimPrefix + uuid.NewString() + ".json"
}
