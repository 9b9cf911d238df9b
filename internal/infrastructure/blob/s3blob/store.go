package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"pfingest/internal/application/port"
)

// maxObjectBytes bounds a single upload read into memory.
const maxObjectBytes = 64 << 20

type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Store struct {
	api    API
	bucket string
}

func New(api API, bucket string) (*Store, error) {
	if bucket == "" {
		return nil, errors.New("s3blob: bucket is required")
	}
	return &Store{api: api, bucket: bucket}, nil
}

func (s *Store) Fetch(ctx context.Context, key string) (string, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return "", fmt.Errorf("%w: s3://%s/%s", port.ErrObjectNotFound, s.bucket, key)
		}
		return "", fmt.Errorf("s3 get s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(io.LimitReader(out.Body, maxObjectBytes+1))
	if err != nil {
		return "", fmt.Errorf("s3 read s3://%s/%s: %w", s.bucket, key, err)
	}
	if len(b) > maxObjectBytes {
		return "", fmt.Errorf("s3 object s3://%s/%s exceeds %d bytes", s.bucket, key, maxObjectBytes)
	}
	return string(b), nil
}

var _ port.ObjectStore = (*Store)(nil)
