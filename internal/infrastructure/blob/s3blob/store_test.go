package s3blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"

	"pfingest/internal/application/port"
)

type fakeAPI map[string]string

func (f fakeAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestFetch(t *testing.T) {
	s, err := New(fakeAPI{"bkt/uploads/p1/a.csv": "AAPL,10,150\n"}, "bkt")
	require.NoError(t, err)

	body, err := s.Fetch(context.Background(), "uploads/p1/a.csv")
	require.NoError(t, err)
	require.Equal(t, "AAPL,10,150\n", body)

	_, err = s.Fetch(context.Background(), "uploads/p1/missing.csv")
	require.ErrorIs(t, err, port.ErrObjectNotFound)
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(fakeAPI{}, "")
	require.Error(t, err)
}
