package audit

import (
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archiver_Archive(t *testing.T) {
	putter := &fakePutter{}
	a := newS3Archiver(putter, "audit-bucket", "audit")
	a.now = func() time.Time { return time.Date(2026, 4, 9, 23, 0, 0, 0, time.UTC) }

	require.NoError(t, a.Archive(context.Background(), exportFixture()))
	require.Len(t, putter.inputs, 1)

	in := putter.inputs[0]
	assert.Equal(t, "audit-bucket", *in.Bucket)
	assert.Regexp(t, regexp.MustCompile(`^audit/2026/04/09/[0-9a-f-]{36}\.ndjson$`), *in.Key)
	assert.Equal(t, "application/x-ndjson", *in.ContentType)
	assert.Equal(t, "2", in.Metadata["event-count"])
	assert.Len(t, strings.Split(strings.TrimSpace(putter.bodies[0]), "\n"), 2)
}

func TestS3Archiver_EmptyAndError(t *testing.T) {
	putter := &fakePutter{}
	a := newS3Archiver(putter, "b", "p")
	require.NoError(t, a.Archive(context.Background(), nil))
	assert.Empty(t, putter.inputs)

	putter.err = errors.New("access denied")
	err := a.Archive(context.Background(), exportFixture())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upload audit archive")
}
