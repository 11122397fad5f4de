package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type putCall struct {
	bucket string
	key    string
	body   []byte
	size   int64
	opts   minio.PutObjectOptions
}

type fakeObjects struct {
	calls []putCall
	err   error
}

func (f *fakeObjects) PutObject(_ context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	body, _ := io.ReadAll(r)
	f.calls = append(f.calls, putCall{bucket: bucket, key: key, body: body, size: size, opts: opts})
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

func TestPutStoresUnderUserPrefix(t *testing.T) {
	objects := &fakeObjects{}
	s := newStore(objects, "tillbook", "https://cdn.example.com/", nil)

	up, err := s.Put(context.Background(), "user/1", KindLogo, "../logo.png", "image/PNG; charset=binary", strings.NewReader("png-bytes"))
	require.NoError(t, err)

	require.Len(t, objects.calls, 1)
	call := objects.calls[0]
	assert.Equal(t, "tillbook", call.bucket)
	assert.True(t, strings.HasPrefix(call.key, "user_1/logo/"), call.key)
	assert.True(t, strings.HasSuffix(call.key, ".png"), call.key)
	assert.Equal(t, "png-bytes", string(call.body))
	assert.Equal(t, int64(9), call.size)
	assert.Equal(t, "image/png", call.opts.ContentType)
	assert.Equal(t, "logo.png", call.opts.UserMetadata["original-name"])

	assert.Equal(t, "https://cdn.example.com/tillbook/"+call.key, up.URL)
	assert.Equal(t, int64(9), up.Size)
}

func TestPutRejects(t *testing.T) {
	tests := []struct {
		name        string
		kind        Kind
		contentType string
		body        []byte
		want        error
	}{
		{name: "unknown kind", kind: "avatar", contentType: "image/png", body: []byte("x"), want: ErrUnsupportedKind},
		{name: "pdf logo", kind: KindLogo, contentType: "application/pdf", body: []byte("x"), want: ErrContentType},
		{name: "html material", kind: KindMaterial, contentType: "text/html", body: []byte("x"), want: ErrContentType},
		{name: "empty", kind: KindMaterial, contentType: "text/csv", body: nil, want: ErrEmpty},
		{name: "too large", kind: KindLogo, contentType: "image/jpeg", body: bytes.Repeat([]byte("a"), int(MaxBytes(KindLogo))+1), want: ErrTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			objects := &fakeObjects{}
			s := newStore(objects, "b", "http://localhost:9000", nil)
			_, err := s.Put(context.Background(), "u1", tc.kind, "f", tc.contentType, bytes.NewReader(tc.body))
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, objects.calls)
		})
	}
}

func TestPutAcceptsLimitExactly(t *testing.T) {
	s := newStore(&fakeObjects{}, "b", "http://localhost:9000", nil)
	body := bytes.Repeat([]byte("a"), int(MaxBytes(KindLogo)))
	_, err := s.Put(context.Background(), "u1", KindLogo, "f.jpg", "image/jpg", bytes.NewReader(body))
	assert.NoError(t, err)
}

func TestPutSurfacesStorageErrors(t *testing.T) {
	s := newStore(&fakeObjects{err: errors.New("bucket gone")}, "b", "http://localhost:9000", nil)
	_, err := s.Put(context.Background(), "u1", KindMaterial, "a.pdf", "application/pdf", strings.NewReader("%PDF"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind(" Logo ")
	assert.True(t, ok)
	assert.Equal(t, KindLogo, k)

	_, ok = ParseKind("video")
	assert.False(t, ok)
}

func TestObjectKeysAreUnique(t *testing.T) {
	a := objectKey("u1", KindMaterial, ".pdf")
	b := objectKey("u1", KindMaterial, ".pdf")
	assert.NotEqual(t, a, b)
	assert.Equal(t, "_", safeSegment(""))
}
