// Package media stores uploaded store logos and material files in an
// S3-compatible bucket.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

type Kind string

const (
	KindLogo     Kind = "logo"
	KindMaterial Kind = "material"
)

var (
	ErrUnsupportedKind = errors.New("unsupported upload kind")
	ErrContentType     = errors.New("content type not allowed")
	ErrTooLarge        = errors.New("upload too large")
	ErrEmpty           = errors.New("upload is empty")
)

type rule struct {
	maxBytes int64
	types    map[string]string // content type -> extension
}

var rules = map[Kind]rule{
	KindLogo: {
		maxBytes: 2 << 20,
		types: map[string]string{
			"image/png":     ".png",
			"image/jpeg":    ".jpg",
			"image/webp":    ".webp",
			"image/svg+xml": ".svg",
		},
	},
	KindMaterial: {
		maxBytes: 10 << 20,
		types: map[string]string{
			"application/pdf": ".pdf",
			"image/png":       ".png",
			"image/jpeg":      ".jpg",
			"text/csv":        ".csv",
			"text/plain":      ".txt",
		},
	},
}

// ParseKind accepts "logo" and "material".
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	_, ok := rules[k]
	return k, ok
}

// MaxBytes is the size limit for kind, zero when the kind is unknown.
func MaxBytes(k Kind) int64 {
	return rules[k].maxBytes
}

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Upload struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the base for returned links. Defaults to the endpoint.
	PublicURL string
}

type Store struct {
	objects   objectPutter
	bucket    string
	publicURL string
	logger    *zap.Logger
}

// New connects to the bucket, creating it when it does not exist yet.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		publicURL = scheme + "://" + cfg.Endpoint
	}
	return newStore(client, cfg.Bucket, publicURL, logger), nil
}

func newStore(objects objectPutter, bucket, publicURL string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		objects:   objects,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger,
	}
}

// Put checks and stores one upload under the user's prefix and returns its
// public URL.
func (s *Store) Put(ctx context.Context, userID string, kind Kind, name, contentType string, r io.Reader) (Upload, error) {
	rl, ok := rules[kind]
	if !ok {
		return Upload{}, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}
	contentType = normalizeContentType(contentType)
	ext, ok := rl.types[contentType]
	if !ok {
		return Upload{}, fmt.Errorf("%w: %s for %s", ErrContentType, contentType, kind)
	}

	data, err := io.ReadAll(io.LimitReader(r, rl.maxBytes+1))
	if err != nil {
		return Upload{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return Upload{}, ErrEmpty
	}
	if int64(len(data)) > rl.maxBytes {
		return Upload{}, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, rl.maxBytes)
	}

	key := objectKey(userID, kind, ext)
	_, err = s.objects.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"original-name": path.Base(name)},
	})
	if err != nil {
		return Upload{}, fmt.Errorf("put object %s: %w", key, err)
	}

	s.logger.Info("upload stored",
		zap.String("user_id", userID),
		zap.String("kind", string(kind)),
		zap.String("key", key),
		zap.Int("bytes", len(data)),
	)
	return Upload{
		Key:         key,
		URL:         s.publicURL + "/" + s.bucket + "/" + key,
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

func normalizeContentType(ct string) string {
	ct, _, _ = strings.Cut(ct, ";")
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "image/jpg" {
		return "image/jpeg"
	}
	return ct
}

func objectKey(userID string, kind Kind, ext string) string {
	return safeSegment(userID) + "/" + string(kind) + "/" + uuid.NewString() + ext
}

func safeSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
