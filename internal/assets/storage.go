// Package assets stores uploaded images for image elements in MinIO.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// MaxImageBytes caps a single upload.
const MaxImageBytes = 10 << 20

var ErrUnsupportedType = errors.New("unsupported image type")

var imageExtensions = map[string]string{
	"image/png":     "png",
	"image/jpeg":    "jpg",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/svg+xml": "svg",
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// BaseURL is the public prefix for object URLs. Defaults to the
	// endpoint plus bucket.
	BaseURL string
}

// Asset describes a stored object.
type Asset struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type Storage struct {
	client  *minio.Client
	bucket  string
	baseURL string
	log     zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) (*Storage, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("minio endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Storage{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: publicBase(cfg),
		log:     log.With().Str("component", "assets").Logger(),
	}, nil
}

func publicBase(cfg Config) string {
	if cfg.BaseURL != "" {
		return strings.TrimRight(cfg.BaseURL, "/")
	}
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.log.Info().Str("bucket", s.bucket).Msg("created asset bucket")
	return nil
}

// PutImage uploads an image under the presentation's prefix.
func (s *Storage) PutImage(ctx context.Context, documentID, id, contentType string, body io.Reader, size int64) (Asset, error) {
	key, err := ObjectKey(documentID, id, contentType)
	if err != nil {
		return Asset{}, err
	}
	if size > MaxImageBytes {
		return Asset{}, fmt.Errorf("image exceeds %d bytes", MaxImageBytes)
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: NormalizeContentType(contentType),
	})
	if err != nil {
		return Asset{}, fmt.Errorf("put object %s: %w", key, err)
	}
	return Asset{
		Key:         key,
		URL:         s.URL(key),
		ContentType: NormalizeContentType(contentType),
		Size:        info.Size,
	}, nil
}

func (s *Storage) URL(key string) string {
	return s.baseURL + "/" + key
}

func (s *Storage) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

// NormalizeContentType drops parameters and case from a Content-Type header.
func NormalizeContentType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}

// ValidateContentType returns the file extension for a supported image type.
func ValidateContentType(contentType string) (string, error) {
	ext, ok := imageExtensions[NormalizeContentType(contentType)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	return ext, nil
}

// ObjectKey is presentations/<documentID>/<id>.<ext>.
func ObjectKey(documentID, id, contentType string) (string, error) {
	ext, err := ValidateContentType(contentType)
	if err != nil {
		return "", err
	}
	if documentID == "" || id == "" || strings.ContainsAny(documentID+id, "/\\") {
		return "", errors.New("invalid object key")
	}
	return fmt.Sprintf("presentations/%s/%s.%s", documentID, id, ext), nil
}
