package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/fotique/selfie-match/internal/config"
)

// uploadTimeout bounds a single object write; uploads are small
// (normalized JPEGs), so seconds are plenty.
const uploadTimeout = 30 * time.Second

// GCSStore implements ObjectStore on Google Cloud Storage with one
// bucket per category and V4 signed URLs.
type GCSStore struct {
	client       *storage.Client
	selfieBucket string
	photoBucket  string
}

// NewGCSStore creates a GCS-backed object store. Credentials come from
// GOOGLE_APPLICATION_CREDENTIALS_JSON / GOOGLE_APPLICATION_CREDENTIALS or
// ambient application-default credentials.
func NewGCSStore(ctx context.Context, cfg *config.StorageConfig) (*GCSStore, error) {
	if cfg.SelfieBucket == "" {
		return nil, fmt.Errorf("selfie bucket name is required")
	}
	if cfg.PhotoBucket == "" {
		return nil, fmt.Errorf("photo bucket name is required")
	}

	opts := clientOptionsFromEnv()
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	return &GCSStore{
		client:       client,
		selfieBucket: cfg.SelfieBucket,
		photoBucket:  cfg.PhotoBucket,
	}, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) bucketFor(category BucketCategory) (string, error) {
	switch category {
	case BucketCategorySelfie:
		return s.selfieBucket, nil
	case BucketCategoryPhoto:
		return s.photoBucket, nil
	default:
		return "", fmt.Errorf("unknown bucket category: %s", category)
	}
}

// Upload stores the object under a collision-free key derived from the
// suggested name and returns that key.
func (s *GCSStore) Upload(ctx context.Context, data []byte, suggestedName string, category BucketCategory) (string, error) {
	bucket, err := s.bucketFor(category)
	if err != nil {
		return "", err
	}

	key := objectKey(suggestedName, category)

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("writing object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing writer for %q: %w", key, err)
	}
	return key, nil
}

// SignedURL returns a V4 signed read URL for the object.
func (s *GCSStore) SignedURL(ctx context.Context, key string, category BucketCategory, ttl time.Duration) (string, error) {
	bucket, err := s.bucketFor(category)
	if err != nil {
		return "", err
	}

	url, err := s.client.Bucket(bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("signing url for %q: %w", key, err)
	}
	return url, nil
}

// Download fetches an object's bytes.
func (s *GCSStore) Download(ctx context.Context, key string, category BucketCategory) ([]byte, error) {
	bucket, err := s.bucketFor(category)
	if err != nil {
		return nil, err
	}

	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening object %q: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading object %q: %w", key, err)
	}
	return data, nil
}

// objectKey builds "<category>s/<uuid>-<safe-name>" so concurrent uploads
// of the same filename never collide.
func objectKey(suggestedName string, category BucketCategory) string {
	name := path.Base(strings.TrimSpace(suggestedName))
	if name == "" || name == "." || name == "/" {
		name = "upload.jpg"
	}
	return fmt.Sprintf("%ss/%s-%s", category, uuid.NewString(), name)
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(key)
	switch {
	case strings.HasSuffix(s, ".jpg"), strings.HasSuffix(s, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(s, ".png"):
		return "image/png"
	case strings.HasSuffix(s, ".webp"):
		return "image/webp"
	case strings.HasSuffix(s, ".gif"):
		return "image/gif"
	default:
		return ""
	}
}

func clientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	var opts []option.ClientOption
	if creds == "" {
		return opts
	}
	if strings.HasPrefix(creds, "{") {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	} else {
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	return opts
}
