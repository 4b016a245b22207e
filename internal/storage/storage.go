// Package storage abstracts the durable object store used for guest
// selfies and gallery photos.
package storage

import (
	"context"
	"time"
)

// BucketCategory selects which bucket an object lives in.
type BucketCategory string

const (
	BucketCategorySelfie BucketCategory = "selfie"
	BucketCategoryPhoto  BucketCategory = "photo"
)

// ObjectStore uploads objects and signs short-lived read URLs.
// Signing failures must stay non-fatal for callers: a match response
// without a preview URL is still a valid response.
type ObjectStore interface {
	// Upload stores the object and returns its storage key.
	Upload(ctx context.Context, data []byte, suggestedName string, category BucketCategory) (string, error)
	// SignedURL returns a short-lived read URL for an object.
	SignedURL(ctx context.Context, key string, category BucketCategory, ttl time.Duration) (string, error)
	// Download fetches an object's bytes by key.
	Download(ctx context.Context, key string, category BucketCategory) ([]byte, error)
}
