package database

import (
	"context"
	"time"
)

// SelfieCache provides access to cached selfie-match results.
// All lookups return the most recently used record, or nil when none
// matches. LookupByHash uses exact equality on the stored fingerprint;
// fuzzy Hamming comparison never happens in the retrieval path.
type SelfieCache interface {
	// LookupByMobile finds the freshest record for a gallery + normalized mobile number.
	LookupByMobile(ctx context.Context, galleryID, mobile string) (*SelfieRecord, error)
	// LookupBySessionToken finds the freshest record for a gallery + guest session token.
	LookupBySessionToken(ctx context.Context, galleryID, token string) (*SelfieRecord, error)
	// LookupByHash finds the freshest record for a gallery + exact content fingerprint.
	LookupByHash(ctx context.Context, galleryID, imageHash string) (*SelfieRecord, error)
	// Store inserts a new record. It never deduplicates against existing rows.
	Store(ctx context.Context, rec *SelfieRecord) error
	// Touch bumps last_used_at so recency-ordered lookups stay meaningful.
	Touch(ctx context.Context, id int64) error
	// Invalidate deletes all records for a gallery + mobile pair
	// (the user-initiated "forget my selfie" action) and returns the count.
	Invalidate(ctx context.Context, galleryID, mobile string) (int64, error)
	// ListWithSelfieKeys returns records that carry a stored selfie object,
	// for maintenance jobs such as fingerprint backfills.
	ListWithSelfieKeys(ctx context.Context, galleryID string) ([]SelfieRecord, error)
	// UpdateImageHash rewrites the fingerprint of one record (backfill only).
	UpdateImageHash(ctx context.Context, id int64, imageHash string) error
}

// GalleryPolicyReader loads the gallery flags the match flow checks before
// doing any expensive work. Returns nil when the gallery does not exist.
type GalleryPolicyReader interface {
	GetPolicy(ctx context.Context, galleryID string) (*GalleryPolicy, error)
}

// AttemptStore persists rate-limit attempt timestamps. Implementations
// must support concurrent appends from independent requests.
type AttemptStore interface {
	// Attempts returns attempt timestamps for the key at or after since, oldest first.
	Attempts(ctx context.Context, key string, since time.Time) ([]time.Time, error)
	// Record appends one attempt at the given time.
	Record(ctx context.Context, key string, at time.Time) error
	// DeleteBefore prunes attempts older than the cutoff and returns the count.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
