// Package mock provides in-memory implementations of the database
// interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fotique/selfie-match/internal/database"
)

// SelfieCache is an in-memory implementation of database.SelfieCache.
type SelfieCache struct {
	mu      sync.RWMutex
	nextID  int64
	records []*database.SelfieRecord

	// Error injection
	LookupError error
	StoreError  error
	TouchError  error
}

// NewSelfieCache creates a new in-memory selfie cache.
func NewSelfieCache() *SelfieCache {
	return &SelfieCache{nextID: 1}
}

// Records returns a snapshot of all stored records.
func (m *SelfieCache) Records() []database.SelfieRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.SelfieRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, *r)
	}
	return out
}

func (m *SelfieCache) lookup(match func(*database.SelfieRecord) bool) (*database.SelfieRecord, error) {
	if m.LookupError != nil {
		return nil, m.LookupError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *database.SelfieRecord
	for _, r := range m.records {
		if !match(r) {
			continue
		}
		if best == nil || r.LastUsedAt.After(best.LastUsedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

// LookupByMobile finds the most recently used record for a gallery + mobile.
func (m *SelfieCache) LookupByMobile(ctx context.Context, galleryID, mobile string) (*database.SelfieRecord, error) {
	return m.lookup(func(r *database.SelfieRecord) bool {
		return r.GalleryID == galleryID && r.MobileNumber != "" && r.MobileNumber == mobile
	})
}

// LookupBySessionToken finds the most recently used record for a gallery + session token.
func (m *SelfieCache) LookupBySessionToken(ctx context.Context, galleryID, token string) (*database.SelfieRecord, error) {
	return m.lookup(func(r *database.SelfieRecord) bool {
		return r.GalleryID == galleryID && r.SessionToken != "" && r.SessionToken == token
	})
}

// LookupByHash finds the most recently used record for a gallery + exact fingerprint.
func (m *SelfieCache) LookupByHash(ctx context.Context, galleryID, imageHash string) (*database.SelfieRecord, error) {
	return m.lookup(func(r *database.SelfieRecord) bool {
		return r.GalleryID == galleryID && r.ImageHash == imageHash
	})
}

// Store inserts a new record, assigning an id and timestamps.
func (m *SelfieCache) Store(ctx context.Context, rec *database.SelfieRecord) error {
	if m.StoreError != nil {
		return m.StoreError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.ID = m.nextID
	m.nextID++
	now := time.Now()
	rec.LastUsedAt = now
	rec.CreatedAt = now

	cp := *rec
	m.records = append(m.records, &cp)
	return nil
}

// Touch bumps last_used_at to now.
func (m *SelfieCache) Touch(ctx context.Context, id int64) error {
	if m.TouchError != nil {
		return m.TouchError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			r.LastUsedAt = time.Now()
			return nil
		}
	}
	return nil
}

// Invalidate deletes all records for a gallery + mobile pair.
func (m *SelfieCache) Invalidate(ctx context.Context, galleryID, mobile string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kept []*database.SelfieRecord
	var deleted int64
	for _, r := range m.records {
		if r.GalleryID == galleryID && r.MobileNumber == mobile {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return deleted, nil
}

// ListWithSelfieKeys returns records carrying a stored selfie object.
func (m *SelfieCache) ListWithSelfieKeys(ctx context.Context, galleryID string) ([]database.SelfieRecord, error) {
	if m.LookupError != nil {
		return nil, m.LookupError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.SelfieRecord
	for _, r := range m.records {
		if r.SelfieKey == "" {
			continue
		}
		if galleryID != "" && r.GalleryID != galleryID {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

// UpdateImageHash rewrites the fingerprint of one record.
func (m *SelfieCache) UpdateImageHash(ctx context.Context, id int64, imageHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			r.ImageHash = imageHash
			return nil
		}
	}
	return nil
}

// GalleryPolicies is an in-memory implementation of database.GalleryPolicyReader.
type GalleryPolicies struct {
	mu       sync.RWMutex
	policies map[string]*database.GalleryPolicy

	// Error injection
	GetError error
}

// NewGalleryPolicies creates a new in-memory gallery policy reader.
func NewGalleryPolicies() *GalleryPolicies {
	return &GalleryPolicies{policies: make(map[string]*database.GalleryPolicy)}
}

// AddPolicy registers a gallery policy.
func (m *GalleryPolicies) AddPolicy(p database.GalleryPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.GalleryID] = &p
}

// GetPolicy returns the policy for a gallery, or nil when unknown.
func (m *GalleryPolicies) GetPolicy(ctx context.Context, galleryID string) (*database.GalleryPolicy, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[galleryID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// AttemptStore is an in-memory implementation of database.AttemptStore.
type AttemptStore struct {
	mu       sync.Mutex
	attempts map[string][]time.Time

	// Error injection
	AttemptsError error
	RecordError   error
}

// NewAttemptStore creates a new in-memory attempt store.
func NewAttemptStore() *AttemptStore {
	return &AttemptStore{attempts: make(map[string][]time.Time)}
}

// Attempts returns attempt timestamps for the key at or after since, oldest first.
func (m *AttemptStore) Attempts(ctx context.Context, key string, since time.Time) ([]time.Time, error) {
	if m.AttemptsError != nil {
		return nil, m.AttemptsError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []time.Time
	for _, at := range m.attempts[key] {
		if !at.Before(since) {
			out = append(out, at)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// Record appends one attempt.
func (m *AttemptStore) Record(ctx context.Context, key string, at time.Time) error {
	if m.RecordError != nil {
		return m.RecordError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[key] = append(m.attempts[key], at)
	return nil
}

// DeleteBefore prunes attempts older than the cutoff and returns the count.
func (m *AttemptStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for key, times := range m.attempts {
		var kept []time.Time
		for _, at := range times {
			if at.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, at)
		}
		m.attempts[key] = kept
	}
	return deleted, nil
}
