package database

import (
	"time"
)

// SelfieRecord is a cached selfie-match result for one gallery guest.
// Records are append-only: reuse happens through the lookup priority
// order (mobile, then session token, then content hash), never through
// upsert. last_used_at ordering makes "most recent wins" reads meaningful
// when duplicate rows accumulate over time.
type SelfieRecord struct {
	ID              int64
	GalleryID       string
	ImageHash       string   // 16-hex-character perceptual fingerprint
	MobileNumber    string   // normalized digits-only phone, empty if none
	SessionToken    string   // client-generated opaque token, empty if none
	FaceID          string   // provider face id, or "no-match-<ts>" sentinel
	MatchedPhotoIDs []string // highest similarity first, deduplicated per photo
	SelfieKey       string   // object-storage key of the normalized selfie
	LastUsedAt      time.Time
	CreatedAt       time.Time
}

// HasMatches reports whether the record carries any matched photos.
func (r *SelfieRecord) HasMatches() bool {
	return len(r.MatchedPhotoIDs) > 0
}

// GalleryPolicy is the slice of gallery configuration the selfie-match
// flow needs. The gallery entity itself is owned elsewhere.
type GalleryPolicy struct {
	GalleryID              string
	SelfieMatchingEnabled  bool
	GuestAccessModes       []string
	RequireMobileForSelfie bool
}

// AllowsGuestMode checks whether the gallery permits the given guest
// access mode.
func (p *GalleryPolicy) AllowsGuestMode(mode string) bool {
	for _, m := range p.GuestAccessModes {
		if m == mode {
			return true
		}
	}
	return false
}

// GuestModeSelfie is the guest access mode required for selfie matching.
const GuestModeSelfie = "selfie"
