// Package identity derives the guest identity key used for rate limiting
// and cache lookups. The key is a tagged value (mobile or session token),
// not a parsed string; the string form exists only for storage.
package identity

import (
	"errors"
	"strings"
)

// ErrNoIdentity is returned when neither a mobile number nor a session
// token is available to identify the guest.
var ErrNoIdentity = errors.New("no guest identity: mobile number or session token required")

// Kind tags which identity signal a GuestKey carries.
type Kind int

const (
	KindMobile Kind = iota + 1
	KindSession
)

// GuestKey identifies a guest within one gallery.
type GuestKey struct {
	GalleryID string
	kind      Kind
	value     string
}

// MobileKey builds a mobile-based key. The mobile number is normalized.
func MobileKey(galleryID, mobile string) GuestKey {
	return GuestKey{GalleryID: galleryID, kind: KindMobile, value: NormalizeMobile(mobile)}
}

// SessionKey builds a session-token-based key.
func SessionKey(galleryID, token string) GuestKey {
	return GuestKey{GalleryID: galleryID, kind: KindSession, value: token}
}

// Derive picks the strongest available identity signal: mobile number
// first, session token as fallback. Returns ErrNoIdentity when neither
// yields a usable key; callers must check this before rate-limit
// accounting.
func Derive(galleryID, mobile, sessionToken string) (GuestKey, error) {
	if m := NormalizeMobile(mobile); m != "" {
		return GuestKey{GalleryID: galleryID, kind: KindMobile, value: m}, nil
	}
	if t := strings.TrimSpace(sessionToken); t != "" {
		return GuestKey{GalleryID: galleryID, kind: KindSession, value: t}, nil
	}
	return GuestKey{}, ErrNoIdentity
}

// Kind reports which signal the key carries.
func (k GuestKey) Kind() Kind {
	return k.kind
}

// Mobile returns the normalized mobile number for mobile-based keys.
func (k GuestKey) Mobile() (string, bool) {
	if k.kind == KindMobile {
		return k.value, true
	}
	return "", false
}

// SessionToken returns the token for session-based keys.
func (k GuestKey) SessionToken() (string, bool) {
	if k.kind == KindSession {
		return k.value, true
	}
	return "", false
}

// Valid reports whether the key carries a usable identity.
func (k GuestKey) Valid() bool {
	return k.value != "" && (k.kind == KindMobile || k.kind == KindSession)
}

// String returns the storage form of the key:
// "<galleryID>:m:<mobile>" or "<galleryID>:s:<token>".
func (k GuestKey) String() string {
	switch k.kind {
	case KindMobile:
		return k.GalleryID + ":m:" + k.value
	case KindSession:
		return k.GalleryID + ":s:" + k.value
	default:
		return k.GalleryID + ":?"
	}
}

// NormalizeMobile strips everything except digits, so that
// "+420 777-123-456" and "420777123456" produce the same key.
func NormalizeMobile(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
