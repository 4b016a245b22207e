// Package session issues guest session tokens after a successful selfie
// match. The token is opaque to the guest; session lifecycle beyond issue
// and parse is owned by the main platform.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the guest session JWT claims.
type Claims struct {
	GalleryID       string   `json:"gallery_id"`
	MobileNumber    string   `json:"mobile_number,omitempty"`
	MatchedPhotoIDs []string `json:"matched_photo_ids"`
	jwt.RegisteredClaims
}

// Issuer signs guest session tokens with an HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer creates a token issuer. The secret must be non-empty.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("guest session secret is required")
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}, nil
}

// Issue creates a signed guest session token carrying the gallery, the
// guest's mobile number (if known) and the matched photo ids.
func (i *Issuer) Issue(galleryID, mobile string, matchedPhotoIDs []string) (string, error) {
	now := time.Now()
	claims := Claims{
		GalleryID:       galleryID,
		MobileNumber:    mobile,
		MatchedPhotoIDs: matchedPhotoIDs,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing guest session token: %w", err)
	}
	return signed, nil
}

// Parse validates a guest session token and returns its claims.
func (i *Issuer) Parse(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing guest session token: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid guest session claims")
	}
	return claims, nil
}
