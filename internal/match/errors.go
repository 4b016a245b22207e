package match

import (
	"errors"
	"fmt"
	"time"
)

// ErrGalleryNotFound is returned when the gallery does not exist.
var ErrGalleryNotFound = errors.New("gallery not found")

// ErrMatchingDisabled is returned when the gallery has selfie matching
// switched off or does not permit the selfie guest-access mode. Not
// retryable; the guest must be told plainly.
var ErrMatchingDisabled = errors.New("selfie matching is not enabled for this gallery")

// ErrMobileRequired is returned when the gallery requires a mobile
// number for selfie access and none was supplied. Distinct from a
// generic bad request so the client can prompt specifically.
var ErrMobileRequired = errors.New("mobile number required for selfie matching in this gallery")

// ErrInvalidGuestSession is returned when neither a mobile number nor a
// session token identifies the guest. Client-fixable.
var ErrInvalidGuestSession = errors.New("invalid guest session: mobile number or session token required")

// RateLimitedError rejects an attempt that exceeded the sliding-window
// limit. RetryAfter is the time until the oldest attempt expires.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many selfie attempts, retry after %s", e.RetryAfter.Round(time.Second))
}
