// Package ratelimit implements a sliding-window limiter over a persistent
// attempt store, keyed by the guest identity key.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fotique/selfie-match/internal/database"
	"github.com/fotique/selfie-match/internal/identity"
)

// Result reports the outcome of a rate-limit check.
type Result struct {
	Allowed    bool
	Remaining  int           // attempts left in the window after this one
	RetryAfter time.Duration // set when not allowed; time until the oldest attempt expires
}

// Limiter counts attempts per (gallery, guest identity) within a trailing
// window. Store failures deny the attempt: abuse prevention fails closed,
// never open.
type Limiter struct {
	store       database.AttemptStore
	maxAttempts int
	window      time.Duration
	log         *zap.Logger

	now func() time.Time // overridable for tests
}

// New creates a limiter. maxAttempts and window are deployment
// configuration, not algorithm constants.
func New(store database.AttemptStore, maxAttempts int, window time.Duration, log *zap.Logger) *Limiter {
	return &Limiter{
		store:       store,
		maxAttempts: maxAttempts,
		window:      window,
		log:         log,
		now:         time.Now,
	}
}

// Check prunes attempts outside the window, counts the rest, and either
// rejects with a retry-after hint or records the new attempt and allows.
//
// A valid identity key is a precondition: an invalid key returns
// identity.ErrNoIdentity so callers can surface it as a bad request
// rather than a rate-limit rejection.
func (l *Limiter) Check(ctx context.Context, key identity.GuestKey) (Result, error) {
	if !key.Valid() {
		return Result{}, identity.ErrNoIdentity
	}

	now := l.now()
	since := now.Add(-l.window)

	attempts, err := l.store.Attempts(ctx, key.String(), since)
	if err != nil {
		l.log.Error("rate-limit store read failed, denying attempt",
			zap.String("gallery_id", key.GalleryID), zap.Error(err))
		return Result{}, fmt.Errorf("reading attempts: %w", err)
	}

	if len(attempts) >= l.maxAttempts {
		retry := attempts[0].Add(l.window).Sub(now)
		if retry < time.Second {
			retry = time.Second
		}
		return Result{Allowed: false, RetryAfter: retry}, nil
	}

	if err := l.store.Record(ctx, key.String(), now); err != nil {
		l.log.Error("rate-limit store write failed, denying attempt",
			zap.String("gallery_id", key.GalleryID), zap.Error(err))
		return Result{}, fmt.Errorf("recording attempt: %w", err)
	}

	return Result{Allowed: true, Remaining: l.maxAttempts - len(attempts) - 1}, nil
}
