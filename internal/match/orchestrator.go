// Package match implements the guest selfie-matching decision procedure:
// gallery policy checks, identity derivation, rate limiting, the cache
// lookup chain, and the external face-provider fallback on a true miss.
package match

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fotique/selfie-match/internal/database"
	"github.com/fotique/selfie-match/internal/faces"
	"github.com/fotique/selfie-match/internal/fingerprint"
	"github.com/fotique/selfie-match/internal/identity"
	"github.com/fotique/selfie-match/internal/ratelimit"
	"github.com/fotique/selfie-match/internal/storage"
)

// Input carries one selfie-match request.
type Input struct {
	GalleryID    string
	Selfie       []byte
	Mobile       string // raw, normalized internally
	SessionToken string
}

// Result is a successful selfie-match outcome. A guest whose selfie
// matched nothing still gets a Result with empty MatchedPhotoIDs;
// "no matches" and "request failed" stay distinguishable.
type Result struct {
	MatchedPhotoIDs []string
	CacheHit        bool
	FaceID          string
	SelfieURL       string // signed preview URL, empty when signing failed or no object is stored
	Mobile          string // normalized mobile, empty when none supplied
}

// Options tune the orchestrator. Zero values fall back to defaults.
type Options struct {
	SimilarityThreshold int           // provider search threshold, percent
	MaxImageDimension   int           // normalization bound, pixels
	JPEGQuality         int           // normalization re-encode quality
	SignedURLTTL        time.Duration // preview URL lifetime
}

// Orchestrator resolves selfie-match requests. All collaborators are
// injected; there is no hidden lazy-singleton state.
type Orchestrator struct {
	policies database.GalleryPolicyReader
	cache    database.SelfieCache
	limiter  *ratelimit.Limiter
	store    storage.ObjectStore
	provider faces.Provider
	log      *zap.Logger
	opts     Options

	now func() time.Time // overridable for tests
}

// New creates an Orchestrator.
func New(
	policies database.GalleryPolicyReader,
	cache database.SelfieCache,
	limiter *ratelimit.Limiter,
	store storage.ObjectStore,
	provider faces.Provider,
	log *zap.Logger,
	opts Options,
) *Orchestrator {
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = 80
	}
	if opts.MaxImageDimension <= 0 {
		opts.MaxImageDimension = 1280
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 85
	}
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = 15 * time.Minute
	}

	return &Orchestrator{
		policies: policies,
		cache:    cache,
		limiter:  limiter,
		store:    store,
		provider: provider,
		log:      log,
		opts:     opts,
		now:      time.Now,
	}
}

// Resolve runs the match pipeline. Each step is a potential early exit;
// no expensive work happens before the policy and identity checks pass.
func (o *Orchestrator) Resolve(ctx context.Context, in Input) (*Result, error) {
	// Gallery policy gate.
	policy, err := o.policies.GetPolicy(ctx, in.GalleryID)
	if err != nil {
		return nil, fmt.Errorf("loading gallery policy: %w", err)
	}
	if policy == nil {
		return nil, ErrGalleryNotFound
	}
	if !policy.SelfieMatchingEnabled || !policy.AllowsGuestMode(database.GuestModeSelfie) {
		return nil, ErrMatchingDisabled
	}

	mobile := identity.NormalizeMobile(in.Mobile)
	if policy.RequireMobileForSelfie && mobile == "" {
		return nil, ErrMobileRequired
	}

	key, err := identity.Derive(in.GalleryID, in.Mobile, in.SessionToken)
	if err != nil {
		return nil, ErrInvalidGuestSession
	}

	// Normalize before hashing so visually-identical photos at different
	// resolutions/encodings fingerprint the same. Undecodable input keeps
	// the raw bytes; the hasher's digest fallback covers those.
	normalized, err := fingerprint.Normalize(in.Selfie, o.opts.MaxImageDimension, o.opts.JPEGQuality)
	if err != nil {
		o.log.Debug("selfie normalization failed, hashing raw bytes",
			zap.String("gallery_id", in.GalleryID), zap.Error(err))
		normalized = in.Selfie
	}
	imageHash := fingerprint.Hash(normalized)

	limit, err := o.limiter.Check(ctx, key)
	if err != nil {
		// Store failures deny the attempt: abuse prevention fails closed.
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !limit.Allowed {
		return nil, &RateLimitedError{RetryAfter: limit.RetryAfter}
	}

	if rec := o.lookupChain(ctx, in.GalleryID, mobile, in.SessionToken, imageHash); rec != nil {
		if err := o.cache.Touch(ctx, rec.ID); err != nil {
			o.log.Warn("cache touch failed", zap.Int64("record_id", rec.ID), zap.Error(err))
		}
		return o.assemble(ctx, rec.MatchedPhotoIDs, rec.FaceID, rec.SelfieKey, mobile, true), nil
	}

	return o.resolveMiss(ctx, in.GalleryID, normalized, imageHash, mobile, in.SessionToken)
}

// lookupChain tries mobile, then session token, then exact content hash.
// Read failures are non-fatal: a broken lookup degrades to the next
// strategy, never aborts the request.
func (o *Orchestrator) lookupChain(ctx context.Context, galleryID, mobile, sessionToken, imageHash string) *database.SelfieRecord {
	if mobile != "" {
		rec, err := o.cache.LookupByMobile(ctx, galleryID, mobile)
		if err != nil {
			o.log.Warn("mobile lookup failed", zap.String("gallery_id", galleryID), zap.Error(err))
		} else if rec != nil {
			return rec
		}
	}
	if sessionToken != "" {
		rec, err := o.cache.LookupBySessionToken(ctx, galleryID, sessionToken)
		if err != nil {
			o.log.Warn("session-token lookup failed", zap.String("gallery_id", galleryID), zap.Error(err))
		} else if rec != nil {
			return rec
		}
	}
	rec, err := o.cache.LookupByHash(ctx, galleryID, imageHash)
	if err != nil {
		o.log.Warn("hash lookup failed", zap.String("gallery_id", galleryID), zap.Error(err))
		return nil
	}
	return rec
}

// resolveMiss handles a true cache miss: upload the normalized selfie,
// search the provider, persist the outcome, assemble the response.
func (o *Orchestrator) resolveMiss(ctx context.Context, galleryID string, normalized []byte, imageHash, mobile, sessionToken string) (*Result, error) {
	// Without a stored object the result cannot be persisted meaningfully,
	// so the upload is the one fatal storage step.
	selfieKey, err := o.store.Upload(ctx, normalized, "selfie.jpg", storage.BucketCategorySelfie)
	if err != nil {
		return nil, fmt.Errorf("uploading selfie: %w", err)
	}

	providerMatches, searchErr := o.provider.SearchFaces(ctx, normalized, galleryID, o.opts.SimilarityThreshold)
	if searchErr != nil && !errors.Is(searchErr, faces.ErrNoFaceDetected) {
		// Provider errors degrade to an empty-match result rather than
		// failing the request; a degraded outcome is never cached so the
		// next attempt retries the provider.
		o.log.Warn("face provider search failed, degrading to empty matches",
			zap.String("gallery_id", galleryID), zap.Error(searchErr))
		return o.assemble(ctx, nil, "", selfieKey, mobile, false), nil
	}

	matches := collapseMatches(providerMatches)

	faceID := ""
	photoIDs := make([]string, 0, len(matches))
	for _, m := range matches {
		photoIDs = append(photoIDs, m.PhotoID)
	}
	if len(matches) > 0 {
		faceID = matches[0].FaceID
	} else {
		// Zero matches (including "no face detected") is still a cacheable
		// outcome; the sentinel keeps the record meaningful for reuse.
		faceID = fmt.Sprintf("no-match-%d", o.now().Unix())
	}

	rec := &database.SelfieRecord{
		GalleryID:       galleryID,
		ImageHash:       imageHash,
		MobileNumber:    mobile,
		SessionToken:    sessionToken,
		FaceID:          faceID,
		MatchedPhotoIDs: photoIDs,
		SelfieKey:       selfieKey,
	}
	if err := o.cache.Store(ctx, rec); err != nil {
		// The guest already has a computed result; a failed insert only
		// costs a redundant provider call next time.
		o.log.Error("storing selfie cache record failed",
			zap.String("gallery_id", galleryID), zap.Error(err))
	}

	return o.assemble(ctx, photoIDs, faceID, selfieKey, mobile, false), nil
}

// assemble builds the client-facing result. URL signing is best-effort.
func (o *Orchestrator) assemble(ctx context.Context, photoIDs []string, faceID, selfieKey, mobile string, cacheHit bool) *Result {
	res := &Result{
		MatchedPhotoIDs: photoIDs,
		CacheHit:        cacheHit,
		FaceID:          faceID,
		Mobile:          mobile,
	}
	if res.MatchedPhotoIDs == nil {
		res.MatchedPhotoIDs = []string{}
	}
	if selfieKey != "" {
		url, err := o.store.SignedURL(ctx, selfieKey, storage.BucketCategorySelfie, o.opts.SignedURLTTL)
		if err != nil {
			o.log.Warn("signing selfie URL failed", zap.String("key", selfieKey), zap.Error(err))
		} else {
			res.SelfieURL = url
		}
	}
	return res
}

// collapseMatches deduplicates provider matches per photo, keeping the
// highest similarity, and sorts by descending similarity.
func collapseMatches(in []faces.Match) []faces.Match {
	best := make(map[string]faces.Match, len(in))
	for _, m := range in {
		if cur, ok := best[m.PhotoID]; !ok || m.Similarity > cur.Similarity {
			best[m.PhotoID] = m
		}
	}
	out := make([]faces.Match, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].PhotoID < out[j].PhotoID
	})
	return out
}
