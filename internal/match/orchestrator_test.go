package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fotique/selfie-match/internal/database"
	"github.com/fotique/selfie-match/internal/database/mock"
	"github.com/fotique/selfie-match/internal/faces"
	"github.com/fotique/selfie-match/internal/fingerprint"
	"github.com/fotique/selfie-match/internal/ratelimit"
	"github.com/fotique/selfie-match/internal/storage"
)

type stubProvider struct {
	mu          sync.Mutex
	searchCalls int
	matches     []faces.Match
	err         error
}

func (p *stubProvider) SearchFaces(_ context.Context, _ []byte, _ string, _ int) ([]faces.Match, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.searchCalls++
	if p.err != nil {
		return nil, p.err
	}
	return p.matches, nil
}

func (p *stubProvider) IndexFaces(_ context.Context, _ []byte, _, _ string) error {
	return nil
}

func (p *stubProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.searchCalls
}

type stubStore struct {
	mu        sync.Mutex
	uploads   int
	uploadErr error
	signErr   error
}

func (s *stubStore) Upload(_ context.Context, _ []byte, name string, _ storage.BucketCategory) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	s.uploads++
	return fmt.Sprintf("selfies/%d-%s", s.uploads, name), nil
}

func (s *stubStore) SignedURL(_ context.Context, key string, _ storage.BucketCategory, _ time.Duration) (string, error) {
	if s.signErr != nil {
		return "", s.signErr
	}
	return "https://storage.example.com/" + key, nil
}

func (s *stubStore) Download(_ context.Context, _ string, _ storage.BucketCategory) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (s *stubStore) uploadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads
}

type fixture struct {
	orch     *Orchestrator
	policies *mock.GalleryPolicies
	cache    *mock.SelfieCache
	attempts *mock.AttemptStore
	provider *stubProvider
	store    *stubStore
}

func newFixture(maxAttempts int) *fixture {
	f := &fixture{
		policies: mock.NewGalleryPolicies(),
		cache:    mock.NewSelfieCache(),
		attempts: mock.NewAttemptStore(),
		provider: &stubProvider{},
		store:    &stubStore{},
	}
	f.policies.AddPolicy(database.GalleryPolicy{
		GalleryID:             "g1",
		SelfieMatchingEnabled: true,
		GuestAccessModes:      []string{"password", database.GuestModeSelfie},
	})
	limiter := ratelimit.New(f.attempts, maxAttempts, 10*time.Minute, zap.NewNop())
	f.orch = New(f.policies, f.cache, limiter, f.store, f.provider, zap.NewNop(), Options{})
	return f
}

// selfieBytes is deliberately not a decodable image: the hasher's digest
// fallback keeps the fingerprint deterministic without pulling image
// encoding into these tests.
func selfieBytes(seed string) []byte {
	return []byte("not-an-image-" + seed)
}

func TestResolveMissCallsProviderAndCaches(t *testing.T) {
	f := newFixture(10)
	f.provider.matches = []faces.Match{
		{PhotoID: "p2", FaceID: "f2", Similarity: 85},
		{PhotoID: "p1", FaceID: "f1", Similarity: 95},
	}

	res, err := f.orch.Resolve(context.Background(), Input{
		GalleryID: "g1",
		Selfie:    selfieBytes("a"),
		Mobile:    "+420 777 123 456",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.CacheHit {
		t.Error("first resolve must be a cache miss")
	}
	if got := res.MatchedPhotoIDs; len(got) != 2 || got[0] != "p1" || got[1] != "p2" {
		t.Errorf("MatchedPhotoIDs = %v; want [p1 p2] by descending similarity", got)
	}
	if res.FaceID != "f1" {
		t.Errorf("FaceID = %q; want best match f1", res.FaceID)
	}
	if res.Mobile != "420777123456" {
		t.Errorf("Mobile = %q; want normalized digits", res.Mobile)
	}
	if res.SelfieURL == "" {
		t.Error("expected a signed selfie URL")
	}

	recs := f.cache.Records()
	if len(recs) != 1 {
		t.Fatalf("cached %d records; want 1", len(recs))
	}
	if recs[0].MobileNumber != "420777123456" || recs[0].SelfieKey == "" {
		t.Errorf("cached record = %+v", recs[0])
	}
}

func TestResolveReusesByMobileWithoutProviderCall(t *testing.T) {
	f := newFixture(10)
	f.provider.matches = []faces.Match{{PhotoID: "p1", FaceID: "f1", Similarity: 90}}

	first, err := f.orch.Resolve(context.Background(), Input{
		GalleryID: "g1", Selfie: selfieBytes("a"), Mobile: "420777123456",
	})
	if err != nil {
		t.Fatalf("first Resolve failed: %v", err)
	}

	// Same mobile, different image bytes: the mobile key wins before the
	// fingerprint is ever consulted.
	second, err := f.orch.Resolve(context.Background(), Input{
		GalleryID: "g1", Selfie: selfieBytes("b"), Mobile: "420 777 123 456",
	})
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if !second.CacheHit {
		t.Error("second resolve must be a cache hit")
	}
	if len(second.MatchedPhotoIDs) != len(first.MatchedPhotoIDs) || second.MatchedPhotoIDs[0] != "p1" {
		t.Errorf("reused MatchedPhotoIDs = %v; want %v", second.MatchedPhotoIDs, first.MatchedPhotoIDs)
	}
	if f.provider.calls() != 1 {
		t.Errorf("provider called %d times; want 1", f.provider.calls())
	}
}

func TestResolvePrefersMobileOverHash(t *testing.T) {
	f := newFixture(10)

	img := selfieBytes("shared")
	hash := fingerprint.Hash(img)

	mobileRec := &database.SelfieRecord{
		GalleryID: "g1", ImageHash: "aaaaaaaaaaaaaaaa",
		MobileNumber: "420777123456", FaceID: "f-mobile",
		MatchedPhotoIDs: []string{"mobile-photo"}, SelfieKey: "selfies/m.jpg",
	}
	hashRec := &database.SelfieRecord{
		GalleryID: "g1", ImageHash: hash, FaceID: "f-hash",
		MatchedPhotoIDs: []string{"hash-photo"}, SelfieKey: "selfies/h.jpg",
	}
	_ = f.cache.Store(context.Background(), mobileRec)
	_ = f.cache.Store(context.Background(), hashRec)

	res, err := f.orch.Resolve(context.Background(), Input{
		GalleryID: "g1", Selfie: img, Mobile: "420777123456",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.CacheHit {
		t.Fatal("expected a cache hit")
	}
	if res.FaceID != "f-mobile" {
		t.Errorf("FaceID = %q; mobile match must win over hash match", res.FaceID)
	}
	if f.provider.calls() != 0 {
		t.Errorf("provider called %d times; want 0", f.provider.calls())
	}
}

func TestResolveFallsBackToSessionTokenThenHash(t *testing.T) {
	f := newFixture(10)

	img := selfieBytes("x")
	_ = f.cache.Store(context.Background(), &database.SelfieRecord{
		GalleryID: "g1", ImageHash: "bbbbbbbbbbbbbbbb",
		SessionToken: "tok-1", FaceID: "f-session",
		MatchedPhotoIDs: []string{"session-photo"}, SelfieKey: "selfies/s.jpg",
	})
	_ = f.cache.Store(context.Background(), &database.SelfieRecord{
		GalleryID: "g1", ImageHash: fingerprint.Hash(img), FaceID: "f-hash",
		MatchedPhotoIDs: []string{"hash-photo"}, SelfieKey: "selfies/h.jpg",
	})

	res, err := f.orch.Resolve(context.Background(), Input{
		GalleryID: "g1", Selfie: img, SessionToken: "tok-1",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.FaceID != "f-session" {
		t.Errorf("FaceID = %q; session match must win over hash match", res.FaceID)
	}

	// Unknown token falls through to the content hash.
	res, err = f.orch.Resolve(context.Background(), Input{
		GalleryID: "g1", Selfie: img, SessionToken: "tok-unknown",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.FaceID != "f-hash" {
		t.Errorf("FaceID = %q; want the hash-matched record", res.FaceID)
	}
	if f.provider.calls() != 0 {
		t.Errorf("provider called %d times; want 0", f.provider.calls())
	}
}

func TestResolveDisabledGalleryDoesNoWork(t *testing.T) {
	f := newFixture(10)
	f.policies.AddPolicy(database.GalleryPolicy{
		GalleryID:             "g-off",
		SelfieMatchingEnabled: false,
		GuestAccessModes:      []string{database.GuestModeSelfie},
	})
	f.policies.AddPolicy(database.GalleryPolicy{
		GalleryID:             "g-no-mode",
		SelfieMatchingEnabled: true,
		GuestAccessModes:      []string{"password"},
	})

	for _, gid := range []string{"g-off", "g-no-mode"} {
		_, err := f.orch.Resolve(context.Background(), Input{
			GalleryID: gid, Selfie: selfieBytes("a"), Mobile: "420777123456",
		})
		if !errors.Is(err, ErrMatchingDisabled) {
			t.Errorf("gallery %s: err = %v; want ErrMatchingDisabled", gid, err)
		}
	}
	if f.store.uploadCount() != 0 {
		t.Errorf("uploads = %d; rejection must happen before any storage work", f.store.uploadCount())
	}
	if f.provider.calls() != 0 {
		t.Errorf("provider calls = %d; want 0", f.provider.calls())
	}
}

func TestResolveUnknownGallery(t *testing.T) {
	f := newFixture(10)
	_, err := f.orch.Resolve(context.Background(), Input{
		GalleryID: "nope", Selfie: selfieBytes("a"), Mobile: "420777123456",
	})
	if !errors.Is(err, ErrGalleryNotFound) {
		t.Errorf("err = %v; want ErrGalleryNotFound", err)
	}
}

func TestResolveMobileRequired(t *testing.T) {
	f := newFixture(10)
	f.policies.AddPolicy(database.GalleryPolicy{
		GalleryID:              "g2",
		SelfieMatchingEnabled:  true,
		GuestAccessModes:       []string{database.GuestModeSelfie},
		RequireMobileForSelfie: true,
	})

	// A valid session token does not satisfy the mobile requirement, and
	// the rejection must be mobile-required, not rate-limited.
	_, err := f.orch.Resolve(context.Background(), Input{
		GalleryID: "g2", Selfie: selfieBytes("a"), SessionToken: "tok-1",
	})
	if !errors.Is(err, ErrMobileRequired) {
		t.Errorf("err = %v; want ErrMobileRequired", err)
	}

	// A mobile of only punctuation normalizes to empty.
	_, err = f.orch.Resolve(context.Background(), Input{
		GalleryID: "g2", Selfie: selfieBytes("a"), Mobile: "+-() ", SessionToken: "tok-1",
	})
	if !errors.Is(err, ErrMobileRequired) {
		t.Errorf("err = %v; want ErrMobileRequired", err)
	}
}

func TestResolveNoIdentity(t *testing.T) {
	f := newFixture(10)
	_, err := f.orch.Resolve(context.Background(), Input{
		GalleryID: "g1", Selfie: selfieBytes("a"),
	})
	if !errors.Is(err, ErrInvalidGuestSession) {
		t.Errorf("err = %v; want ErrInvalidGuestSession", err)
	}
}

func TestResolveRateLimited(t *testing.T) {
	f := newFixture(1)

	if _, err := f.orch.Resolve(context.Background(), Input{
		GalleryID: "g1", Selfie: selfieBytes("a"), SessionToken: "tok-1",
	}); err != nil {
		t.Fatalf("first Resolve failed: %v", err)
	}

	// Cache hits still consume an attempt, so the second call trips the
	// limit of one.
	_, err := f.orch.Resolve(context.Background(), Input{
		GalleryID: "g1", Selfie: selfieBytes("a"), SessionToken: "tok-1",
	})
	var rl *RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v; want RateLimitedError", err)
	}
	if rl.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v; want positive", rl.RetryAfter)
	}

	// A different identity in the same gallery is not affected.
	if _, err := f.orch.Resolve(context.Background(), Input{
		GalleryID: "g1", Selfie: selfieBytes("a"), SessionToken: "tok-2",
	}); err != nil {
		t.Errorf("different identity was rejected: %v", err)
	}
}

func TestResolveFailsClosedOnAttemptStoreError(t *testing.T) {
	f := newFixture(10)
	f.attempts.AttemptsError = errors.New("store down")

	_, err := f.orch.Resolve(context.Background(), Input{
		GalleryID: "g1", Selfie: selfieBytes("a"), Mobile: "420777123456",
	})
	if err == nil {
		t.Fatal("expected denial when the attempt store is unreachable")
	}
	if f.provider.calls() != 0 {
		t.Errorf("provider calls = %d; want 0", f.provider.calls())
	}
}

func TestResolveZeroMatchesCachesSentinel(t *testing.T) {
	f := newFixture(10)
	// Provider finds nothing: valid outcome, cached with a sentinel.

	res, err := f.orch.Resolve(context.Background(), Input{
		GalleryID: "g1", Selfie: selfieBytes("a"), Mobile: "420777123456",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(res.MatchedPhotoIDs) != 0 {
		t.Errorf("MatchedPhotoIDs = %v; want empty", res.MatchedPhotoIDs)
	}

	recs := f.cache.Records()
	if len(recs) != 1 {
		t.Fatalf("cached %d records; want 1", len(recs))
	}
	if len(recs[0].MatchedPhotoIDs) != 0 {
		t.Errorf("cached MatchedPhotoIDs = %v; want empty", recs[0].MatchedPhotoIDs)
	}
	if recs[0].FaceID == "" || recs[0].FaceID[:9] != "no-match-" {
		t.Errorf("FaceID = %q; want a no-match sentinel", recs[0].FaceID)
	}

	// The negative result is reused without a second provider call.
	res, err = f.orch.Resolve(context.Background(), Input{
		GalleryID: "g1", Selfie: selfieBytes("b"), Mobile: "420777123456",
	})
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if !res.CacheHit || len(res.MatchedPhotoIDs) != 0 {
		t.Errorf("second resolve = %+v; want cache hit with empty matches", res)
	}
	if f.provider.calls() != 1 {
		t.Errorf("provider called %d times; want 1", f.provider.calls())
	}
}

func TestResolveNoFaceDetectedIsSuccess(t *testing.T) {
	f := newFixture(10)
	f.provider.err = faces.ErrNoFaceDetected

	res, err := f.orch.Resolve(context.Background(), Input{
		GalleryID: "g1", Selfie: selfieBytes("a"), Mobile: "420777123456",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(res.MatchedPhotoIDs) != 0 {
		t.Errorf("MatchedPhotoIDs = %v; want empty", res.MatchedPhotoIDs)
	}
	if len(f.cache.Records()) != 1 {
		t.Errorf("no-face outcome must be cached like any zero-match result")
	}
}

func TestResolveProviderErrorDegradesWithoutCaching(t *testing.T) {
	f := newFixture(10)
	f.provider.err = errors.New("upstream 503")

	res, err := f.orch.Resolve(context.Background(), Input{
		GalleryID: "g1", Selfie: selfieBytes("a"), Mobile: "420777123456",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v; provider errors must degrade, not propagate", err)
	}
	if len(res.MatchedPhotoIDs) != 0 || res.CacheHit {
		t.Errorf("degraded result = %+v; want empty miss", res)
	}
	if len(f.cache.Records()) != 0 {
		t.Error("degraded provider outcome must not be cached")
	}

	// Once the provider recovers, the next attempt retries it.
	f.provider.err = nil
	f.provider.matches = []faces.Match{{PhotoID: "p1", FaceID: "f1", Similarity: 90}}
	res, err = f.orch.Resolve(context.Background(), Input{
		GalleryID: "g1", Selfie: selfieBytes("a"), Mobile: "420777123456",
	})
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if len(res.MatchedPhotoIDs) != 1 {
		t.Errorf("recovered MatchedPhotoIDs = %v; want [p1]", res.MatchedPhotoIDs)
	}
	if f.provider.calls() != 2 {
		t.Errorf("provider called %d times; want 2", f.provider.calls())
	}
}

func TestResolveUploadFailureIsFatalOnMiss(t *testing.T) {
	f := newFixture(10)
	f.store.uploadErr = errors.New("bucket gone")

	_, err := f.orch.Resolve(context.Background(), Input{
		GalleryID: "g1", Selfie: selfieBytes("a"), Mobile: "420777123456",
	})
	if err == nil {
		t.Fatal("expected error when the miss-path upload fails")
	}
	if len(f.cache.Records()) != 0 {
		t.Error("nothing must be cached when the upload fails")
	}
}

func TestResolveSigningFailureIsNonFatal(t *testing.T) {
	f := newFixture(10)
	f.store.signErr = errors.New("no signer")
	f.provider.matches = []faces.Match{{PhotoID: "p1", FaceID: "f1", Similarity: 90}}

	res, err := f.orch.Resolve(context.Background(), Input{
		GalleryID: "g1", Selfie: selfieBytes("a"), Mobile: "420777123456",
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v; signing failure must not fail the request", err)
	}
	if res.SelfieURL != "" {
		t.Errorf("SelfieURL = %q; want empty on signing failure", res.SelfieURL)
	}
	if len(res.MatchedPhotoIDs) != 1 {
		t.Errorf("MatchedPhotoIDs = %v; want [p1]", res.MatchedPhotoIDs)
	}
}

func TestCollapseMatches(t *testing.T) {
	in := []faces.Match{
		{PhotoID: "p1", FaceID: "f1", Similarity: 82},
		{PhotoID: "p2", FaceID: "f2", Similarity: 95},
		{PhotoID: "p1", FaceID: "f3", Similarity: 91},
		{PhotoID: "p3", FaceID: "f4", Similarity: 91},
	}
	out := collapseMatches(in)
	if len(out) != 3 {
		t.Fatalf("got %d matches; want 3", len(out))
	}
	if out[0].PhotoID != "p2" {
		t.Errorf("out[0] = %+v; want p2 first", out[0])
	}
	// p1 keeps its highest-similarity occurrence and ties break by id.
	if out[1].PhotoID != "p1" || out[1].FaceID != "f3" {
		t.Errorf("out[1] = %+v; want p1 via f3", out[1])
	}
	if out[2].PhotoID != "p3" {
		t.Errorf("out[2] = %+v; want p3", out[2])
	}
}
