package indexer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fotique/selfie-match/internal/faces"
	"github.com/fotique/selfie-match/internal/storage"
)

type fakeProvider struct {
	mu      sync.Mutex
	indexed []string
	fails   map[string]int // photoID -> remaining failures
	err     error
}

func (f *fakeProvider) SearchFaces(_ context.Context, _ []byte, _ string, _ int) ([]faces.Match, error) {
	return nil, nil
}

func (f *fakeProvider) IndexFaces(_ context.Context, _ []byte, photoID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails[photoID] > 0 {
		f.fails[photoID]--
		return errors.New("transient")
	}
	if f.err != nil {
		return f.err
	}
	f.indexed = append(f.indexed, photoID)
	return nil
}

func (f *fakeProvider) indexedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.indexed...)
}

type fakeStore struct {
	err error
}

func (f *fakeStore) Upload(_ context.Context, _ []byte, name string, _ storage.BucketCategory) (string, error) {
	return name, nil
}

func (f *fakeStore) SignedURL(_ context.Context, key string, _ storage.BucketCategory, _ time.Duration) (string, error) {
	return "https://example.com/" + key, nil
}

func (f *fakeStore) Download(_ context.Context, _ string, _ storage.BucketCategory) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("jpeg-bytes"), nil
}

func newTestIndexer(p faces.Provider, s storage.ObjectStore) *Indexer {
	return New(p, s, zap.NewNop(), Options{
		Workers:    2,
		QueueSize:  8,
		MaxRetries: 3,
		Backoff:    time.Millisecond,
	})
}

func TestIndexerProcessesTasks(t *testing.T) {
	provider := &fakeProvider{}
	ix := newTestIndexer(provider, &fakeStore{})

	ix.Start(context.Background())
	for _, id := range []string{"p1", "p2", "p3"} {
		if err := ix.Enqueue(Task{GalleryID: "g1", PhotoID: id, ObjectKey: "photos/" + id}); err != nil {
			t.Fatalf("Enqueue(%s) failed: %v", id, err)
		}
	}
	ix.Stop()

	if got := provider.indexedIDs(); len(got) != 3 {
		t.Errorf("indexed %v; want 3 photos", got)
	}
}

func TestIndexerRetriesTransientFailures(t *testing.T) {
	provider := &fakeProvider{fails: map[string]int{"p1": 2}}
	ix := newTestIndexer(provider, &fakeStore{})

	ix.Start(context.Background())
	if err := ix.Enqueue(Task{GalleryID: "g1", PhotoID: "p1", ObjectKey: "photos/p1"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	ix.Stop()

	if got := provider.indexedIDs(); len(got) != 1 || got[0] != "p1" {
		t.Errorf("indexed %v; want [p1] after retries", got)
	}
}

func TestIndexerGivesUpAfterMaxRetries(t *testing.T) {
	provider := &fakeProvider{fails: map[string]int{"p1": 10}}
	ix := newTestIndexer(provider, &fakeStore{})

	ix.Start(context.Background())
	_ = ix.Enqueue(Task{GalleryID: "g1", PhotoID: "p1", ObjectKey: "photos/p1"})
	ix.Stop()

	if got := provider.indexedIDs(); len(got) != 0 {
		t.Errorf("indexed %v; want none", got)
	}
}

func TestIndexerSkipsPhotosWithoutFaces(t *testing.T) {
	provider := &fakeProvider{err: faces.ErrNoFaceDetected}
	ix := newTestIndexer(provider, &fakeStore{})

	ix.Start(context.Background())
	_ = ix.Enqueue(Task{GalleryID: "g1", PhotoID: "p1", ObjectKey: "photos/p1"})
	ix.Stop()

	// No retries and no panic; the task is simply dropped.
	if got := provider.indexedIDs(); len(got) != 0 {
		t.Errorf("indexed %v; want none", got)
	}
}

func TestIndexerSurvivesDownloadFailure(t *testing.T) {
	provider := &fakeProvider{}
	ix := newTestIndexer(provider, &fakeStore{err: errors.New("object gone")})

	ix.Start(context.Background())
	_ = ix.Enqueue(Task{GalleryID: "g1", PhotoID: "p1", ObjectKey: "photos/p1"})
	ix.Stop()

	if got := provider.indexedIDs(); len(got) != 0 {
		t.Errorf("indexed %v; want none", got)
	}
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	ix := New(&fakeProvider{}, &fakeStore{}, zap.NewNop(), Options{
		Workers:   1,
		QueueSize: 1,
	})
	// Workers never started, so the single slot fills immediately.
	if err := ix.Enqueue(Task{PhotoID: "p1"}); err != nil {
		t.Fatalf("first Enqueue failed: %v", err)
	}
	if err := ix.Enqueue(Task{PhotoID: "p2"}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("second Enqueue = %v; want ErrQueueFull", err)
	}
}
