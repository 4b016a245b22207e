// Package indexer runs background face indexing for uploaded gallery
// photos. Uploads return to the client immediately; indexing into the
// face provider's per-gallery collection happens here, with retries.
package indexer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fotique/selfie-match/internal/faces"
	"github.com/fotique/selfie-match/internal/storage"
)

// ErrQueueFull is returned by Enqueue when the task buffer is saturated.
var ErrQueueFull = errors.New("indexer: queue full")

// Task describes one photo waiting to be indexed.
type Task struct {
	GalleryID string
	PhotoID   string
	ObjectKey string
}

// Indexer consumes photo-indexing tasks from a bounded queue and feeds
// them to the face provider.
type Indexer struct {
	provider faces.Provider
	store    storage.ObjectStore
	log      *zap.Logger

	queue      chan Task
	workers    int
	maxRetries int
	backoff    time.Duration

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Options configure an Indexer. Zero values fall back to defaults.
type Options struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	Backoff    time.Duration
}

// New creates an Indexer. Call Start before enqueueing work.
func New(provider faces.Provider, store storage.ObjectStore, log *zap.Logger, opts Options) *Indexer {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 2 * time.Second
	}

	return &Indexer{
		provider:   provider,
		store:      store,
		log:        log,
		queue:      make(chan Task, opts.QueueSize),
		workers:    opts.Workers,
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
	}
}

// Start launches the worker goroutines. The context bounds all
// in-flight provider and storage calls.
func (ix *Indexer) Start(ctx context.Context) {
	for i := 0; i < ix.workers; i++ {
		ix.wg.Add(1)
		go ix.worker(ctx)
	}
}

// Enqueue submits a task without blocking. A full queue returns
// ErrQueueFull; the caller decides whether that is fatal.
func (ix *Indexer) Enqueue(task Task) error {
	select {
	case ix.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for workers to drain it.
func (ix *Indexer) Stop() {
	ix.stopOnce.Do(func() {
		close(ix.queue)
	})
	ix.wg.Wait()
}

func (ix *Indexer) worker(ctx context.Context) {
	defer ix.wg.Done()

	for task := range ix.queue {
		select {
		case <-ctx.Done():
			ix.log.Warn("indexer shutting down with pending task",
				zap.String("gallery_id", task.GalleryID),
				zap.String("photo_id", task.PhotoID))
			continue
		default:
		}

		ix.process(ctx, task)
	}
}

func (ix *Indexer) process(ctx context.Context, task Task) {
	image, err := ix.store.Download(ctx, task.ObjectKey, storage.BucketCategoryPhoto)
	if err != nil {
		ix.log.Error("indexer: download failed",
			zap.String("gallery_id", task.GalleryID),
			zap.String("photo_id", task.PhotoID),
			zap.String("object_key", task.ObjectKey),
			zap.Error(err))
		return
	}

	var lastErr error
	for attempt := 1; attempt <= ix.maxRetries; attempt++ {
		lastErr = ix.provider.IndexFaces(ctx, image, task.PhotoID, task.GalleryID)
		if lastErr == nil {
			ix.log.Debug("indexed photo",
				zap.String("gallery_id", task.GalleryID),
				zap.String("photo_id", task.PhotoID),
				zap.Int("attempt", attempt))
			return
		}
		// A photo without any face is indexable-nothing, not a failure.
		if errors.Is(lastErr, faces.ErrNoFaceDetected) {
			ix.log.Debug("no faces in photo, skipping",
				zap.String("gallery_id", task.GalleryID),
				zap.String("photo_id", task.PhotoID))
			return
		}
		if attempt < ix.maxRetries {
			select {
			case <-ctx.Done():
				return
			case <-time.After(ix.backoff * time.Duration(attempt)):
			}
		}
	}

	ix.log.Error("indexer: giving up on photo",
		zap.String("gallery_id", task.GalleryID),
		zap.String("photo_id", task.PhotoID),
		zap.Int("attempts", ix.maxRetries),
		zap.Error(lastErr))
}
