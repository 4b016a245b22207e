package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fotique/selfie-match/internal/indexer"
	"github.com/fotique/selfie-match/internal/storage"
)

// Enqueuer submits photo-indexing tasks. Satisfied by indexer.Indexer.
type Enqueuer interface {
	Enqueue(task indexer.Task) error
}

// PhotosHandler serves the gallery photo-upload endpoint. Gallery CRUD
// itself lives elsewhere; this endpoint exists so uploaded photos become
// face-searchable.
type PhotosHandler struct {
	store   storage.ObjectStore
	indexer Enqueuer
	log     *zap.Logger
}

// NewPhotosHandler creates a new photos handler.
func NewPhotosHandler(store storage.ObjectStore, ix Enqueuer, log *zap.Logger) *PhotosHandler {
	return &PhotosHandler{
		store:   store,
		indexer: ix,
		log:     log,
	}
}

// Upload handles POST /api/galleries/{galleryID}/photos.
// Stores the photo object and enqueues background face indexing. The
// photo is matchable only after indexing completes; there is no
// synchronous guarantee.
func (h *PhotosHandler) Upload(w http.ResponseWriter, r *http.Request) {
	galleryID := chi.URLParam(r, "galleryID")

	if err := r.ParseMultipartForm(maxPhotoUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, header, err := r.FormFile("photo")
	if err != nil {
		respondError(w, http.StatusBadRequest, "photo file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxPhotoUploadSize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read photo file")
		return
	}

	key, err := h.store.Upload(r.Context(), data, header.Filename, storage.BucketCategoryPhoto)
	if err != nil {
		h.log.Error("photo upload failed",
			zap.String("gallery_id", sanitizeForLog(galleryID)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to store photo")
		return
	}

	photoID := uuid.New().String()
	if err := h.indexer.Enqueue(indexer.Task{
		GalleryID: galleryID,
		PhotoID:   photoID,
		ObjectKey: key,
	}); err != nil {
		if errors.Is(err, indexer.ErrQueueFull) {
			// The object is stored; indexing can be retried later via the
			// backfill tooling. Tell the client the photo is not searchable.
			h.log.Warn("indexing queue full, photo stored without indexing",
				zap.String("gallery_id", sanitizeForLog(galleryID)),
				zap.String("photo_id", photoID))
			respondJSON(w, http.StatusAccepted, map[string]any{
				"photo_id": photoID,
				"key":      key,
				"indexing": "deferred",
			})
			return
		}
		h.log.Error("enqueueing photo indexing failed",
			zap.String("gallery_id", sanitizeForLog(galleryID)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to schedule indexing")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"photo_id": photoID,
		"key":      key,
		"indexing": "queued",
	})
}
