package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fotique/selfie-match/internal/database"
	"github.com/fotique/selfie-match/internal/identity"
	"github.com/fotique/selfie-match/internal/match"
	"github.com/fotique/selfie-match/internal/session"
)

// SelfieHandler serves the guest selfie-match and invalidation endpoints.
type SelfieHandler struct {
	orchestrator *match.Orchestrator
	cache        database.SelfieCache
	sessions     *session.Issuer
	log          *zap.Logger
}

// NewSelfieHandler creates a new selfie handler.
func NewSelfieHandler(orchestrator *match.Orchestrator, cache database.SelfieCache, sessions *session.Issuer, log *zap.Logger) *SelfieHandler {
	return &SelfieHandler{
		orchestrator: orchestrator,
		cache:        cache,
		sessions:     sessions,
		log:          log,
	}
}

// matchResponse is the client-facing shape of a successful match.
type matchResponse struct {
	Matches           []string `json:"matches"`
	CacheHit          bool     `json:"cache_hit"`
	SelfieURL         string   `json:"selfie_url,omitempty"`
	GuestSessionToken string   `json:"guest_session_token"`
}

// Match handles POST /api/galleries/{galleryID}/selfie/match.
// Multipart form: "selfie" image file, optional "mobile" and
// "session_token" values.
func (h *SelfieHandler) Match(w http.ResponseWriter, r *http.Request) {
	galleryID := chi.URLParam(r, "galleryID")

	if err := r.ParseMultipartForm(maxSelfieUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, _, err := r.FormFile("selfie")
	if err != nil {
		respondError(w, http.StatusBadRequest, "selfie file is required")
		return
	}
	defer file.Close()

	selfie, err := io.ReadAll(io.LimitReader(file, maxSelfieUploadSize))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read selfie file")
		return
	}

	result, err := h.orchestrator.Resolve(r.Context(), match.Input{
		GalleryID:    galleryID,
		Selfie:       selfie,
		Mobile:       r.FormValue("mobile"),
		SessionToken: r.FormValue("session_token"),
	})
	if err != nil {
		h.respondResolveError(w, galleryID, err)
		return
	}

	token, err := h.sessions.Issue(galleryID, result.Mobile, result.MatchedPhotoIDs)
	if err != nil {
		h.log.Error("issuing guest session failed",
			zap.String("gallery_id", sanitizeForLog(galleryID)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create guest session")
		return
	}

	respondJSON(w, http.StatusOK, matchResponse{
		Matches:           result.MatchedPhotoIDs,
		CacheHit:          result.CacheHit,
		SelfieURL:         result.SelfieURL,
		GuestSessionToken: token,
	})
}

// respondResolveError maps the match error taxonomy onto HTTP statuses.
func (h *SelfieHandler) respondResolveError(w http.ResponseWriter, galleryID string, err error) {
	var rl *match.RateLimitedError

	switch {
	case errors.Is(err, match.ErrGalleryNotFound):
		respondError(w, http.StatusNotFound, "gallery not found")
	case errors.Is(err, match.ErrMatchingDisabled):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, match.ErrMobileRequired):
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
			"code":  "MOBILE_REQUIRED",
		})
	case errors.Is(err, match.ErrInvalidGuestSession):
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
			"code":  "INVALID_GUEST_SESSION",
		})
	case errors.As(err, &rl):
		seconds := int(rl.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		respondJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":               "too many selfie attempts",
			"code":                "RATE_LIMIT_EXCEEDED",
			"retry_after_seconds": seconds,
		})
	default:
		h.log.Error("selfie match failed",
			zap.String("gallery_id", sanitizeForLog(galleryID)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "selfie match failed")
	}
}

// Invalidate handles DELETE /api/galleries/{galleryID}/selfie.
// Deletes all cached selfie results for the gallery + mobile pair.
func (h *SelfieHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	galleryID := chi.URLParam(r, "galleryID")

	mobile := identity.NormalizeMobile(r.URL.Query().Get("mobile"))
	if mobile == "" {
		respondError(w, http.StatusBadRequest, "mobile is required")
		return
	}

	deleted, err := h.cache.Invalidate(r.Context(), galleryID, mobile)
	if err != nil {
		h.log.Error("selfie invalidation failed",
			zap.String("gallery_id", sanitizeForLog(galleryID)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to invalidate selfie records")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"deleted": deleted,
	})
}
