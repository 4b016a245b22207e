package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/fotique/selfie-match/internal/database"
)

// GalleryRepository reads gallery policy flags.
type GalleryRepository struct {
	pool *Pool
}

// NewGalleryRepository creates a new PostgreSQL gallery repository.
func NewGalleryRepository(pool *Pool) *GalleryRepository {
	return &GalleryRepository{pool: pool}
}

// GetPolicy loads the selfie-match policy for a gallery, or nil when the
// gallery does not exist.
func (r *GalleryRepository) GetPolicy(ctx context.Context, galleryID string) (*database.GalleryPolicy, error) {
	query := `
		SELECT id, selfie_matching_enabled, guest_access_modes, require_mobile_for_selfie
		FROM galleries
		WHERE id = $1
	`

	var p database.GalleryPolicy
	var modes pq.StringArray
	err := r.pool.QueryRow(ctx, query, galleryID).Scan(
		&p.GalleryID,
		&p.SelfieMatchingEnabled,
		&modes,
		&p.RequireMobileForSelfie,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get gallery policy: %w", err)
	}

	p.GuestAccessModes = modes
	return &p, nil
}
