package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/fotique/selfie-match/internal/database"
)

// SelfieCacheRepository provides PostgreSQL-backed selfie-match caching.
type SelfieCacheRepository struct {
	pool *Pool
}

// NewSelfieCacheRepository creates a new PostgreSQL selfie cache repository.
func NewSelfieCacheRepository(pool *Pool) *SelfieCacheRepository {
	return &SelfieCacheRepository{pool: pool}
}

const selfieColumns = `id, gallery_id, image_hash, mobile_number, guest_session_token,
	face_id, matched_photo_ids, selfie_key, last_used_at, created_at`

// LookupByMobile finds the most recently used record for a gallery + mobile.
func (r *SelfieCacheRepository) LookupByMobile(ctx context.Context, galleryID, mobile string) (*database.SelfieRecord, error) {
	query := `
		SELECT ` + selfieColumns + `
		FROM guest_selfie_faces
		WHERE gallery_id = $1 AND mobile_number = $2
		ORDER BY last_used_at DESC
		LIMIT 1
	`
	return r.lookupOne(ctx, query, galleryID, mobile)
}

// LookupBySessionToken finds the most recently used record for a gallery + session token.
func (r *SelfieCacheRepository) LookupBySessionToken(ctx context.Context, galleryID, token string) (*database.SelfieRecord, error) {
	query := `
		SELECT ` + selfieColumns + `
		FROM guest_selfie_faces
		WHERE gallery_id = $1 AND guest_session_token = $2
		ORDER BY last_used_at DESC
		LIMIT 1
	`
	return r.lookupOne(ctx, query, galleryID, token)
}

// LookupByHash finds the most recently used record for a gallery + exact fingerprint.
func (r *SelfieCacheRepository) LookupByHash(ctx context.Context, galleryID, imageHash string) (*database.SelfieRecord, error) {
	query := `
		SELECT ` + selfieColumns + `
		FROM guest_selfie_faces
		WHERE gallery_id = $1 AND image_hash = $2
		ORDER BY last_used_at DESC
		LIMIT 1
	`
	return r.lookupOne(ctx, query, galleryID, imageHash)
}

func (r *SelfieCacheRepository) lookupOne(ctx context.Context, query string, args ...any) (*database.SelfieRecord, error) {
	row := r.pool.QueryRow(ctx, query, args...)
	rec, err := scanSelfieRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query selfie record: %w", err)
	}
	return rec, nil
}

// Store inserts a new cache record and fills in the generated id and
// timestamps. It never deduplicates against existing rows.
func (r *SelfieCacheRepository) Store(ctx context.Context, rec *database.SelfieRecord) error {
	query := `
		INSERT INTO guest_selfie_faces
			(gallery_id, image_hash, mobile_number, guest_session_token,
			 face_id, matched_photo_ids, selfie_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, last_used_at, created_at
	`
	err := r.pool.QueryRow(ctx, query,
		rec.GalleryID,
		rec.ImageHash,
		nullIfEmpty(rec.MobileNumber),
		nullIfEmpty(rec.SessionToken),
		rec.FaceID,
		pq.Array(rec.MatchedPhotoIDs),
		nullIfEmpty(rec.SelfieKey),
	).Scan(&rec.ID, &rec.LastUsedAt, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert selfie record: %w", err)
	}
	return nil
}

// Touch bumps last_used_at to now.
func (r *SelfieCacheRepository) Touch(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, "UPDATE guest_selfie_faces SET last_used_at = NOW() WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("touch selfie record: %w", err)
	}
	return nil
}

// Invalidate deletes all records for a gallery + mobile pair.
func (r *SelfieCacheRepository) Invalidate(ctx context.Context, galleryID, mobile string) (int64, error) {
	result, err := r.pool.Exec(ctx,
		"DELETE FROM guest_selfie_faces WHERE gallery_id = $1 AND mobile_number = $2",
		galleryID, mobile,
	)
	if err != nil {
		return 0, fmt.Errorf("invalidate selfie records: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return count, nil
}

// ListWithSelfieKeys returns records carrying a stored selfie object.
// An empty galleryID lists across all galleries.
func (r *SelfieCacheRepository) ListWithSelfieKeys(ctx context.Context, galleryID string) ([]database.SelfieRecord, error) {
	query := `
		SELECT ` + selfieColumns + `
		FROM guest_selfie_faces
		WHERE selfie_key IS NOT NULL AND ($1 = '' OR gallery_id = $1)
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query, galleryID)
	if err != nil {
		return nil, fmt.Errorf("query selfie records: %w", err)
	}
	defer rows.Close()

	var records []database.SelfieRecord
	for rows.Next() {
		rec, err := scanSelfieRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan selfie record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate selfie records: %w", err)
	}
	return records, nil
}

// UpdateImageHash rewrites the fingerprint of one record.
func (r *SelfieCacheRepository) UpdateImageHash(ctx context.Context, id int64, imageHash string) error {
	_, err := r.pool.Exec(ctx, "UPDATE guest_selfie_faces SET image_hash = $1 WHERE id = $2", imageHash, id)
	if err != nil {
		return fmt.Errorf("update image hash: %w", err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSelfieRecord(s scanner) (*database.SelfieRecord, error) {
	var rec database.SelfieRecord
	var mobile, token, selfieKey sql.NullString
	var photoIDs pq.StringArray
	var lastUsed, created time.Time

	err := s.Scan(
		&rec.ID,
		&rec.GalleryID,
		&rec.ImageHash,
		&mobile,
		&token,
		&rec.FaceID,
		&photoIDs,
		&selfieKey,
		&lastUsed,
		&created,
	)
	if err != nil {
		return nil, err
	}

	rec.MobileNumber = mobile.String
	rec.SessionToken = token.String
	rec.SelfieKey = selfieKey.String
	rec.MatchedPhotoIDs = photoIDs
	rec.LastUsedAt = lastUsed
	rec.CreatedAt = created
	return &rec, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
