// Package faces wraps the external face-recognition provider. The
// matching algorithm itself is the provider's business; this package only
// speaks its HTTP API.
package faces

import (
	"context"
	"errors"
)

// ErrNoFaceDetected marks a search image in which the provider found no
// face. It is a valid empty-result outcome, not a failure of the request.
var ErrNoFaceDetected = errors.New("no face detected in image")

// Match is one indexed photo the provider matched against the probe image.
type Match struct {
	PhotoID    string  `json:"photo_id"`
	FaceID     string  `json:"face_id"`
	Similarity float64 `json:"similarity"` // percent, 0-100
}

// Provider is the external face-recognition service.
type Provider interface {
	// SearchFaces finds indexed faces similar to the probe image within a
	// gallery scope. threshold is the minimum similarity percent.
	SearchFaces(ctx context.Context, image []byte, galleryScope string, threshold int) ([]Match, error)
	// IndexFaces registers the faces of a gallery photo so later searches
	// can match it.
	IndexFaces(ctx context.Context, image []byte, photoID, galleryScope string) error
}
