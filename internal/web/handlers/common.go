package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
)

// maxSelfieUploadSize bounds the multipart form for guest selfies.
const maxSelfieUploadSize = 15 << 20 // 15 MiB

// maxPhotoUploadSize bounds the multipart form for gallery photos.
const maxPhotoUploadSize = 50 << 20 // 50 MiB

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
