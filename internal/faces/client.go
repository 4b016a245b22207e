package faces

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fotique/selfie-match/internal/config"
)

// Client talks to the face-recognition service over HTTP. Every call is
// bounded by the configured timeout; a hung provider must degrade the
// request, not stall it.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a provider client from configuration.
func NewClient(cfg *config.FaceAPIConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("face API URL is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid face API URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:    cfg.URL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// searchResponse is the provider's search payload.
type searchResponse struct {
	Matches []Match `json:"matches"`
}

// errorResponse is the provider's error payload.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SearchFaces posts the probe image to the provider's search endpoint for
// the given gallery collection. A NO_FACE_DETECTED response maps to
// ErrNoFaceDetected.
func (c *Client) SearchFaces(ctx context.Context, image []byte, galleryScope string, threshold int) ([]Match, error) {
	endpoint := fmt.Sprintf("%s/v1/collections/%s/search", c.baseURL, url.PathEscape(galleryScope))

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "probe.jpg")
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("writing image: %w", err)
	}
	if err := writer.WriteField("threshold", strconv.Itoa(threshold)); err != nil {
		return nil, fmt.Errorf("writing threshold field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result searchResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("decoding search response: %w", err)
		}
		return result.Matches, nil
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		var er errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Code == "NO_FACE_DETECTED" {
			return nil, ErrNoFaceDetected
		}
		return nil, fmt.Errorf("search rejected with status %d", resp.StatusCode)
	default:
		return nil, fmt.Errorf("search failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
}

// IndexFaces registers a gallery photo's faces with the provider.
func (c *Client) IndexFaces(ctx context.Context, image []byte, photoID, galleryScope string) error {
	endpoint := fmt.Sprintf("%s/v1/collections/%s/faces", c.baseURL, url.PathEscape(galleryScope))

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "photo.jpg")
	if err != nil {
		return fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return fmt.Errorf("writing image: %w", err)
	}
	if err := writer.WriteField("photo_id", photoID); err != nil {
		return fmt.Errorf("writing photo_id field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("index request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("index failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// readErrorBody reads a bounded chunk of an error response for messages.
func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(b))
}
