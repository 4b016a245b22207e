// Package fingerprint computes perceptual fingerprints of selfie images
// for content-based cache lookups, and normalizes uploaded images so that
// visually identical photos hash identically across encodings.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math/bits"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// DefaultSimilarityThreshold is the Hamming distance below which two
// fingerprints are considered the same selfie. Tolerant enough to absorb
// re-compression artifacts without collapsing distinct faces.
const DefaultSimilarityThreshold = 5

// hashGridSize is the edge of the downsampled grid; 8x8 gives a 64-bit hash.
const hashGridSize = 8

// Hash computes a 64-bit average-hash of the image, encoded as a
// 16-hex-character string. If the image cannot be decoded, it falls back
// to a truncated SHA-256 of the raw bytes: such a hash only ever matches
// an exact byte-for-byte resubmission, which is acceptable degradation.
func Hash(imageData []byte) string {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		sum := sha256.Sum256(imageData)
		return hex.EncodeToString(sum[:8])
	}
	return fmt.Sprintf("%016x", averageHash(img))
}

// averageHash computes the classic aHash: stretch to an 8x8 grid,
// grayscale, then one bit per pixel for "brighter than the mean".
func averageHash(img image.Image) uint64 {
	// Stretch-to-fit on purpose: aspect ratio carries no signal for
	// near-duplicate detection and ignoring it keeps the resize cheap.
	resized := stretchResize(img, hashGridSize, hashGridSize)
	gray := toGrayscale(resized)

	var sum float64
	for x := 0; x < hashGridSize; x++ {
		for y := 0; y < hashGridSize; y++ {
			sum += gray[x][y]
		}
	}
	mean := sum / (hashGridSize * hashGridSize)

	var hash uint64
	i := 0
	for y := 0; y < hashGridSize; y++ {
		for x := 0; x < hashGridSize; x++ {
			if gray[x][y] > mean {
				hash |= 1 << (63 - i)
			}
			i++
		}
	}
	return hash
}

// Distance computes the Hamming distance (0..64) between two fingerprints
// in their 16-hex-character form. Malformed fingerprints compare as
// maximally distant unless byte-identical.
func Distance(a, b string) int {
	if a == b {
		return 0
	}
	ha, errA := parseHex64(a)
	hb, errB := parseHex64(b)
	if errA != nil || errB != nil {
		return 64
	}
	return bits.OnesCount64(ha ^ hb)
}

// Similar returns true if two fingerprints are within the given Hamming
// distance threshold.
func Similar(a, b string, threshold int) bool {
	return Distance(a, b) <= threshold
}

func parseHex64(s string) (uint64, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("fingerprint must be 16 hex characters, got %d", len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("decoding fingerprint: %w", err)
	}
	var v uint64
	for _, b := range raw {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

// Normalize decodes the image, scales it down so neither dimension
// exceeds maxDim (aspect ratio preserved), and re-encodes it as JPEG at
// the given quality. Re-encoding happens even when no scaling is needed,
// so the perceptual hash is computed over a canonical representation.
func Normalize(data []byte, maxDim, quality int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	newWidth, newHeight := width, height
	if width > maxDim || height > maxDim {
		if width > height {
			newWidth = maxDim
			newHeight = int(float64(height) * float64(maxDim) / float64(width))
		} else {
			newHeight = maxDim
			newWidth = int(float64(width) * float64(maxDim) / float64(height))
		}
		if newWidth < 1 {
			newWidth = 1
		}
		if newHeight < 1 {
			newHeight = 1
		}
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode normalized image: %w", err)
	}
	return buf.Bytes(), nil
}

// stretchResize scales an image to the exact dimensions, ignoring aspect ratio.
func stretchResize(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// toGrayscale converts an image to a 2D array of grayscale values (0-255).
func toGrayscale(img *image.RGBA) [][]float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	gray := make([][]float64, width)
	for x := 0; x < width; x++ {
		gray[x] = make([]float64, height)
		for y := 0; y < height; y++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// ITU-R BT.601 luma formula.
			luma := 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
			gray[x][y] = luma
		}
	}

	return gray
}
