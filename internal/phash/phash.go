// Package phash computes coarse perceptual signatures for change detection.
// The signature is a 64-bit average hash: the frame is reduced to an 8x8
// luminance grid and each bit records whether its sample exceeds the grid
// mean. Illumination-robust and tolerant of compression noise; it is a
// content-change signal, not a cryptographic hash.
package phash

import (
	"image"

	"github.com/corona10/goimagehash"
	"github.com/nfnt/resize"

	apperrors "github.com/mirrorcast/platform/internal/errors"
)

const (
	// GridSize is the downsample edge length.
	GridSize = 8

	// Bits is the signature length.
	Bits = GridSize * GridSize

	// DefaultThreshold is the similarity below which a frame counts as a
	// genuinely different capture.
	DefaultThreshold = 0.95
)

// Signature is a fixed-length perceptual fingerprint of a frame.
// The zero value is invalid and compares as fully dissimilar.
type Signature struct {
	hash *goimagehash.ImageHash
}

// Valid reports whether the signature was produced from a real frame.
func (s Signature) Valid() bool { return s.hash != nil }

// Len returns the signature length in bits, 0 for an invalid signature.
func (s Signature) Len() int {
	if s.hash == nil {
		return 0
	}
	return s.hash.Bits()
}

// String returns the hash in goimagehash's text form, for logging.
func (s Signature) String() string {
	if s.hash == nil {
		return "<none>"
	}
	return s.hash.ToString()
}

// Hash computes the signature of a frame. Fails with CodeHashUnavailable when
// the frame cannot be sampled (nil or zero-sized source).
func Hash(img image.Image) (Signature, error) {
	if img == nil {
		return Signature{}, apperrors.New(apperrors.CodeHashUnavailable, "nil frame source")
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return Signature{}, apperrors.Newf(apperrors.CodeHashUnavailable, "zero-sized frame %dx%d", b.Dx(), b.Dy())
	}

	small := resize.Resize(GridSize, GridSize, img, resize.Bilinear)
	h, err := goimagehash.AverageHash(small)
	if err != nil {
		return Signature{}, apperrors.Wrap(err, apperrors.CodeHashUnavailable, "average hash failed")
	}
	return Signature{hash: h}, nil
}

// Similarity returns the fraction of matching bits in [0,1]. Signatures of
// different lengths or kinds compare as 0.
func Similarity(a, b Signature) float64 {
	if !a.Valid() || !b.Valid() || a.Len() != b.Len() {
		return 0
	}
	dist, err := a.hash.Distance(b.hash)
	if err != nil {
		return 0
	}
	return 1 - float64(dist)/float64(a.Len())
}

// Changed reports whether two signatures differ enough to count as a new
// capture at the given threshold. A missing previous signature is always a
// change.
func Changed(prev, next Signature, threshold float64) bool {
	if !prev.Valid() {
		return true
	}
	return Similarity(prev, next) < threshold
}
