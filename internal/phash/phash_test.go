package phash

import (
	"image"
	"image/color"
	"testing"

	apperrors "github.com/mirrorcast/platform/internal/errors"
)

// makePattern builds test frames with distinct content for hash comparison.
func makePattern(pattern int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			var c color.RGBA
			switch pattern {
			case 0: // solid gray
				c = color.RGBA{R: 128, G: 128, B: 128, A: 255}
			case 1: // checkerboard
				if (x/8+y/8)%2 == 0 {
					c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
				} else {
					c = color.RGBA{A: 255}
				}
			case 2: // horizontal gradient
				c = color.RGBA{R: uint8(x * 4), G: 0, B: uint8(255 - x*4), A: 255}
			case 3: // checkerboard with mild noise, perceptually same as 1
				if (x/8+y/8)%2 == 0 {
					c = color.RGBA{R: 250, G: 252, B: 248, A: 255}
				} else {
					c = color.RGBA{R: 4, G: 2, B: 6, A: 255}
				}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func TestHashSelfSimilarity(t *testing.T) {
	h, err := Hash(makePattern(1))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if got := Similarity(h, h); got != 1 {
		t.Errorf("Similarity(h, h) = %v, want 1", got)
	}
	if h.Len() != Bits {
		t.Errorf("Len() = %d, want %d", h.Len(), Bits)
	}
}

func TestSimilaritySymmetric(t *testing.T) {
	a, _ := Hash(makePattern(1))
	b, _ := Hash(makePattern(2))

	if Similarity(a, b) != Similarity(b, a) {
		t.Errorf("Similarity not symmetric: %v vs %v", Similarity(a, b), Similarity(b, a))
	}
}

func TestSimilarityDistinctFrames(t *testing.T) {
	a, _ := Hash(makePattern(1))
	b, _ := Hash(makePattern(2))

	if got := Similarity(a, b); got >= DefaultThreshold {
		t.Errorf("distinct frames similarity = %v, want < %v", got, DefaultThreshold)
	}
}

func TestSimilarityToleratesNoise(t *testing.T) {
	a, _ := Hash(makePattern(1))
	b, _ := Hash(makePattern(3))

	if got := Similarity(a, b); got < DefaultThreshold {
		t.Errorf("noisy-but-same frames similarity = %v, want >= %v", got, DefaultThreshold)
	}
}

func TestSimilarityInvalidSignature(t *testing.T) {
	a, _ := Hash(makePattern(0))

	if got := Similarity(a, Signature{}); got != 0 {
		t.Errorf("Similarity with invalid = %v, want 0", got)
	}
	if got := Similarity(Signature{}, Signature{}); got != 0 {
		t.Errorf("Similarity both invalid = %v, want 0", got)
	}
}

func TestHashUnavailable(t *testing.T) {
	if _, err := Hash(nil); !apperrors.IsCode(err, apperrors.CodeHashUnavailable) {
		t.Errorf("Hash(nil) err = %v, want CodeHashUnavailable", err)
	}

	empty := image.NewRGBA(image.Rect(0, 0, 0, 0))
	if _, err := Hash(empty); !apperrors.IsCode(err, apperrors.CodeHashUnavailable) {
		t.Errorf("Hash(empty) err = %v, want CodeHashUnavailable", err)
	}
}

func TestChanged(t *testing.T) {
	a, _ := Hash(makePattern(1))
	b, _ := Hash(makePattern(2))

	if !Changed(Signature{}, a, DefaultThreshold) {
		t.Error("missing previous signature should count as changed")
	}
	if Changed(a, a, DefaultThreshold) {
		t.Error("identical signatures should not count as changed")
	}
	if !Changed(a, b, DefaultThreshold) {
		t.Error("distinct signatures should count as changed")
	}
}
