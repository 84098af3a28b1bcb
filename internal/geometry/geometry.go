// Package geometry holds the aspect-ratio preserving size math used by the
// normalization pipeline. Functions here only compute sizes; deciding whether an
// image should be scaled at all is left to the caller.
package geometry

import "math"

type Size struct {
	Width  int
	Height int
}

// SizeF is an unrounded size, for drawing surfaces that accept fractional extents.
type SizeF struct {
	Width  float64
	Height float64
}

// Round converts to whole pixels. Neither side rounds below one pixel.
func (s SizeF) Round() Size {
	return Size{
		Width:  atLeastOne(math.Round(s.Width)),
		Height: atLeastOne(math.Round(s.Height)),
	}
}

// FitWithinF scales the longer side down to maxDimension and the shorter side by the
// same factor. A square input takes the height branch, so both sides become
// maxDimension.
func FitWithinF(width, height, maxDimension int) SizeF {
	if width <= 0 || height <= 0 || maxDimension <= 0 {
		return SizeF{}
	}

	w, h, m := float64(width), float64(height), float64(maxDimension)
	if width > height {
		return SizeF{Width: m, Height: m / w * h}
	}
	return SizeF{Width: m / h * w, Height: m}
}

func FitWithin(width, height, maxDimension int) Size {
	if width <= 0 || height <= 0 || maxDimension <= 0 {
		return Size{}
	}
	return FitWithinF(width, height, maxDimension).Round()
}

// FitBoxF pins the shorter side to minSide and grows the longer side
// proportionally. This is the thumbnail "cover" size and is the inverse of
// FitWithinF, which caps the longer side.
func FitBoxF(outerWidth, outerHeight, minSide int) SizeF {
	if outerWidth <= 0 || outerHeight <= 0 || minSide <= 0 {
		return SizeF{}
	}

	w, h, m := float64(outerWidth), float64(outerHeight), float64(minSide)
	if outerWidth > outerHeight {
		return SizeF{Width: m / h * w, Height: m}
	}
	return SizeF{Width: m, Height: m / w * h}
}

func FitBox(outerWidth, outerHeight, minSide int) Size {
	if outerWidth <= 0 || outerHeight <= 0 || minSide <= 0 {
		return Size{}
	}
	return FitBoxF(outerWidth, outerHeight, minSide).Round()
}

func atLeastOne(v float64) int {
	if v < 1 {
		return 1
	}
	return int(v)
}
