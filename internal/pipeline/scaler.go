package pipeline

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// Kernel selects the resampling filter used when a bitmap is drawn at a new size.
type Kernel string

const (
	KernelNearest    Kernel = "nearest"
	KernelBilinear   Kernel = "bilinear"
	KernelCatmullRom Kernel = "catmullrom"
	KernelLanczos3   Kernel = "lanczos3"
)

var ErrUnknownKernel = errors.New("unknown resampling kernel")

func ParseKernel(s string) (Kernel, error) {
	switch k := Kernel(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KernelCatmullRom, nil
	case KernelNearest, KernelBilinear, KernelCatmullRom, KernelLanczos3:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKernel, s)
	}
}

// drawScaled maps the whole of src onto the whole of dst. It never crops.
func (k Kernel) drawScaled(dst *image.RGBA, src image.Image, op draw.Op) {
	sb, db := src.Bounds(), dst.Bounds()
	if sb.Dx() == db.Dx() && sb.Dy() == db.Dy() {
		draw.Draw(dst, db, src, sb.Min, op)
		return
	}

	switch k {
	case KernelNearest:
		draw.NearestNeighbor.Scale(dst, db, src, sb, op, nil)
	case KernelBilinear:
		draw.BiLinear.Scale(dst, db, src, sb, op, nil)
	case KernelLanczos3:
		scaled := resize.Resize(uint(db.Dx()), uint(db.Dy()), src, resize.Lanczos3)
		draw.Draw(dst, db, scaled, scaled.Bounds().Min, op)
	default:
		draw.CatmullRom.Scale(dst, db, src, sb, op, nil)
	}
}
