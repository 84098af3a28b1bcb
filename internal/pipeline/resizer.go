package pipeline

import (
	"context"
	"errors"

	"github.com/dunamismax/pixelnorm/internal/geometry"
	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
)

type Resizer struct {
	codec    Codec
	kernel   Kernel
	surfaces *surfacePool
	logger   zerolog.Logger
}

func NewResizer(codec Codec, kernel Kernel, logger zerolog.Logger) *Resizer {
	if kernel == "" {
		kernel = KernelCatmullRom
	}
	return &Resizer{
		codec:    codec,
		kernel:   kernel,
		surfaces: newSurfacePool(),
		logger:   logger.With().Str("component", "resizer").Logger(),
	}
}

// Resize returns img itself when its longer side is already below maxDimension.
// Otherwise it scales the whole image so the longer side equals maxDimension, encodes
// the result as outputType and decodes it back, so the returned bitmap is exactly
// what a consumer of outputType bytes would see.
func (r *Resizer) Resize(ctx context.Context, img *Bitmap, outputType string, maxDimension int, cs ColorSpace) (*Bitmap, error) {
	if img == nil {
		return nil, errors.New("bitmap is required")
	}
	if maxDimension <= 0 {
		return nil, errors.New("max dimension must be positive")
	}
	if max(img.Width(), img.Height()) < maxDimension {
		return img, nil
	}

	target := geometry.FitWithin(img.Width(), img.Height(), maxDimension)
	cs = resolveColorSpace(r.codec, cs, r.logger)
	encodeType := resolveOutputType(r.codec, outputType, r.logger)

	data, err := r.render(ctx, img, target, encodeType, cs)
	if err != nil {
		return nil, err
	}

	decoded, err := r.codec.Decode(ctx, data, DecodeOptions{DeclaredType: encodeType})
	if err != nil {
		return nil, &DecodeError{Source: "resized " + encodeType, Err: err}
	}
	out, err := NewBitmap(decoded.Image, encodeType)
	if err != nil {
		return nil, &DecodeError{Source: "resized " + encodeType, Err: err}
	}

	r.logger.Debug().
		Int("from_width", img.Width()).
		Int("from_height", img.Height()).
		Int("to_width", out.Width()).
		Int("to_height", out.Height()).
		Str("type", encodeType).
		Msg("resized bitmap")
	return out, nil
}

func (r *Resizer) render(ctx context.Context, img *Bitmap, target geometry.Size, mimeType string, cs ColorSpace) ([]byte, error) {
	s := r.surfaces.acquire(target.Width, target.Height, cs)
	defer s.release()

	r.kernel.drawScaled(s.img, img.Image(), draw.Src)

	data, err := r.codec.Encode(ctx, s.img, EncodeOptions{MIMEType: mimeType, ColorSpace: s.colorSpace})
	if err != nil {
		return nil, &EncodeError{MIMEType: mimeType, Err: err}
	}
	return data, nil
}

// resolveOutputType falls back to the codec default for types it cannot produce.
func resolveOutputType(codec Codec, requested string, logger zerolog.Logger) string {
	t := outputType(codec, requested)
	if t != canonicalType(requested) {
		logger.Debug().Str("requested", requested).Str("using", t).Msg("output type not supported, using default")
	}
	return t
}

func resolveColorSpace(codec Codec, cs ColorSpace, logger zerolog.Logger) ColorSpace {
	if cs == "" {
		return ColorSpaceSRGB
	}
	if codec.SupportsColorSpace(cs) {
		return cs
	}
	logger.Debug().Str("requested", string(cs)).Msg("color space not supported, using srgb")
	return ColorSpaceSRGB
}
