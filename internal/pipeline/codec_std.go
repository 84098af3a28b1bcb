package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelnorm/internal/sniff"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	defaultJPEGQuality = 92
	maxVectorPixels    = 100_000_000
)

// stdCodec is the pure Go codec. Raster input goes through the image package
// registry (jpeg, png, gif, bmp, tiff, webp) with EXIF orientation applied; SVG is
// rasterized with oksvg.
type stdCodec struct{}

func (stdCodec) Decode(ctx context.Context, data []byte, opts DecodeOptions) (Decoded, error) {
	select {
	case <-ctx.Done():
		return Decoded{}, ctx.Err()
	default:
	}

	if len(data) == 0 {
		return Decoded{}, errors.New("empty input")
	}

	switch sniff.Classify(data) {
	case sniff.SVG:
		return decodeSVG(data, opts.VectorScale)
	case sniff.Unknown:
		if isVectorType(opts.DeclaredType) {
			if out, err := decodeSVG(data, opts.VectorScale); err == nil {
				return out, nil
			}
		}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		if errors.Is(err, image.ErrFormat) && bytes.Contains(data, []byte("<svg")) {
			return decodeSVG(data, opts.VectorScale)
		}
		return Decoded{}, fmt.Errorf("decode raster image: %w", err)
	}
	return Decoded{Image: img}, nil
}

func decodeSVG(data []byte, scale float64) (Decoded, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data), oksvg.IgnoreErrorMode)
	if err != nil {
		return Decoded{}, fmt.Errorf("parse svg: %w", err)
	}

	vw, vh := icon.ViewBox.W, icon.ViewBox.H
	if vw <= 0 || vh <= 0 {
		return Decoded{}, fmt.Errorf("svg has no usable viewBox: %w", errEmptyImage)
	}
	if scale <= 0 {
		scale = 1
	}

	width := int(math.Ceil(vw * scale))
	height := int(math.Ceil(vh * scale))
	if width*height > maxVectorPixels {
		return Decoded{}, fmt.Errorf("svg raster size %dx%d exceeds limit", width, height)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	icon.SetTarget(0, 0, float64(width), float64(height))
	scanner := rasterx.NewScannerGV(width, height, dst, dst.Bounds())
	icon.Draw(rasterx.NewDasher(width, height, scanner), 1)

	out := Decoded{Image: dst}
	if scale != 1 {
		out.LogicalWidth = int(math.Ceil(vw))
		out.LogicalHeight = int(math.Ceil(vh))
	}
	return out, nil
}

func (stdCodec) Encode(ctx context.Context, img image.Image, opts EncodeOptions) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	switch canonicalType(opts.MIMEType) {
	case "image/jpeg":
		quality := opts.Quality
		if quality <= 0 || quality > 100 {
			quality = defaultJPEGQuality
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case "image/png":
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case "image/bmp":
		if err := bmp.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode bmp: %w", err)
		}
	case "image/tiff":
		if err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
			return nil, fmt.Errorf("encode tiff: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output type: %s", opts.MIMEType)
	}

	return buf.Bytes(), nil
}

func (stdCodec) Supports(mimeType string) bool {
	switch canonicalType(mimeType) {
	case "image/jpeg", "image/png", "image/bmp", "image/tiff":
		return true
	default:
		return false
	}
}

func (stdCodec) SupportsColorSpace(cs ColorSpace) bool {
	return cs == ColorSpaceSRGB
}
