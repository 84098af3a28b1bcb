//go:build govips && cgo

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/davidbyttow/govips/v2/vips"
)

const svgBaseDensity = 72

// govipsCodec decodes and encodes through libvips. Pixels cross the boundary as
// uncompressed PNG so the rest of the pipeline keeps working on image.Image.
type govipsCodec struct{}

func (c govipsCodec) Decode(ctx context.Context, data []byte, opts DecodeOptions) (Decoded, error) {
	select {
	case <-ctx.Done():
		return Decoded{}, ctx.Err()
	default:
	}

	params := vips.NewImportParams()
	params.AutoRotate.Set(true)
	params.FailOnError.Set(true)

	vector := vips.DetermineImageType(data) == vips.ImageTypeSVG
	scale := opts.VectorScale
	if scale <= 0 {
		scale = 1
	}
	if vector && scale != 1 {
		params.Density.Set(int(math.Round(svgBaseDensity * scale)))
	}

	ref, err := vips.LoadImageFromBuffer(data, params)
	if err != nil {
		return Decoded{}, fmt.Errorf("vips load: %w", err)
	}
	defer ref.Close()

	raw, _, err := ref.ExportPng(&vips.PngExportParams{Compression: 0, StripMetadata: true})
	if err != nil {
		return Decoded{}, fmt.Errorf("vips export pixels: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return Decoded{}, fmt.Errorf("read vips pixels: %w", err)
	}

	out := Decoded{Image: img}
	if vector && scale != 1 {
		out.LogicalWidth = int(math.Ceil(float64(ref.Width()) / scale))
		out.LogicalHeight = int(math.Ceil(float64(ref.Height()) / scale))
	}
	return out, nil
}

func (c govipsCodec) Encode(ctx context.Context, img image.Image, opts EncodeOptions) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var raw bytes.Buffer
	if err := (&png.Encoder{CompressionLevel: png.NoCompression}).Encode(&raw, img); err != nil {
		return nil, fmt.Errorf("stage pixels: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(raw.Bytes())
	if err != nil {
		return nil, fmt.Errorf("vips load pixels: %w", err)
	}
	defer ref.Close()

	return exportGovipsImage(ref, canonicalType(opts.MIMEType), opts.Quality)
}

func (govipsCodec) Supports(mimeType string) bool {
	switch canonicalType(mimeType) {
	case "image/jpeg", "image/png", "image/webp":
		return true
	default:
		return false
	}
}

func (govipsCodec) SupportsColorSpace(cs ColorSpace) bool {
	return cs == ColorSpaceSRGB
}

func exportGovipsImage(img *vips.ImageRef, mimeType string, quality int) ([]byte, error) {
	switch mimeType {
	case "image/jpeg":
		params := vips.NewJpegExportParams()
		params.Quality = defaultJPEGQuality
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case "image/png":
		data, _, err := img.ExportPng(vips.NewPngExportParams())
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case "image/webp":
		params := vips.NewWebpExportParams()
		if quality > 0 && quality <= 100 {
			params.Quality = quality
		}
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported output type: %s", mimeType)
	}
}
