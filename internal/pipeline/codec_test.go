package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalType(t *testing.T) {
	tests := map[string]string{
		"image/jpeg":               "image/jpeg",
		"JPG":                      "image/jpeg",
		"image/png; charset=utf-8": "image/png",
		"webp":                     "image/webp",
		"image/svg+xml":            "image/svg+xml",
		"svg":                      "image/svg+xml",
		"tif":                      "image/tiff",
		"image/x-ms-bmp":           "image/bmp",
		"":                         "",
		"application/pdf":          "",
	}
	for in, want := range tests {
		assert.Equal(t, want, canonicalType(in), in)
	}
}

func TestOutputTypeFallsBackToPNG(t *testing.T) {
	codec := stdCodec{}

	assert.Equal(t, "image/jpeg", outputType(codec, "jpeg"))
	assert.Equal(t, "image/png", outputType(codec, "image/webp"))
	assert.Equal(t, "image/png", outputType(codec, "image/svg+xml"))
	assert.Equal(t, "image/png", outputType(codec, ""))
}

func TestExtensionForType(t *testing.T) {
	assert.Equal(t, "jpg", extensionForType("image/jpeg"))
	assert.Equal(t, "svg", extensionForType("image/svg+xml"))
	assert.Equal(t, "png", extensionForType("application/octet-stream"))
}

func TestStdCodecDecodeRaster(t *testing.T) {
	codec := stdCodec{}

	out, err := codec.Decode(context.Background(), buildTestPNG(t, 64, 32), DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 32), out.Image.Bounds())
	assert.Zero(t, out.LogicalWidth)

	out, err = codec.Decode(context.Background(), buildTestJPEG(t, 30, 50), DecodeOptions{DeclaredType: "image/jpeg"})
	require.NoError(t, err)
	assert.Equal(t, 30, out.Image.Bounds().Dx())
	assert.Equal(t, 50, out.Image.Bounds().Dy())
}

func TestStdCodecDecodeSVG(t *testing.T) {
	codec := stdCodec{}

	out, err := codec.Decode(context.Background(), []byte(testSVG), DecodeOptions{VectorScale: 1})
	require.NoError(t, err)
	assert.Equal(t, 120, out.Image.Bounds().Dx())
	assert.Equal(t, 60, out.Image.Bounds().Dy())
	assert.Zero(t, out.LogicalWidth)

	_, _, _, a := out.Image.At(60, 30).RGBA()
	assert.NotZero(t, a, "shapes are rasterized")

	scaled, err := codec.Decode(context.Background(), []byte(testSVG), DecodeOptions{VectorScale: 2})
	require.NoError(t, err)
	assert.Equal(t, 240, scaled.Image.Bounds().Dx())
	assert.Equal(t, 120, scaled.LogicalWidth)
	assert.Equal(t, 60, scaled.LogicalHeight)
}

func TestStdCodecDecodeSVGWithXMLProlog(t *testing.T) {
	data := []byte(`<?xml version="1.0"?>` + "\n" + testSVG)

	out, err := stdCodec{}.Decode(context.Background(), data, DecodeOptions{DeclaredType: "image/svg+xml"})
	require.NoError(t, err)
	assert.Equal(t, 120, out.Image.Bounds().Dx())
}

func TestStdCodecDecodeErrors(t *testing.T) {
	codec := stdCodec{}

	_, err := codec.Decode(context.Background(), nil, DecodeOptions{})
	require.Error(t, err)

	_, err = codec.Decode(context.Background(), []byte("definitely not an image"), DecodeOptions{})
	require.Error(t, err)

	truncated := buildTestPNG(t, 32, 32)
	_, err = codec.Decode(context.Background(), truncated[:len(truncated)/2], DecodeOptions{})
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = codec.Decode(ctx, buildTestPNG(t, 4, 4), DecodeOptions{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestStdCodecEncodeFormats(t *testing.T) {
	codec := stdCodec{}
	img := gradient(16, 8)

	for _, mimeType := range []string{"image/jpeg", "image/png", "image/bmp", "image/tiff"} {
		t.Run(mimeType, func(t *testing.T) {
			require.True(t, codec.Supports(mimeType))

			data, err := codec.Encode(context.Background(), img, EncodeOptions{MIMEType: mimeType})
			require.NoError(t, err)

			cfg, _ := decodeConfig(t, data)
			assert.Equal(t, 16, cfg.Width)
			assert.Equal(t, 8, cfg.Height)
		})
	}

	_, err := codec.Encode(context.Background(), img, EncodeOptions{MIMEType: "image/webp"})
	require.Error(t, err)
	assert.False(t, codec.Supports("image/webp"))
}

func TestStdCodecJPEGQuality(t *testing.T) {
	codec := stdCodec{}
	img := gradient(128, 128)

	low, err := codec.Encode(context.Background(), img, EncodeOptions{MIMEType: "image/jpeg", Quality: 10})
	require.NoError(t, err)
	high, err := codec.Encode(context.Background(), img, EncodeOptions{MIMEType: "image/jpeg", Quality: 95})
	require.NoError(t, err)

	assert.Less(t, len(low), len(high))
}

func TestStdCodecColorSpaces(t *testing.T) {
	assert.True(t, stdCodec{}.SupportsColorSpace(ColorSpaceSRGB))
	assert.False(t, stdCodec{}.SupportsColorSpace(ColorSpaceDisplayP3))
}

func TestStdCodecPreservesAlphaInPNG(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.NRGBA{R: 255, A: 128})

	data, err := stdCodec{}.Encode(context.Background(), img, EncodeOptions{MIMEType: "image/png"})
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	_, _, _, a := decoded.At(1, 1).RGBA()
	assert.Zero(t, a)
}
