package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="120" height="60" viewBox="0 0 120 60">` +
	`<rect x="0" y="0" width="120" height="60" fill="#336699"/>` +
	`<circle cx="60" cy="30" r="20" fill="#ffcc00"/>` +
	`</svg>`

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: uint8((x ^ y) & 0xFF),
				A: 255,
			})
		}
	}
	return img
}

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, gradient(w, h)))
	return buf.Bytes()
}

func buildTestJPEG(t testing.TB, w, h int) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradient(w, h), &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func testBitmap(t testing.TB, w, h int) *Bitmap {
	t.Helper()

	bm, err := NewBitmap(gradient(w, h), "image/png")
	require.NoError(t, err)
	return bm
}

func decodeConfig(t testing.TB, data []byte) (image.Config, string) {
	t.Helper()

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg, format
}

func verifyImageWidth(t *testing.T, path string, expected int) {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	cfg, _ := decodeConfig(t, data)
	require.Equal(t, expected, cfg.Width)
}

func testStages(t testing.TB) *Stages {
	t.Helper()

	stages, err := NewStages(stdCodec{}, Config{}, zerolog.Nop())
	require.NoError(t, err)
	return stages
}

// countingCodec records how often each codec operation runs and can be made to fail.
type countingCodec struct {
	Codec
	decodes   atomic.Int32
	encodes   atomic.Int32
	failWith  error
	colorP3   bool
	lastColor atomic.Value
}

func newCountingCodec() *countingCodec {
	return &countingCodec{Codec: stdCodec{}}
}

func (c *countingCodec) Decode(ctx context.Context, data []byte, opts DecodeOptions) (Decoded, error) {
	c.decodes.Add(1)
	return c.Codec.Decode(ctx, data, opts)
}

func (c *countingCodec) Encode(ctx context.Context, img image.Image, opts EncodeOptions) ([]byte, error) {
	c.encodes.Add(1)
	c.lastColor.Store(opts.ColorSpace)
	if c.failWith != nil {
		return nil, c.failWith
	}
	return c.Codec.Encode(ctx, img, opts)
}

func (c *countingCodec) SupportsColorSpace(cs ColorSpace) bool {
	if cs == ColorSpaceDisplayP3 {
		return c.colorP3
	}
	return c.Codec.SupportsColorSpace(cs)
}
