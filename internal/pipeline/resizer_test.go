package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResizerIdentityBelowMaxDimension(t *testing.T) {
	codec := newCountingCodec()
	resizer := NewResizer(codec, KernelCatmullRom, zerolog.Nop())
	src := testBitmap(t, 640, 480)

	out, err := resizer.Resize(context.Background(), src, "image/png", 1000, ColorSpaceSRGB)
	require.NoError(t, err)
	assert.Same(t, src, out)
	assert.Zero(t, codec.encodes.Load())
}

func TestResizerScalesLongerSide(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		max           int
		wantW, wantH  int
	}{
		{name: "landscape", width: 4000, height: 2000, max: 1000, wantW: 1000, wantH: 500},
		{name: "portrait", width: 300, height: 900, max: 300, wantW: 100, wantH: 300},
		{name: "square", width: 512, height: 512, max: 128, wantW: 128, wantH: 128},
		{name: "equal to max is re-rendered", width: 200, height: 100, max: 200, wantW: 200, wantH: 100},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resizer := NewResizer(stdCodec{}, KernelBilinear, zerolog.Nop())
			src := testBitmap(t, tc.width, tc.height)

			out, err := resizer.Resize(context.Background(), src, "image/jpeg", tc.max, ColorSpaceSRGB)
			require.NoError(t, err)
			assert.NotSame(t, src, out)
			assert.Equal(t, tc.wantW, out.Width())
			assert.Equal(t, tc.wantH, out.Height())
			assert.Equal(t, "image/jpeg", out.SourceType())
			assert.Zero(t, out.OrgWidth())
		})
	}
}

func TestResizerFallsBackForUnsupportedTypes(t *testing.T) {
	codec := newCountingCodec()
	codec.colorP3 = false
	resizer := NewResizer(codec, KernelCatmullRom, zerolog.Nop())

	out, err := resizer.Resize(context.Background(), testBitmap(t, 100, 50), "image/svg+xml", 10, ColorSpaceDisplayP3)
	require.NoError(t, err)
	assert.Equal(t, "image/png", out.SourceType())
	assert.Equal(t, ColorSpaceSRGB, codec.lastColor.Load())
}

func TestResizerEncodeFailure(t *testing.T) {
	codec := newCountingCodec()
	codec.failWith = errors.New("codec refused")
	resizer := NewResizer(codec, KernelCatmullRom, zerolog.Nop())

	out, err := resizer.Resize(context.Background(), testBitmap(t, 100, 50), "image/png", 10, ColorSpaceSRGB)
	require.Nil(t, out)
	var encodeErr *EncodeError
	require.ErrorAs(t, err, &encodeErr)
	assert.Equal(t, "image/png", encodeErr.MIMEType)
	require.ErrorIs(t, err, ErrEncode)
}

func TestResizerRejectsBadArguments(t *testing.T) {
	resizer := NewResizer(stdCodec{}, "", zerolog.Nop())

	_, err := resizer.Resize(context.Background(), nil, "image/png", 10, ColorSpaceSRGB)
	require.Error(t, err)

	_, err = resizer.Resize(context.Background(), testBitmap(t, 4, 4), "image/png", 0, ColorSpaceSRGB)
	require.Error(t, err)
}
