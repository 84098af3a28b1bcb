package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderDecodeBytes(t *testing.T) {
	loader := NewLoader(stdCodec{}, LoaderConfig{}, zerolog.Nop())

	bm, err := loader.DecodeBytes(context.Background(), buildTestPNG(t, 30, 20), "image/png")
	require.NoError(t, err)
	assert.Equal(t, 30, bm.Width())
	assert.Equal(t, 20, bm.Height())
	assert.Equal(t, "image/png", bm.SourceType())
}

func TestLoaderDecodeFailuresAreDecodeErrors(t *testing.T) {
	loader := NewLoader(stdCodec{}, LoaderConfig{}, zerolog.Nop())

	_, err := loader.DecodeBytes(context.Background(), []byte{0xFF, 0x00, 0x01}, "image/jpeg")
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	require.ErrorIs(t, err, ErrDecode)

	_, err = loader.Decode(context.Background(), FileSource{Path: filepath.Join(t.TempDir(), "nope.png")})
	require.ErrorAs(t, err, &decodeErr)
	assert.Contains(t, decodeErr.Source, "nope.png")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoaderVectorScaleKeepsLogicalSize(t *testing.T) {
	loader := NewLoader(stdCodec{}, LoaderConfig{VectorScale: 2}, zerolog.Nop())

	bm, err := loader.DecodeBytes(context.Background(), []byte(testSVG), "image/svg+xml")
	require.NoError(t, err)
	assert.Equal(t, 240, bm.Width())
	w, h := bm.LogicalSize()
	assert.Equal(t, 120, w)
	assert.Equal(t, 60, h)
}

func TestLoaderFetchFromURL(t *testing.T) {
	data := buildTestPNG(t, 12, 6)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/img.png" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	loader := NewLoader(stdCodec{}, LoaderConfig{HTTPClient: srv.Client()}, zerolog.Nop())

	bm, err := loader.FetchFromURL(context.Background(), srv.URL+"/img.png")
	require.NoError(t, err)
	assert.Equal(t, 12, bm.Width())

	_, err = loader.FetchFromURL(context.Background(), srv.URL+"/broken")
	require.ErrorIs(t, err, ErrDecode, "network failures surface as decode errors")
}
