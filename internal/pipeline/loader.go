package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type LoaderConfig struct {
	// VectorScale rasterizes SVG input at a multiple of its natural size; the natural
	// size is kept as the bitmap's logical size.
	VectorScale    float64
	HTTPClient     *http.Client
	MaxSourceBytes int64
}

// Loader turns byte sources into bitmaps. Every failure, including read and network
// failures, is a *DecodeError. Nothing is retried.
type Loader struct {
	codec          Codec
	vectorScale    float64
	httpClient     *http.Client
	maxSourceBytes int64
	logger         zerolog.Logger
}

func NewLoader(codec Codec, cfg LoaderConfig, logger zerolog.Logger) *Loader {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	scale := cfg.VectorScale
	if scale <= 0 {
		scale = 1
	}
	return &Loader{
		codec:          codec,
		vectorScale:    scale,
		httpClient:     client,
		maxSourceBytes: cfg.MaxSourceBytes,
		logger:         logger.With().Str("component", "loader").Logger(),
	}
}

func (l *Loader) Decode(ctx context.Context, src Source) (*Bitmap, error) {
	f, err := src.Read(ctx)
	if err != nil {
		return nil, &DecodeError{Source: describeSource(src), Err: err}
	}
	return l.DecodeFile(ctx, f)
}

func (l *Loader) FetchFromURL(ctx context.Context, url string) (*Bitmap, error) {
	return l.Decode(ctx, URLSource{URL: url, Client: l.httpClient, MaxBytes: l.maxSourceBytes})
}

func (l *Loader) DecodeBytes(ctx context.Context, data []byte, declaredType string) (*Bitmap, error) {
	return l.DecodeFile(ctx, File{Type: declaredType, Data: data})
}

func (l *Loader) DecodeFile(ctx context.Context, f File) (*Bitmap, error) {
	decoded, err := l.codec.Decode(ctx, f.Data, DecodeOptions{
		DeclaredType: f.Type,
		VectorScale:  l.vectorScale,
	})
	if err != nil {
		return nil, &DecodeError{Source: f.Name, Err: err}
	}

	bm, err := NewBitmap(decoded.Image, f.Type)
	if err != nil {
		return nil, &DecodeError{Source: f.Name, Err: err}
	}
	if decoded.LogicalWidth > 0 && decoded.LogicalHeight > 0 {
		bm = bm.WithLogicalSize(decoded.LogicalWidth, decoded.LogicalHeight)
	}

	l.logger.Debug().
		Str("name", f.Name).
		Str("declared_type", f.Type).
		Int("bytes", len(f.Data)).
		Int("width", bm.Width()).
		Int("height", bm.Height()).
		Msg("decoded source")
	return bm, nil
}

func describeSource(src Source) string {
	switch s := src.(type) {
	case FileSource:
		return s.Path
	case URLSource:
		return s.URL
	case ObjectSource:
		return s.Key
	case BytesSource:
		return s.Name
	default:
		return fmt.Sprintf("%T", src)
	}
}
