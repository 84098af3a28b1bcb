package pipeline

import (
	"context"
	"fmt"

	"github.com/dunamismax/pixelnorm/internal/sizespec"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Result is the outcome of Normalize. Exempt is set when a small vector input was
// returned as decoded, without resizing.
type Result struct {
	Bitmap  *Bitmap
	Exempt  bool
	Resized bool
}

// Normalizer composes Loader and Resizer into the load-and-normalize operation. It
// holds no per-call state and is safe for concurrent use.
type Normalizer struct {
	loader         *Loader
	resizer        *Resizer
	colorSpace     ColorSpace
	parseThreshold func(string) (int64, error)
	logger         zerolog.Logger
	tracer         trace.Tracer
}

func NewNormalizer(loader *Loader, resizer *Resizer, cs ColorSpace, logger zerolog.Logger) *Normalizer {
	if cs == "" {
		cs = ColorSpaceSRGB
	}
	return &Normalizer{
		loader:         loader,
		resizer:        resizer,
		colorSpace:     cs,
		parseThreshold: sizespec.Parse,
		logger:         logger.With().Str("component", "normalizer").Logger(),
		tracer:         otel.Tracer("pixelnorm/pipeline"),
	}
}

// LoadAndNormalize decodes f and caps it to maxDimension. Vector input whose declared
// type mentions svg and whose size is within sizeThreshold is returned as decoded.
// Errors from each stage are returned as they were raised.
func (n *Normalizer) LoadAndNormalize(ctx context.Context, f File, maxDimension int, sizeThreshold string) (*Bitmap, error) {
	res, err := n.Normalize(ctx, f, maxDimension, sizeThreshold)
	if err != nil {
		return nil, err
	}
	return res.Bitmap, nil
}

func (n *Normalizer) Normalize(ctx context.Context, f File, maxDimension int, sizeThreshold string) (Result, error) {
	ctx, span := n.tracer.Start(ctx, "pipeline.normalize")
	span.SetAttributes(
		attribute.String("image.declared_type", f.Type),
		attribute.Int64("image.source_bytes", f.Size()),
		attribute.Int("image.max_dimension", maxDimension),
	)
	defer span.End()

	img, err := n.loader.DecodeFile(ctx, f)
	if err != nil {
		return Result{}, failSpan(span, err, "decode failed")
	}

	threshold, err := n.parseThreshold(sizeThreshold)
	if err != nil {
		return Result{}, failSpan(span, err, "invalid size threshold")
	}

	if f.IsVector() && f.Size() <= threshold {
		n.logger.Debug().
			Str("name", f.Name).
			Int64("bytes", f.Size()).
			Int64("threshold", threshold).
			Msg("vector input under threshold, skipping resize")
		span.SetAttributes(attribute.Bool("image.exempt", true))
		return Result{Bitmap: img, Exempt: true}, nil
	}

	out, err := n.resizer.Resize(ctx, img, f.Type, maxDimension, n.colorSpace)
	if err != nil {
		return Result{}, failSpan(span, err, "resize failed")
	}

	span.SetAttributes(
		attribute.Int("image.width", out.Width()),
		attribute.Int("image.height", out.Height()),
	)
	return Result{Bitmap: out, Resized: out != img}, nil
}

// NormalizeSource reads src and normalizes it. Read failures are *DecodeError.
func (n *Normalizer) NormalizeSource(ctx context.Context, src Source, maxDimension int, sizeThreshold string) (File, Result, error) {
	f, err := src.Read(ctx)
	if err != nil {
		return File{}, Result{}, &DecodeError{Source: describeSource(src), Err: err}
	}
	res, err := n.Normalize(ctx, f, maxDimension, sizeThreshold)
	return f, res, err
}

func failSpan(span trace.Span, err error, msg string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return err
}

// Config selects codec-independent pipeline settings.
type Config struct {
	Kernel      string
	ColorSpace  string
	VectorScale float64
	Loader      LoaderConfig
}

// Stages bundles the pipeline components that share one codec.
type Stages struct {
	Loader     *Loader
	Resizer    *Resizer
	Encoder    *Encoder
	Normalizer *Normalizer
}

func NewStages(codec Codec, cfg Config, logger zerolog.Logger) (*Stages, error) {
	kernel, err := ParseKernel(cfg.Kernel)
	if err != nil {
		return nil, err
	}
	cs, err := ParseColorSpace(cfg.ColorSpace)
	if err != nil {
		return nil, err
	}
	if codec == nil {
		return nil, fmt.Errorf("codec is required")
	}

	loaderCfg := cfg.Loader
	if loaderCfg.VectorScale == 0 {
		loaderCfg.VectorScale = cfg.VectorScale
	}

	loader := NewLoader(codec, loaderCfg, logger)
	resizer := NewResizer(codec, kernel, logger)
	return &Stages{
		Loader:     loader,
		Resizer:    resizer,
		Encoder:    NewEncoder(codec, kernel, logger),
		Normalizer: NewNormalizer(loader, resizer, cs, logger),
	}, nil
}

// CodecName reports which codec DefaultCodec returns in this build.
func CodecName() string {
	return codecName()
}
