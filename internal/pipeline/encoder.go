package pipeline

import (
	"context"
	"errors"
	"image/color"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/image/draw"
)

type Encoder struct {
	codec    Codec
	kernel   Kernel
	surfaces *surfacePool
	logger   zerolog.Logger
	tracer   trace.Tracer
}

func NewEncoder(codec Codec, kernel Kernel, logger zerolog.Logger) *Encoder {
	if kernel == "" {
		kernel = KernelCatmullRom
	}
	return &Encoder{
		codec:    codec,
		kernel:   kernel,
		surfaces: newSurfacePool(),
		logger:   logger.With().Str("component", "encoder").Logger(),
		tracer:   otel.Tracer("pixelnorm/pipeline"),
	}
}

// Encode draws img over an opaque white surface of its logical size and returns the
// encoded bytes. Formats without alpha never see an undefined background.
func (e *Encoder) Encode(ctx context.Context, img *Bitmap, spec EncodeSpec) ([]byte, error) {
	if img == nil {
		return nil, errors.New("bitmap is required")
	}

	mimeType := resolveOutputType(e.codec, spec.MIMEType, e.logger)
	cs := resolveColorSpace(e.codec, spec.ColorSpace, e.logger)
	width, height := img.LogicalSize()

	ctx, span := e.tracer.Start(ctx, "pipeline.encode")
	span.SetAttributes(
		attribute.String("image.output_type", mimeType),
		attribute.Int("image.width", width),
		attribute.Int("image.height", height),
	)
	defer span.End()

	s := e.surfaces.acquire(width, height, cs)
	defer s.release()

	s.fill(color.White)
	e.kernel.drawScaled(s.img, img.Image(), draw.Over)

	data, err := e.codec.Encode(ctx, s.img, EncodeOptions{
		MIMEType:   mimeType,
		Quality:    spec.codecQuality(),
		ColorSpace: s.colorSpace,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode failed")
		return nil, &EncodeError{MIMEType: mimeType, Err: err}
	}

	span.SetAttributes(attribute.Int("image.bytes", len(data)))
	return data, nil
}

// OutputType reports the type Encode will produce for a requested type.
func (e *Encoder) OutputType(requested string) string {
	return outputType(e.codec, requested)
}
