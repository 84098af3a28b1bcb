package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelnorm/internal/domain"
	"github.com/dunamismax/pixelnorm/internal/pipeline"
	"github.com/dunamismax/pixelnorm/internal/sizespec"
	"github.com/dunamismax/pixelnorm/internal/sniff"
	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
)

const (
	HeaderImageWidth  = "X-Image-Width"
	HeaderImageHeight = "X-Image-Height"
	HeaderExempt      = "X-Normalize-Exempt"
	HeaderResized     = "X-Normalize-Resized"
)

type normalizeParams struct {
	settings domain.NormalizeSettings
	format   string
	quality  *float64
}

func parseNormalizeParams(r *http.Request, defaults domain.NormalizeSettings) (normalizeParams, error) {
	q := r.URL.Query()
	var p normalizeParams

	if raw := strings.TrimSpace(q.Get("max_dimension")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return p, errors.New("max_dimension must be a positive integer")
		}
		p.settings.MaxDimension = v
	}
	p.settings.SizeThreshold = strings.TrimSpace(q.Get("size_threshold"))
	p.settings.ColorSpace = strings.TrimSpace(q.Get("color_space"))
	if err := p.settings.Validate(); err != nil {
		return p, err
	}
	p.settings = p.settings.WithDefaults(defaults)

	p.format = strings.TrimSpace(q.Get("format"))
	if raw := strings.TrimSpace(q.Get("quality")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			return p, errors.New("quality must be within [0,1]")
		}
		p.quality = pipeline.Quality(v)
	}
	return p, nil
}

// declaredType prefers the request's Content-Type and falls back to the body's
// leading bytes when the client sent none or a generic one.
func declaredType(r *http.Request, body []byte) string {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil && mediaType != "application/octet-stream" {
			return mediaType
		}
	}
	return sniff.Classify(body).MIMEType()
}

// handleNormalize runs the load-and-normalize operation on the request body and
// streams the encoded result back.
func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "api.normalize")
	defer span.End()

	params, err := parseNormalizeParams(r, s.defaults)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cs, err := pipeline.ParseColorSpace(params.settings.ColorSpace)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "image exceeds "+humanize.IBytes(uint64(s.maxUploadBytes)))
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "request body is empty")
		return
	}

	file := pipeline.File{Name: "upload", Type: declaredType(r, body), Data: body}
	span.SetAttributes(
		attribute.String("image.declared_type", file.Type),
		attribute.Int("image.source_bytes", len(body)),
	)

	res, err := s.stages.Normalizer.Normalize(ctx, file, params.settings.MaxDimension, params.settings.SizeThreshold)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	rendered, err := s.stages.Render(ctx, file, res, pipeline.EncodeSpec{
		MIMEType:   params.format,
		Quality:    params.quality,
		ColorSpace: cs,
	})
	if err != nil {
		s.writePipelineError(w, err)
		return
	}

	width, height := res.Bitmap.LogicalSize()
	s.metrics.normalizeResults.WithLabelValues(normalizeOutcome(res)).Inc()

	w.Header().Set("Content-Type", rendered.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(rendered.Data)))
	w.Header().Set(HeaderImageWidth, strconv.Itoa(width))
	w.Header().Set(HeaderImageHeight, strconv.Itoa(height))
	w.Header().Set(HeaderExempt, strconv.FormatBool(res.Exempt))
	w.Header().Set(HeaderResized, strconv.FormatBool(res.Resized))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rendered.Data)
}

func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sizespec.ErrInvalidSize):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrDecode):
		s.metrics.normalizeResults.WithLabelValues("decode_error").Inc()
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, pipeline.ErrEncode):
		s.metrics.normalizeResults.WithLabelValues("encode_error").Inc()
		s.logger.Error().Err(err).Msg("encode failed")
		writeError(w, http.StatusInternalServerError, "failed to encode image")
	default:
		s.logger.Error().Err(err).Msg("normalize failed")
		writeError(w, http.StatusInternalServerError, "failed to normalize image")
	}
}

func normalizeOutcome(res pipeline.Result) string {
	switch {
	case res.Exempt:
		return "exempt"
	case res.Resized:
		return "resized"
	default:
		return "unchanged"
	}
}
